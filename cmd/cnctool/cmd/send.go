package cmd

import (
	"strings"
	"time"

	"github.com/roffe/gocnc"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <line>...",
	Short: "send lines ahead of any job and print the responses",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		sub := c.Subscribe(
			gocnc.EventTypeLog,
			gocnc.EventTypeProcessedCommand,
			gocnc.EventTypeError,
			gocnc.EventTypeParserStateUpdate,
			gocnc.EventTypeHashStateUpdate,
			gocnc.EventTypeSettingsDownloaded,
		)
		defer sub.Close()
		go func() {
			for e := range sub.Chan() {
				printEvent(e)
			}
		}()

		if err := c.Command(strings.Join(args, "\n")); err != nil {
			return err
		}
		return drain(cmd, c)
	},
}

// drain waits until the controller acknowledged everything sent.
func drain(cmd *cobra.Command, c *gocnc.Client) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-c.Done():
			return c.Err()
		case <-t.C:
			snap, err := c.Snapshot()
			if err != nil {
				return err
			}
			if len(snap.Errors) > 0 {
				return snap.Errors[0]
			}
			if len(snap.Backlog) == 0 && snap.Pending == nil {
				return nil
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
