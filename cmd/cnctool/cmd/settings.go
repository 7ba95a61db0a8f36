package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/roffe/gocnc"
	"github.com/spf13/cobra"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "print controller settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		sub := c.Subscribe(gocnc.EventTypeSettingsDownloaded)
		defer sub.Close()
		if err := c.QuerySettings(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		e, err := sub.WaitFor(ctx, gocnc.EventTypeSettingsDownloaded)
		if err != nil {
			return err
		}
		for _, s := range e.(gocnc.SettingsEvent).Settings {
			fmt.Printf("%-6s %s", yellow(s.Key), s.Value)
			if s.Comment != "" {
				fmt.Printf(" (%s)", s.Comment)
			}
			fmt.Println()
		}
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <$n=value>...",
	Short: "write settings to the controller",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		sub := c.Subscribe(gocnc.EventTypeJobCompleted, gocnc.EventTypeError, gocnc.EventTypeProcessedCommand)
		defer sub.Close()
		if err := c.UploadSettings(args); err != nil {
			return err
		}
		for {
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case e, ok := <-sub.Chan():
				if !ok {
					return fmt.Errorf("connection lost: %w", c.Err())
				}
				switch t := e.(type) {
				case gocnc.ProcessedCommandEvent:
					fmt.Println(green("ok"), t.Command)
				case gocnc.ErrorEvent:
					return t.Err
				case gocnc.JobCompletedEvent:
					log.Infof("wrote %d settings", t.Lines)
					return nil
				}
			}
		}
	},
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
