package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/roffe/gocnc"
	"github.com/roffe/gocnc/pkg/bar"
	"github.com/spf13/cobra"
)

const (
	flagFrom    = "from"
	flagFeed    = "feed"
	flagSegment = "segment"
)

var streamCmd = &cobra.Command{
	Use:   "stream <filename>",
	Short: "stream a G-code file to the controller",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		from, _ := cmd.Flags().GetInt(flagFrom)
		feed, _ := cmd.Flags().GetFloat64(flagFeed)
		segment, _ := cmd.Flags().GetFloat64(flagSegment)

		c, err := connect(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.LoadFile(args[0]); err != nil {
			return err
		}
		if feed > 0 {
			if err := c.SetFeedOverride(true); err != nil {
				return err
			}
			if err := c.RequestFeed(feed); err != nil {
				return err
			}
		}
		if segment > 0 {
			if err := c.SetSegmentLength(segment); err != nil {
				return err
			}
		}
		snap, err := c.Snapshot()
		if err != nil {
			return err
		}

		sub := c.Subscribe(
			gocnc.EventTypeProcessedCommand,
			gocnc.EventTypeJobCompleted,
			gocnc.EventTypeError,
			gocnc.EventTypeAlarm,
		)
		defer sub.Close()

		pb := bar.Job(snap.Lines, filepath.Base(args[0]))
		pb.Set(from)
		if err := c.StreamStart(from); err != nil {
			return err
		}

		for {
			select {
			case <-ctx.Done():
				log.Warn("aborting job")
				if err := c.Abort(); err != nil {
					return err
				}
				return ctx.Err()
			case e, ok := <-sub.Chan():
				if !ok {
					return fmt.Errorf("connection lost: %w", c.Err())
				}
				switch t := e.(type) {
				case gocnc.ProcessedCommandEvent:
					if t.Line >= 0 {
						pb.Set(t.Line + 1)
					}
				case gocnc.JobCompletedEvent:
					pb.Finish()
					log.Infof("job done, %d lines in %s", t.Lines, t.Elapsed.Round(10*time.Millisecond))
					return nil
				case gocnc.ErrorEvent:
					pb.Exit()
					log.Error(t.Err)
					return t.Err
				case gocnc.AlarmEvent:
					pb.Exit()
					log.Error(t.Alarm)
					return t.Alarm
				}
			}
		}
	},
}

func init() {
	f := streamCmd.Flags()
	f.Int(flagFrom, 0, "job line to start from")
	f.Float64(flagFeed, 0, "override the feed rate of the job")
	f.Float64(flagSegment, 0, "split moves into segments of this length")
	rootCmd.AddCommand(streamCmd)
}
