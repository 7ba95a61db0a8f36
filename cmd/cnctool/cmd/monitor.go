package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cirello.io/oversight"
	"github.com/fatih/color"
	"github.com/roffe/gocnc"
	"github.com/spf13/cobra"
)

var (
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "print controller events, reconnecting when the connection drops",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Transport == "serial" && (cfg.Port == "*" || cfg.Port == "") {
			if cfg.Port, err = pickPort(); err != nil {
				return err
			}
		}

		tree := oversight.New(
			oversight.WithRestartStrategy(oversight.OneForOne()),
			oversight.WithRestartIntensity(5, time.Minute),
			oversight.WithLogger(log),
		)
		tree.Add(func(ctx context.Context) error {
			cc := *cfg
			return monitor(ctx, &cc)
		})
		if err := tree.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// monitor prints events until the connection drops. Returning an error
// makes the supervisor reconnect.
func monitor(ctx context.Context, cfg *gocnc.Config) error {
	c, err := connectWith(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	sub := c.Subscribe()
	defer sub.Close()
	var lastState string
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-sub.Chan():
			if !ok {
				return fmt.Errorf("connection lost: %w", c.Err())
			}
			if t, ok := e.(gocnc.StateUpdateEvent); ok {
				if t.Status.State == lastState {
					continue
				}
				lastState = t.Status.State
			}
			printEvent(e)
		}
	}
}

func printEvent(e gocnc.Event) {
	ts := faint(time.Now().Format("15:04:05.000"))
	switch t := e.(type) {
	case gocnc.RXBufferEvent, gocnc.ProgressEvent:
		return
	case gocnc.ErrorEvent:
		fmt.Println(ts, red(t.String()))
	case gocnc.AlarmEvent:
		fmt.Println(ts, red(t.String()))
	case gocnc.DisconnectedEvent:
		fmt.Println(ts, red(t.String()))
	case gocnc.BootEvent:
		fmt.Println(ts, green(t.String()))
	case gocnc.SendCommandEvent:
		fmt.Println(ts, cyan(">>"), t.Command)
	case gocnc.ProcessedCommandEvent:
		fmt.Println(ts, green("ok"), t.Command)
	case gocnc.LogEvent:
		fmt.Println(ts, t.String())
	default:
		fmt.Println(ts, yellow(e.Type().String()), e.String())
	}
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
