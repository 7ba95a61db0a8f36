package cmd

import (
	"github.com/roffe/gocnc"
	"github.com/spf13/cobra"
)

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "run the homing cycle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *gocnc.Client) error {
			if err := c.Home(); err != nil {
				return err
			}
			return drain(cmd, c)
		})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "clear an alarm lock without homing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *gocnc.Client) error {
			if !yesNo("Machine position may be wrong after an alarm, unlock anyway?") {
				return nil
			}
			if err := c.KillAlarm(); err != nil {
				return err
			}
			return drain(cmd, c)
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "soft reset the controller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(c *gocnc.Client) error {
			sub := c.Subscribe(gocnc.EventTypeBoot)
			defer sub.Close()
			if err := c.Abort(); err != nil {
				return err
			}
			e, err := sub.WaitFor(cmd.Context(), gocnc.EventTypeBoot)
			if err != nil {
				return err
			}
			log.Info(e)
			return nil
		})
	},
}

func withClient(cmd *cobra.Command, fn func(*gocnc.Client) error) error {
	c, err := connect(cmd)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func init() {
	rootCmd.AddCommand(homeCmd, unlockCmd, resetCmd)
}
