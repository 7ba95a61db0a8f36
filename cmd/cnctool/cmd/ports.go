package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/roffe/gocnc"
	"github.com/spf13/cobra"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "list serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := gocnc.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("no serial ports found")
			return nil
		}
		for _, p := range ports {
			if p.IsUSB {
				fmt.Printf("%s %s\n", green(p.Name), p.String()[len(p.Name)+1:])
				continue
			}
			fmt.Println(p.Name)
		}
		return nil
	},
}

var green = color.New(color.FgGreen).SprintFunc()

func init() {
	rootCmd.AddCommand(portsCmd)
}
