package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var gendocsCmd = &cobra.Command{
	Use:    "gendocs <dir>",
	Hidden: true,
	Short:  "generate markdown docs",
	Args:   cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "./docs"
		if len(args) == 1 {
			dir = args[0]
		}
		rootCmd.Root().DisableAutoGenTag = true
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		return doc.GenMarkdownTree(rootCmd, dir)
	},
}

func init() {
	rootCmd.AddCommand(gendocsCmd)
}
