package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evstation/app"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a fleet workbook from arrival and departure statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := app.New(cfg).Generate()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d vehicles written to %s\n", len(rows), cfg.Generator.Output)
		return err
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
