package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the perps CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("perps version %s\n", version)
		fmt.Println("Per-symbol futures position reconciliation engine")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
