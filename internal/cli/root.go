// Package cli implements the engram command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Hybrid retrieval and decay engine for agent memory",
	Long: "Engram indexes memory fragments in a vector graph and a BM25 index,\n" +
		"fuses both signals at query time, and forgets what stops mattering.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(rebuildCmd)
}
