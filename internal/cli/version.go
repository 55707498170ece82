package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// VersionString returns the version for display.
func VersionString() string {
	return Version
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the engram version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("engram", VersionString())
	},
}
