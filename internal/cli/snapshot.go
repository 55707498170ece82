package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <path>",
	Short: "Write a point-in-time snapshot of the indexes",
	Args:  cobra.ExactArgs(1),
	RunE:  runSnapshot,
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	eng, led, _, err := openEngine(cmd.Context(), logger, false)
	if err != nil {
		return err
	}
	defer led.Close()

	if err := eng.PersistSnapshot(args[0]); err != nil {
		return err
	}
	fmt.Printf("snapshot written to %s\n", args[0])
	return nil
}
