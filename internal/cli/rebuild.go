package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the indexes from the ledger, ignoring any snapshot",
	Long: "Rebuilds both indexes from the fragment ledger. Use after a corrupt\n" +
		"snapshot or when index tunables changed.",
	RunE: runRebuild,
}

func runRebuild(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	eng, led, cfg, err := openEngine(cmd.Context(), logger, true)
	if err != nil {
		return err
	}
	defer led.Close()

	stats := eng.Stats()
	fmt.Printf("rebuilt %d fragments (%d vector-indexed, %d lexical-indexed)\n",
		stats.ActiveFragments, stats.VectorIndexed, stats.LexicalIndexed)

	if cfg.Snapshot.Path != "" {
		if err := eng.PersistSnapshot(cfg.Snapshot.Path); err != nil {
			return err
		}
		fmt.Printf("snapshot refreshed at %s\n", cfg.Snapshot.Path)
	}
	return nil
}
