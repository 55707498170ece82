package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge redundant low-signal fragments and archive the forgotten",
	RunE:  runConsolidate,
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	eng, led, cfg, err := openEngine(cmd.Context(), logger, false)
	if err != nil {
		return err
	}
	defer led.Close()

	report, err := eng.RunConsolidationPass(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("merged %d clusters, archived %d fragments\n", report.Merged, report.Archived)

	if cfg.Snapshot.Path != "" {
		if err := eng.PersistSnapshot(cfg.Snapshot.Path); err != nil {
			logger.Warn("snapshot after consolidation", "error", err)
		}
	}
	return nil
}
