package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramd/engram/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	eng, led, cfg, err := openEngine(cmd.Context(), logger, false)
	if err != nil {
		return err
	}
	defer led.Close()

	// Backfill embeddings for fragments ingested while no embedder was
	// reachable. Runs off the serve path; failures only delay semantic
	// coverage, lexical search is unaffected.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if n, err := eng.EmbedMissing(ctx); err != nil {
			logger.Warn("embed missing", "error", err)
		} else if n > 0 {
			logger.Info("embedded missing fragments", "count", n)
		}
	}()

	srv := server.New(eng, led, logger, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		stats := eng.Stats()
		fmt.Fprintf(os.Stderr, "engram serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", led.Path)
		fmt.Fprintf(os.Stderr, "  fragments: %d active\n", stats.ActiveFragments)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if cfg.Snapshot.Path != "" {
		if err := eng.PersistSnapshot(cfg.Snapshot.Path); err != nil {
			logger.Warn("final snapshot", "error", err)
		}
	}

	return httpServer.Shutdown(ctx)
}
