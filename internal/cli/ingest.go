package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/engramd/engram/internal/engine"
	"github.com/engramd/engram/internal/ledger"
)

var (
	ingestHint     float64
	ingestMetadata []string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [text]",
	Short: "Store a memory fragment",
	Long:  "Stores a fragment in the ledger and indexes it. Reads from stdin when no text argument is given.",
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().Float64Var(&ingestHint, "hint", 1.0, "relevance hint in (0,1]")
	ingestCmd.Flags().StringArrayVar(&ingestMetadata, "meta", nil, "metadata key=value (repeatable)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) > 0 {
		text = strings.Join(args, " ")
	} else {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(string(raw))
	}
	if text == "" {
		return fmt.Errorf("nothing to ingest")
	}

	meta := make(map[string]string, len(ingestMetadata))
	for _, kv := range ingestMetadata {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("metadata %q is not key=value", kv)
		}
		meta[k] = v
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	eng, led, _, err := openEngine(cmd.Context(), logger, false)
	if err != nil {
		return err
	}
	defer led.Close()

	frag := engine.Fragment{
		ID:            ledger.NewID(),
		Text:          text,
		RelevanceHint: ingestHint,
		Metadata:      meta,
	}
	ctx := cmd.Context()
	if err := led.SaveFragment(ctx, frag); err != nil {
		return err
	}
	if err := eng.Ingest(ctx, frag); err != nil {
		return err
	}

	fmt.Println(frag.ID)
	return nil
}
