package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchLimit        int
	searchSemanticOnly bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored fragments",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum results")
	searchCmd.Flags().BoolVar(&searchSemanticOnly, "semantic-only", false, "skip the lexical leg")
}

func runSearch(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	eng, led, _, err := openEngine(cmd.Context(), logger, false)
	if err != nil {
		return err
	}
	defer led.Close()

	query := strings.Join(args, " ")
	resp, err := eng.Search(cmd.Context(), query, searchLimit, searchSemanticOnly)
	if err != nil {
		return err
	}

	if resp.Degraded {
		fmt.Fprintln(os.Stderr, "warning: embedder unavailable, lexical results only")
	}
	if len(resp.Results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, res := range resp.Results {
		text := res.Text
		if len(text) > 120 {
			text = text[:117] + "..."
		}
		fmt.Printf("%2d. [%.3f] %s\n    %s\n", i+1, res.Decayed, res.FragmentID, text)
	}
	return nil
}
