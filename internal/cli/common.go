package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/engramd/engram/internal/config"
	"github.com/engramd/engram/internal/engine"
	"github.com/engramd/engram/internal/ledger"
)

// buildEmbedder picks an embedding provider from configuration. Returns nil
// when none is reachable; the engine then runs lexical-only until one
// appears.
func buildEmbedder(cfg *config.Config) engine.Embedder {
	var emb engine.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		key := cfg.Embedding.OpenAIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			fmt.Fprintln(os.Stderr, "warning: openai embedder selected but no api key set")
			return nil
		}
		emb = engine.NewOpenAIEmbedder(key, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	case "none":
		return nil
	default:
		if !engine.ProbeOllama(cfg.Embedding.OllamaURL, cfg.Embedding.Model) {
			fmt.Fprintf(os.Stderr, "warning: ollama not reachable at %s, running lexical-only\n", cfg.Embedding.OllamaURL)
			return nil
		}
		emb = engine.NewOllamaEmbedder(cfg.Embedding.OllamaURL, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	}
	return engine.Throttle(emb, cfg.Embedding.RPS)
}

// openEngine loads configuration, opens the ledger and brings up an engine:
// from the configured snapshot when one loads cleanly, otherwise rebuilt
// from the ledger. A corrupt snapshot is reported and falls through to the
// rebuild path rather than serving wrong results.
func openEngine(ctx context.Context, logger *slog.Logger, skipSnapshot bool) (*engine.Engine, *ledger.Ledger, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	dbPath := cfg.Ledger.Path
	if dbPath == "" {
		dbPath, err = ledger.DefaultPath()
		if err != nil {
			return nil, nil, nil, err
		}
	}
	led, err := ledger.Open(dbPath)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := []engine.Option{
		engine.WithRecorder(led),
		engine.WithLogger(logger),
	}
	if emb := buildEmbedder(cfg); emb != nil {
		opts = append(opts, engine.WithEmbedder(emb))
	}
	eng := engine.New(cfg.EngineConfig(), opts...)

	loaded := false
	if !skipSnapshot && cfg.Snapshot.Path != "" {
		if _, statErr := os.Stat(cfg.Snapshot.Path); statErr == nil {
			if err := eng.LoadSnapshot(cfg.Snapshot.Path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: snapshot unusable (%v), rebuilding from ledger\n", err)
			} else {
				loaded = true
			}
		}
	}
	if !loaded {
		frags, err := led.ListActive(ctx)
		if err != nil {
			led.Close()
			return nil, nil, nil, err
		}
		if _, err := eng.Rebuild(ctx, &sliceSource{frags: frags}); err != nil {
			led.Close()
			return nil, nil, nil, err
		}
	}
	return eng, led, cfg, nil
}

// sliceSource adapts a loaded fragment list to engine.FragmentSource.
type sliceSource struct {
	frags []engine.Fragment
	i     int
}

func (s *sliceSource) Next(ctx context.Context) (*engine.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.i >= len(s.frags) {
		return nil, nil
	}
	f := s.frags[s.i]
	s.i++
	return &f, nil
}
