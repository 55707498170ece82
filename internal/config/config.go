// Package config loads engram configuration from a YAML file and ENGRAM_*
// environment overrides, with defaults matching the original deployment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/engramd/engram/internal/engine"
	"github.com/engramd/engram/internal/lexical"
	"github.com/engramd/engram/internal/vector"
)

// Config holds all engram configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Index     IndexConfig     `mapstructure:"index"`
	Fusion    FusionConfig    `mapstructure:"fusion"`
	Decay     DecayConfig     `mapstructure:"decay"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind"`
	Port int    `mapstructure:"port"`
}

type LedgerConfig struct {
	Path string `mapstructure:"path"` // empty resolves to ledger.DefaultPath()
}

type EmbeddingConfig struct {
	Provider       string  `mapstructure:"provider"` // "ollama", "openai", "none"
	OllamaURL      string  `mapstructure:"ollama_url"`
	Model          string  `mapstructure:"model"`
	OpenAIKey      string  `mapstructure:"openai_key"`
	Dimensions     int     `mapstructure:"dimensions"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPS            float64 `mapstructure:"rps"` // 0 disables throttling
}

type IndexConfig struct {
	M              int     `mapstructure:"m"`
	MaxM           int     `mapstructure:"max_m"`
	EfConstruction int     `mapstructure:"ef_construction"`
	EfSearch       int     `mapstructure:"ef_search"`
	K1             float64 `mapstructure:"k1"`
	B              float64 `mapstructure:"b"`
}

type FusionConfig struct {
	SemanticWeight float64 `mapstructure:"semantic_weight"`
	LexicalWeight  float64 `mapstructure:"lexical_weight"`
	Oversample     int     `mapstructure:"oversample"`
}

type DecayConfig struct {
	Strategy         string  `mapstructure:"strategy"`
	HalfLifeDays     float64 `mapstructure:"half_life_days"`
	ThresholdDays    float64 `mapstructure:"threshold_days"`
	Weight           float64 `mapstructure:"weight"`
	ForgetBelow      float64 `mapstructure:"forget_below"`
	BoostCap         int     `mapstructure:"boost_cap"`
	GraceDays        float64 `mapstructure:"grace_days"`
	SimilarityCutoff float64 `mapstructure:"similarity_cutoff"`
	BatchSize        int     `mapstructure:"batch_size"`
}

type SnapshotConfig struct {
	Path string `mapstructure:"path"` // empty disables snapshots
}

// Load reads configuration from the optional path plus environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName("engram")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.engram")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind", "127.0.0.1")
	v.SetDefault("server.port", 38080)
	v.SetDefault("ledger.path", "")
	v.SetDefault("snapshot.path", "")
	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.ollama_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.dimensions", 768)
	v.SetDefault("embedding.timeout_seconds", 30)
	v.SetDefault("index.m", 16)
	v.SetDefault("index.max_m", 32)
	v.SetDefault("index.ef_construction", 128)
	v.SetDefault("index.ef_search", 100)
	v.SetDefault("index.k1", 1.5)
	v.SetDefault("index.b", 0.75)
	v.SetDefault("fusion.semantic_weight", 0.6)
	v.SetDefault("fusion.lexical_weight", 0.4)
	v.SetDefault("fusion.oversample", 3)
	v.SetDefault("decay.strategy", "exponential")
	v.SetDefault("decay.half_life_days", 30)
	v.SetDefault("decay.threshold_days", 30)
	v.SetDefault("decay.weight", 0.2)
	v.SetDefault("decay.forget_below", 0.1)
	v.SetDefault("decay.boost_cap", 10)
	v.SetDefault("decay.grace_days", 7)
	v.SetDefault("decay.similarity_cutoff", 0.85)
	v.SetDefault("decay.batch_size", 64)
}

// Validate rejects configurations the engine would misbehave under. These
// surface at startup, never get silently coerced.
func (c *Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return errors.Wrapf(engine.ErrInvalidArgument, "embedding.dimensions %d", c.Embedding.Dimensions)
	}
	if c.Index.M <= 0 || c.Index.MaxM < c.Index.M {
		return errors.Wrapf(engine.ErrInvalidArgument, "index.m %d / index.max_m %d", c.Index.M, c.Index.MaxM)
	}
	if c.Index.K1 <= 0 {
		return errors.Wrapf(engine.ErrInvalidArgument, "index.k1 %v", c.Index.K1)
	}
	if c.Index.B < 0 || c.Index.B > 1 {
		return errors.Wrapf(engine.ErrInvalidArgument, "index.b %v", c.Index.B)
	}
	if c.Fusion.SemanticWeight < 0 || c.Fusion.LexicalWeight < 0 ||
		c.Fusion.SemanticWeight+c.Fusion.LexicalWeight <= 0 {
		return errors.Wrapf(engine.ErrInvalidArgument, "fusion weights %v/%v",
			c.Fusion.SemanticWeight, c.Fusion.LexicalWeight)
	}
	if c.Decay.Weight < 0 || c.Decay.Weight > 1 {
		return errors.Wrapf(engine.ErrInvalidArgument, "decay.weight %v", c.Decay.Weight)
	}
	if c.Decay.ForgetBelow < 0 || c.Decay.ForgetBelow > 1 {
		return errors.Wrapf(engine.ErrInvalidArgument, "decay.forget_below %v", c.Decay.ForgetBelow)
	}
	switch engine.Strategy(c.Decay.Strategy) {
	case engine.StrategyExponential, engine.StrategyLinear, engine.StrategyThreshold:
	default:
		return errors.Wrapf(engine.ErrInvalidArgument, "decay.strategy %q", c.Decay.Strategy)
	}
	return nil
}

// EngineConfig maps the loaded configuration onto the engine's tunables.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Dim: c.Embedding.Dimensions,
		Vector: vector.Config{
			Dim:            c.Embedding.Dimensions,
			M:              c.Index.M,
			MaxM:           c.Index.MaxM,
			EfConstruction: c.Index.EfConstruction,
			EfSearch:       c.Index.EfSearch,
		},
		Lexical: lexical.Config{
			K1: c.Index.K1,
			B:  c.Index.B,
		},
		SemanticWeight: c.Fusion.SemanticWeight,
		LexicalWeight:  c.Fusion.LexicalWeight,
		Oversample:     c.Fusion.Oversample,
		EmbedTimeout:   time.Duration(c.Embedding.TimeoutSeconds) * time.Second,
		Decay: engine.DecayConfig{
			Strategy:         engine.Strategy(c.Decay.Strategy),
			HalfLifeDays:     c.Decay.HalfLifeDays,
			ThresholdDays:    c.Decay.ThresholdDays,
			Weight:           c.Decay.Weight,
			ForgetBelow:      c.Decay.ForgetBelow,
			BoostCap:         c.Decay.BoostCap,
			GracePeriod:      time.Duration(c.Decay.GraceDays * 24 * float64(time.Hour)),
			SimilarityCutoff: c.Decay.SimilarityCutoff,
			BatchSize:        c.Decay.BatchSize,
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
