package engine

import (
	"math"
	"time"
)

// Strategy selects how a fragment's raw decay score falls off with age.
type Strategy string

const (
	// StrategyExponential halves the score every HalfLifeDays.
	StrategyExponential Strategy = "exponential"
	// StrategyLinear falls to zero at HalfLifeDays and stays there.
	StrategyLinear Strategy = "linear"
	// StrategyThreshold is a step: full score under ThresholdDays, zero after.
	StrategyThreshold Strategy = "threshold"
)

// DecayConfig tunes the time/usage decay model. Decay scores are derived on
// read from timestamps and counters; they are never persisted as truth.
type DecayConfig struct {
	Strategy         Strategy
	HalfLifeDays     float64       // exponential/linear horizon (default 30)
	ThresholdDays    float64       // threshold strategy cliff (default 30)
	BoostCap         int           // max counted accesses (default 10)
	BoostStep        float64       // boost per access (default 0.1)
	Weight           float64       // decay share of the final score (default 0.2)
	ForgetBelow      float64       // forgetting threshold (default 0.1)
	GracePeriod      time.Duration // below-threshold dwell before age compression (default 7d)
	SimilarityCutoff float64       // mutual-similarity floor for merging (default 0.85)
	BatchSize        int           // archivals per write section (default 64)
}

func (c DecayConfig) withDefaults() DecayConfig {
	if c.Strategy == "" {
		c.Strategy = StrategyExponential
	}
	if c.HalfLifeDays <= 0 {
		c.HalfLifeDays = 30
	}
	if c.ThresholdDays <= 0 {
		c.ThresholdDays = 30
	}
	if c.BoostCap <= 0 {
		c.BoostCap = 10
	}
	if c.BoostStep <= 0 {
		c.BoostStep = 0.1
	}
	if c.Weight <= 0 {
		c.Weight = 0.2
	}
	if c.ForgetBelow <= 0 {
		c.ForgetBelow = 0.1
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 7 * 24 * time.Hour
	}
	if c.SimilarityCutoff <= 0 {
		c.SimilarityCutoff = 0.85
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	return c
}

// rawDecay maps an age in days to [0,1] under the configured strategy.
func (c DecayConfig) rawDecay(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	switch c.Strategy {
	case StrategyLinear:
		return math.Max(0, 1-ageDays/c.HalfLifeDays)
	case StrategyThreshold:
		if ageDays < c.ThresholdDays {
			return 1
		}
		return 0
	default:
		return math.Exp(-math.Ln2 / c.HalfLifeDays * ageDays)
	}
}

// effectiveDecayLocked computes the usage-boosted decay score at time now.
// Heavily accessed fragments decay slower, but the boost cap keeps them from
// becoming permanently immune. The externally supplied relevance hint scales
// the result so low-importance fragments reach the forgetting threshold
// earlier. Caller holds at least the read lock.
func (e *Engine) effectiveDecayLocked(f *Fragment, now time.Time) float64 {
	ageDays := now.Sub(f.lastTouch()).Hours() / 24
	raw := e.cfg.Decay.rawDecay(ageDays)

	counted := float64(f.AccessCount)
	if limit := float64(e.cfg.Decay.BoostCap); counted > limit {
		counted = limit
	}
	boost := 1 + counted*e.cfg.Decay.BoostStep

	hint := f.RelevanceHint
	if hint <= 0 || hint > 1 {
		hint = 1
	}
	return raw * boost * hint
}

// shouldForgetLocked flags a fragment as a consolidation candidate. Strictly
// below the threshold: a fragment sitting exactly on it is kept.
func (e *Engine) shouldForgetLocked(f *Fragment, now time.Time) bool {
	return e.effectiveDecayLocked(f, now) < e.cfg.Decay.ForgetBelow
}
