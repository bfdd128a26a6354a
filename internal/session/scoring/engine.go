package scoring

import (
	"math"
	"time"
)

// Config holds the scoring constants. The decay curve is deliberately kept
// behind this type so it can be swapped without touching callers.
type Config struct {
	// MinFraction floors the credit for a correct answer no matter how slow
	// it arrived inside the window. Default: 0.5.
	MinFraction float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{MinFraction: 0.5}
}

// Engine computes per-answer points. Pure and deterministic: the same inputs
// always produce the same score, so replays and recomputation agree.
type Engine struct {
	cfg Config
}

// NewEngine creates a scoring engine with the provided config.
func NewEngine(cfg Config) *Engine {
	if cfg.MinFraction <= 0 || cfg.MinFraction > 1 {
		cfg.MinFraction = DefaultConfig().MinFraction
	}
	return &Engine{cfg: cfg}
}

// Score computes points for one answer.
//   - wrong answer: 0
//   - correct answer: maxPoints scaled by a linear decay over the question
//     window, floored at MinFraction of maxPoints
//
// Late submissions never reach this function; the progression gate rejects
// them before scoring. "Wrong" and "disqualified" are distinct outcomes.
func (e *Engine) Score(correct bool, maxPoints int, elapsed, timeLimit time.Duration) int {
	if !correct || maxPoints <= 0 {
		return 0
	}
	if timeLimit <= 0 {
		return maxPoints
	}

	fraction := 1.0 - float64(elapsed)/float64(timeLimit)
	if fraction < e.cfg.MinFraction {
		fraction = e.cfg.MinFraction
	}
	if fraction > 1.0 {
		fraction = 1.0
	}

	return int(math.Round(float64(maxPoints) * fraction))
}
