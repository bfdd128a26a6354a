package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScoreIncorrectAlwaysZero(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	assert.Equal(t, 0, engine.Score(false, 1000, 1*time.Second, 20*time.Second))
	assert.Equal(t, 0, engine.Score(false, 1000, 19*time.Second, 20*time.Second))
}

func TestScoreDecaysLinearlyWithElapsedTime(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	// Instant answer earns full points.
	assert.Equal(t, 1000, engine.Score(true, 1000, 0, 20*time.Second))

	// 5s into a 20s window: 1 - 5/20 = 0.75.
	assert.Equal(t, 750, engine.Score(true, 1000, 5*time.Second, 20*time.Second))

	// Halfway: 0.5, exactly at the floor.
	assert.Equal(t, 500, engine.Score(true, 1000, 10*time.Second, 20*time.Second))
}

func TestScoreFloorsAtMinFraction(t *testing.T) {
	engine := NewEngine(Config{MinFraction: 0.5})

	// A correct-but-slow answer still earns half credit.
	assert.Equal(t, 500, engine.Score(true, 1000, 19*time.Second, 20*time.Second))
	assert.Equal(t, 500, engine.Score(true, 1000, 20*time.Second, 20*time.Second))
}

func TestScoreCustomMinFraction(t *testing.T) {
	engine := NewEngine(Config{MinFraction: 0.2})

	assert.Equal(t, 200, engine.Score(true, 1000, 19*time.Second, 20*time.Second))
	// Decay still applies above the floor.
	assert.Equal(t, 750, engine.Score(true, 1000, 5*time.Second, 20*time.Second))
}

func TestScoreRoundsToNearestPoint(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	// 1s into 3s: fraction 2/3 of 100 rounds to 67.
	assert.Equal(t, 67, engine.Score(true, 100, 1*time.Second, 3*time.Second))
}

func TestScoreDegenerateInputs(t *testing.T) {
	engine := NewEngine(DefaultConfig())

	assert.Equal(t, 0, engine.Score(true, 0, time.Second, 20*time.Second))
	// No window means no decay.
	assert.Equal(t, 1000, engine.Score(true, 1000, time.Second, 0))
	// Negative elapsed clamps at full credit rather than overshooting.
	assert.Equal(t, 1000, engine.Score(true, 1000, -time.Second, 20*time.Second))
}

func TestInvalidConfigFallsBackToDefault(t *testing.T) {
	engine := NewEngine(Config{MinFraction: 1.5})

	assert.Equal(t, 500, engine.Score(true, 1000, 19*time.Second, 20*time.Second))
}
