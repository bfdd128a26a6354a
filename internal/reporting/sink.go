package reporting

import (
	"context"

	"github.com/classpulse/livequiz/internal/leaderboard"
)

// Sink receives the finalized session record exactly once, when the session
// reaches its terminal state. Long-term aggregation and analytics live behind
// this boundary; the engine itself keeps nothing past the session's lifetime.
type Sink interface {
	Record(ctx context.Context, record leaderboard.FinalRecord) error
}

// Discard drops finalized records. Used when no reporting database is
// configured.
type Discard struct{}

func (Discard) Record(context.Context, leaderboard.FinalRecord) error { return nil }
