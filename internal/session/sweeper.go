package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/classpulse/livequiz/internal/metrics"
)

// Sweeper periodically purges sessions past their expires-at safety valve.
// TTLs already bound the Redis documents; the sweep keeps the store tidy for
// backends without native expiry and feeds the expiry metric.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
}

// NewSweeper creates an expiry sweeper. Interval defaults to 10 minutes.
func NewSweeper(svc *Service, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		svc:      svc,
		interval: interval,
		logger:   logger.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// Run sweeps on the configured interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			removed, err := s.svc.DeleteExpired(ctx)
			if err != nil {
				s.logger.Warn().Err(err).Msg("expiry sweep failed")
				continue
			}
			if removed > 0 {
				metrics.SessionsExpired.Add(float64(removed))
				s.logger.Info().Int("removed", removed).Msg("expired sessions purged")
			}
		}
	}
}
