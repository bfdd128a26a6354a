package reporting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/classpulse/livequiz/internal/leaderboard"
)

// PostgresSink persists finalized session records for the reporting
// component. One row per session plus one row per participant result; the
// response history rides along as JSONB so reporting can unpack it at its own
// pace.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresSink creates a sink writing to the session_results tables.
func NewPostgresSink(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresSink {
	return &PostgresSink{
		pool:   pool,
		logger: logger.With().Str("component", "reporting_sink").Logger(),
	}
}

func (s *PostgresSink) Record(ctx context.Context, record leaderboard.FinalRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin reporting tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO session_results (session_id, activity_id, host_id, code, ended_at, participant_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO NOTHING`,
		record.SessionID, record.ActivityID, record.HostID, record.Code, record.EndedAt, len(record.Participants),
	)
	if err != nil {
		return fmt.Errorf("insert session result: %w", err)
	}

	rankByID := make(map[string]int, len(record.Ranking))
	for _, e := range record.Ranking {
		rankByID[e.ParticipantID.String()] = e.Rank
	}

	for _, p := range record.Participants {
		responses, err := json.Marshal(p.Responses)
		if err != nil {
			return fmt.Errorf("marshal responses: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO participant_results (session_id, participant_id, display_name, final_rank, score, responses)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (session_id, participant_id) DO NOTHING`,
			record.SessionID, p.ParticipantID, p.DisplayName, rankByID[p.ParticipantID.String()], p.Score, responses,
		)
		if err != nil {
			return fmt.Errorf("insert participant result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reporting tx: %w", err)
	}

	s.logger.Info().
		Str("session_id", record.SessionID.String()).
		Int("participants", len(record.Participants)).
		Msg("session result recorded")
	return nil
}
