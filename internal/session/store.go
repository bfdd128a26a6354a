package session

import (
	"context"

	"github.com/google/uuid"
)

// Store is the single source of truth for session state. Mutate is the only
// path that changes status, question index, or the roster; callers never
// compose a read with a separate write.
type Store interface {
	// Create persists a new session. The session's code must already be
	// reserved via ReserveCode.
	Create(ctx context.Context, s *Session) error

	// GetByID returns the session or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)

	// GetByCode resolves a join code. Codes of ended sessions return ErrGone,
	// never-issued codes return ErrNotFound.
	GetByCode(ctx context.Context, code string) (*Session, error)

	// Mutate applies fn to the session under an atomic read-modify-write.
	// fn may be retried under optimistic concurrency, so it must be pure with
	// respect to the passed session. Returning an error aborts the mutation
	// and propagates the error unchanged.
	Mutate(ctx context.Context, id uuid.UUID, fn func(*Session) error) (*Session, error)

	// ReserveCode atomically claims a join code for a session about to be
	// created. It reports false if the code is held by a non-ended session.
	ReserveCode(ctx context.Context, code string, id uuid.UUID) (bool, error)

	// ReleaseCode frees a code once its session ends, making it reusable.
	ReleaseCode(ctx context.Context, code string) error

	// ListLive returns the ids of all non-ended sessions, so progression
	// timers can be resumed after a process restart.
	ListLive(ctx context.Context) ([]uuid.UUID, error)

	// DeleteExpired purges sessions past their expires-at safety valve and
	// returns how many were removed.
	DeleteExpired(ctx context.Context) (int, error)
}
