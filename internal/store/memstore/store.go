package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/classpulse/livequiz/internal/session"
)

// Store is a mutex-guarded in-memory session store. It backs local
// development and tests; the Redis store is the production implementation.
// The mutex makes every Mutate call a serializing boundary, which is the
// whole contract: concurrent joins and submissions cannot lose updates.
type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session.Session
	codes    map[string]uuid.UUID // live reservations only
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*session.Session),
		codes:    make(map[string]uuid.UUID),
	}
}

func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	if holder, ok := s.codes[sess.Code]; !ok || holder != sess.ID {
		return fmt.Errorf("code %s not reserved for session %s", sess.Code, sess.ID)
	}
	s.sessions[sess.ID] = clone(sess)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return clone(sess), nil
}

func (s *Store) GetByCode(ctx context.Context, code string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.codes[code]; ok {
		if sess, ok := s.sessions[id]; ok {
			// A mapping can outlive its session if the release failed at
			// session end; an ended session is Gone however it was found.
			if sess.Status == session.StatusEnded {
				return nil, session.ErrGone
			}
			return clone(sess), nil
		}
	}

	// No live reservation: the code either belonged to a finished session
	// (Gone, so clients can say "quiz over") or was never issued (NotFound).
	for _, sess := range s.sessions {
		if sess.Code == code && sess.Status == session.StatusEnded {
			return nil, session.ErrGone
		}
	}
	return nil, session.ErrNotFound
}

func (s *Store) Mutate(ctx context.Context, id uuid.UUID, fn func(*session.Session) error) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}

	next := clone(sess)
	if err := fn(next); err != nil {
		return nil, err
	}
	s.sessions[id] = next
	return clone(next), nil
}

func (s *Store) ReserveCode(ctx context.Context, code string, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.codes[code]; held {
		return false, nil
	}
	s.codes[code] = id
	return true, nil
}

func (s *Store) ReleaseCode(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.codes, code)
	return nil
}

func (s *Store) ListLive(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if sess.Status != session.StatusEnded {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			if holder, ok := s.codes[sess.Code]; ok && holder == id {
				delete(s.codes, sess.Code)
			}
			removed++
		}
	}
	return removed, nil
}

// clone deep-copies a session through its JSON form, the same shape the
// Redis store round-trips. Callers therefore never share slices with the
// store's own copy.
func clone(sess *session.Session) *session.Session {
	data, err := json.Marshal(sess)
	if err != nil {
		panic(fmt.Sprintf("memstore: marshal session: %v", err))
	}
	out := &session.Session{}
	if err := json.Unmarshal(data, out); err != nil {
		panic(fmt.Sprintf("memstore: unmarshal session: %v", err))
	}
	return out
}
