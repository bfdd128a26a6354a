package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classpulse/livequiz/internal/session"
)

const (
	sessionKeyPrefix   = "livequiz:session:"
	codeKeyPrefix      = "livequiz:code:"
	endedCodeKeyPrefix = "livequiz:code:ended:"

	// mutateRetries bounds the optimistic-concurrency loop. Contention on a
	// single session is brief (host command vs participant submissions), so
	// a handful of retries is plenty.
	mutateRetries = 10
)

// Store keeps each session as one JSON document in Redis. Mutate runs a
// WATCH/MULTI optimistic transaction on the document, which makes it the
// serializing boundary required of the engine: no caller can interleave a
// stale read with a write. Every key carries a TTL tied to the session's
// expires-at, so leaked sessions purge themselves.
type Store struct {
	client *redis.Client
	logger zerolog.Logger
}

// New creates a Redis-backed session store.
func New(client *redis.Client, logger zerolog.Logger) *Store {
	return &Store{
		client: client,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}
}

func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	holder, err := s.client.Get(ctx, codeKeyPrefix+sess.Code).Result()
	if err == redis.Nil || (err == nil && holder != sess.ID.String()) {
		return fmt.Errorf("code %s not reserved for session %s", sess.Code, sess.ID)
	}
	if err != nil && err != redis.Nil {
		return fmt.Errorf("check code reservation: %w", err)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := ttlUntil(sess.ExpiresAt)
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	// Align the reservation's lifetime with the session document.
	if err := s.client.Expire(ctx, codeKeyPrefix+sess.Code, ttl).Err(); err != nil {
		return fmt.Errorf("refresh code ttl: %w", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	return s.getByKey(ctx, sessionKey(id))
}

func (s *Store) GetByCode(ctx context.Context, code string) (*session.Session, error) {
	idStr, err := s.client.Get(ctx, codeKeyPrefix+code).Result()
	if err == redis.Nil {
		// No live holder. An ended marker means the quiz is over rather than
		// the code never existing.
		ended, endedErr := s.client.Exists(ctx, endedCodeKeyPrefix+code).Result()
		if endedErr != nil {
			return nil, fmt.Errorf("check ended code: %w", endedErr)
		}
		if ended > 0 {
			return nil, session.ErrGone
		}
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve code: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt code mapping %q: %w", idStr, err)
	}

	sess, err := s.getByKey(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}
	// A mapping can outlive its session if the release failed at session
	// end; an ended session is Gone however it was found.
	if sess.Status == session.StatusEnded {
		return nil, session.ErrGone
	}
	return sess, nil
}

func (s *Store) Mutate(ctx context.Context, id uuid.UUID, fn func(*session.Session) error) (*session.Session, error) {
	key := sessionKey(id)
	var mutated *session.Session

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return session.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("read session: %w", err)
		}

		sess := &session.Session{}
		if err := json.Unmarshal(data, sess); err != nil {
			return fmt.Errorf("unmarshal session: %w", err)
		}

		if err := fn(sess); err != nil {
			return err
		}

		out, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, ttlUntil(sess.ExpiresAt))
			return nil
		})
		if err != nil {
			return err
		}
		mutated = sess
		return nil
	}

	for attempt := 0; attempt < mutateRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue // concurrent writer won; re-read and retry
		}
		if err != nil {
			return nil, err
		}
		return mutated, nil
	}
	return nil, fmt.Errorf("mutate session %s: retries exhausted under contention", id)
}

func (s *Store) ReserveCode(ctx context.Context, code string, id uuid.UUID) (bool, error) {
	// SetNX is the atomic check-and-reserve; a separate EXISTS+SET pair would
	// race between concurrent generators. The reservation TTL is refreshed to
	// the real expiry on Create.
	ok, err := s.client.SetNX(ctx, codeKeyPrefix+code, id.String(), time.Minute).Result()
	if err != nil {
		return false, fmt.Errorf("reserve code: %w", err)
	}
	if ok {
		// A fresh reservation supersedes any stale ended marker for the code.
		if err := s.client.Del(ctx, endedCodeKeyPrefix+code).Err(); err != nil {
			return false, fmt.Errorf("clear ended marker: %w", err)
		}
	}
	return ok, nil
}

func (s *Store) ReleaseCode(ctx context.Context, code string) error {
	// Keep a tombstone so code lookups distinguish "quiz over" from "no such
	// code" until the session record itself expires.
	if err := s.client.Set(ctx, endedCodeKeyPrefix+code, "1", 24*time.Hour).Err(); err != nil {
		return fmt.Errorf("mark code ended: %w", err)
	}
	if err := s.client.Del(ctx, codeKeyPrefix+code).Err(); err != nil {
		return fmt.Errorf("release code: %w", err)
	}
	return nil
}

func (s *Store) ListLive(ctx context.Context) ([]uuid.UUID, error) {
	keys, err := s.client.Keys(ctx, sessionKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue // expired between KEYS and GET
		}
		sess := &session.Session{}
		if err := json.Unmarshal(data, sess); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skip corrupt session document")
			continue
		}
		if sess.Status != session.StatusEnded {
			ids = append(ids, sess.ID)
		}
	}
	return ids, nil
}

func (s *Store) DeleteExpired(ctx context.Context) (int, error) {
	// Redis TTLs already purge expired documents; this sweep catches records
	// whose expiry was shortened after creation (e.g. force-ended sessions).
	keys, err := s.client.Keys(ctx, sessionKeyPrefix+"*").Result()
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	now := time.Now()
	removed := 0
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue // expired between KEYS and GET
		}
		sess := &session.Session{}
		if err := json.Unmarshal(data, sess); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skip corrupt session document")
			continue
		}
		if !sess.Expired(now) {
			continue
		}
		if err := s.client.Del(ctx, key, codeKeyPrefix+sess.Code, endedCodeKeyPrefix+sess.Code).Err(); err != nil {
			return removed, fmt.Errorf("purge session: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) getByKey(ctx context.Context, key string) (*session.Session, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	sess := &session.Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}

func sessionKey(id uuid.UUID) string {
	return sessionKeyPrefix + id.String()
}

func ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
