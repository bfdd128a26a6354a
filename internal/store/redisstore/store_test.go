package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/livequiz/internal/session"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, zerolog.Nop()), mr
}

func newSession(code string) *session.Session {
	return &session.Session{
		ID:                   uuid.New(),
		Code:                 code,
		HostID:               uuid.New(),
		Status:               session.StatusWaiting,
		CurrentQuestionIndex: -1,
		CreatedAt:            time.Now(),
		ExpiresAt:            time.Now().Add(24 * time.Hour),
	}
}

func mustCreate(t *testing.T, store *Store, sess *session.Session) {
	t.Helper()
	ctx := context.Background()
	ok, err := store.ReserveCode(ctx, sess.Code, sess.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.Create(ctx, sess))
}

func TestCreateRequiresReservation(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Create(context.Background(), newSession("AAAAAA"))
	assert.Error(t, err)
}

func TestCreateRejectsForeignReservation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := newSession("AAAAAA")
	ok, err := store.ReserveCode(ctx, sess.Code, uuid.New())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Error(t, store.Create(ctx, sess))
}

func TestRoundTripByIDAndCode(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sess := newSession("LIVE42")
	sess.Activity = session.Activity{
		ID:    uuid.New(),
		Title: "capitals",
		Questions: []session.Question{{
			Text:         "Capital of France?",
			Options:      []string{"Paris", "Lyon", "Nice", "Lille"},
			CorrectIndex: 0,
			TimeLimitSec: 20,
			MaxPoints:    1000,
		}},
	}
	mustCreate(t, store, sess)

	byID, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.Code, byID.Code)
	require.Len(t, byID.Activity.Questions, 1)
	assert.Equal(t, 1000, byID.Activity.Questions[0].MaxPoints)

	byCode, err := store.GetByCode(ctx, "LIVE42")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byCode.ID)

	_, err = store.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestGetByCodeDistinguishesGoneFromNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sess := newSession("LIVE42")
	mustCreate(t, store, sess)

	_, err := store.GetByCode(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, session.ErrNotFound)

	require.NoError(t, store.ReleaseCode(ctx, "LIVE42"))

	_, err = store.GetByCode(ctx, "LIVE42")
	assert.ErrorIs(t, err, session.ErrGone)
}

func TestGetByCodeGoneWhenMappingOutlivesSession(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sess := newSession("STUCK1")
	mustCreate(t, store, sess)

	// The session ended but its code was never released, e.g. the release
	// failed at session end. The mapping must still answer Gone.
	_, err := store.Mutate(ctx, sess.ID, func(s *session.Session) error {
		s.Status = session.StatusEnded
		return nil
	})
	require.NoError(t, err)

	_, err = store.GetByCode(ctx, "STUCK1")
	assert.ErrorIs(t, err, session.ErrGone)
}

func TestListLiveSkipsEndedSessions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	live := newSession("LIVE01")
	mustCreate(t, store, live)

	done := newSession("DONE01")
	mustCreate(t, store, done)
	_, err := store.Mutate(ctx, done.ID, func(s *session.Session) error {
		s.Status = session.StatusEnded
		return nil
	})
	require.NoError(t, err)

	ids, err := store.ListLive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{live.ID}, ids)
}

func TestReserveCodeIsFirstWriterWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := store.ReserveCode(ctx, "TAKEN1", uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReserveCode(ctx, "TAKEN1", uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReserveCodeClearsStaleEndedMarker(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.ReleaseCode(ctx, "REUSED"))

	sess := newSession("REUSED")
	mustCreate(t, store, sess)

	got, err := store.GetByCode(ctx, "REUSED")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
}

func TestMutatePersistsAndPropagatesErrors(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sess := newSession("AAAAAA")
	mustCreate(t, store, sess)

	updated, err := store.Mutate(ctx, sess.ID, func(s *session.Session) error {
		s.Status = session.StatusActive
		s.CurrentQuestionIndex = 0
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, updated.Status)

	got, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status)
	assert.Equal(t, 0, got.CurrentQuestionIndex)

	// A failing mutation leaves the document untouched.
	_, err = store.Mutate(ctx, sess.ID, func(s *session.Session) error {
		s.Status = session.StatusEnded
		return session.ErrInvalidTransition
	})
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	got, err = store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, got.Status)

	_, err = store.Mutate(ctx, uuid.New(), func(s *session.Session) error { return nil })
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestMutateConcurrentSubmissionsAllLand(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sess := newSession("AAAAAA")
	mustCreate(t, store, sess)

	const writers = 10
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.Mutate(ctx, sess.ID, func(s *session.Session) error {
				s.Participants = append(s.Participants, session.Participant{
					ID:        uuid.New(),
					JoinOrder: len(s.Participants),
				})
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.Participants, writers)
}

func TestDeleteExpiredPurgesShortenedSessions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	fresh := newSession("FRESH1")
	mustCreate(t, store, fresh)

	stale := newSession("STALE1")
	mustCreate(t, store, stale)
	// Force-end: the expiry moves into the past but the document's TTL has
	// not caught up yet.
	_, err := store.Mutate(ctx, stale.ID, func(s *session.Session) error {
		s.ExpiresAt = time.Now().Add(-time.Minute)
		return nil
	})
	require.NoError(t, err)

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetByID(ctx, stale.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = store.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)
}
