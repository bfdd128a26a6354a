package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpulse/livequiz/internal/session"
)

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
	store := New()
	sess := newSession("AAAAAA")

	err := store.Create(context.Background(), sess)
	assert.Error(t, err)
}

func TestCreateAndGetByID(t *testing.T) {
	store := New()
	sess := newSession("AAAAAA")
	mustCreate(t, store, sess)

	got, err := store.GetByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "AAAAAA", got.Code)

	_, err = store.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestGetByCodeDistinguishesGoneFromNotFound(t *testing.T) {
	store := New()
	ctx := context.Background()
	sess := newSession("LIVE42")
	mustCreate(t, store, sess)

	got, err := store.GetByCode(ctx, "LIVE42")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)

	// Unknown code was never issued.
	_, err = store.GetByCode(ctx, "ZZZZZZ")
	assert.ErrorIs(t, err, session.ErrNotFound)

	// End the session and release the code: the code is now Gone, not unknown.
	_, err = store.Mutate(ctx, sess.ID, func(s *session.Session) error {
		s.Status = session.StatusEnded
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, store.ReleaseCode(ctx, "LIVE42"))

	_, err = store.GetByCode(ctx, "LIVE42")
	assert.ErrorIs(t, err, session.ErrGone)
}

func TestGetByCodeGoneWhenMappingOutlivesSession(t *testing.T) {
	store := New()
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
	store := New()
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

func TestReserveCodeRejectsHeldCode(t *testing.T) {
	store := New()
	ctx := context.Background()

	ok, err := store.ReserveCode(ctx, "TAKEN1", uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ReserveCode(ctx, "TAKEN1", uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.ReleaseCode(ctx, "TAKEN1"))
	ok, err = store.ReserveCode(ctx, "TAKEN1", uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMutateDiscardsOnError(t *testing.T) {
	store := New()
	ctx := context.Background()
	sess := newSession("AAAAAA")
	mustCreate(t, store, sess)

	_, err := store.Mutate(ctx, sess.ID, func(s *session.Session) error {
		s.Status = session.StatusActive
		return session.ErrInvalidTransition
	})
	assert.ErrorIs(t, err, session.ErrInvalidTransition)

	got, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusWaiting, got.Status)
}

func TestMutateSerializesConcurrentWrites(t *testing.T) {
	store := New()
	ctx := context.Background()
	sess := newSession("AAAAAA")
	mustCreate(t, store, sess)

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(n int) {
			defer wg.Done()
			_, err := store.Mutate(ctx, sess.ID, func(s *session.Session) error {
				s.Participants = append(s.Participants, session.Participant{
					ID:        uuid.New(),
					Status:    session.ParticipantJoined,
					JoinOrder: len(s.Participants),
				})
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Participants, writers)
	// Join order stays dense even under contention.
	seen := make(map[int]bool, writers)
	for _, p := range got.Participants {
		seen[p.JoinOrder] = true
	}
	assert.Len(t, seen, writers)
}

func TestGetReturnsIsolatedCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	sess := newSession("AAAAAA")
	sess.Participants = []session.Participant{{ID: uuid.New(), DisplayName: "alice"}}
	mustCreate(t, store, sess)

	first, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	first.Participants[0].DisplayName = "mallory"

	second, err := store.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", second.Participants[0].DisplayName)
}

func TestDeleteExpired(t *testing.T) {
	store := New()
	ctx := context.Background()

	fresh := newSession("FRESH1")
	mustCreate(t, store, fresh)

	stale := newSession("STALE1")
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	mustCreate(t, store, stale)

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetByID(ctx, stale.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = store.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)

	// The stale code is free again.
	ok, err := store.ReserveCode(ctx, "STALE1", uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
}
