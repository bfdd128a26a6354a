package session

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reservingStore implements just enough of Store to exercise code generation.
type reservingStore struct {
	mu    sync.Mutex
	codes map[string]uuid.UUID
	// denials forces the next n reservations to fail, simulating collisions.
	denials int
}

func newReservingStore() *reservingStore {
	return &reservingStore{codes: make(map[string]uuid.UUID)}
}

func (s *reservingStore) ReserveCode(ctx context.Context, code string, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denials > 0 {
		s.denials--
		return false, nil
	}
	if _, held := s.codes[code]; held {
		return false, nil
	}
	s.codes[code] = id
	return true, nil
}

func (s *reservingStore) Create(ctx context.Context, sess *Session) error { return nil }
func (s *reservingStore) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return nil, ErrNotFound
}
func (s *reservingStore) GetByCode(ctx context.Context, code string) (*Session, error) {
	return nil, ErrNotFound
}
func (s *reservingStore) Mutate(ctx context.Context, id uuid.UUID, fn func(*Session) error) (*Session, error) {
	return nil, ErrNotFound
}
func (s *reservingStore) ReleaseCode(ctx context.Context, code string) error { return nil }
func (s *reservingStore) ListLive(ctx context.Context) ([]uuid.UUID, error)  { return nil, nil }
func (s *reservingStore) DeleteExpired(ctx context.Context) (int, error)     { return 0, nil }

func TestGenerateProducesWellFormedCodes(t *testing.T) {
	gen := NewCodeGenerator(newReservingStore())

	code, err := gen.Generate(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Len(t, code, codeLength)
	for _, r := range code {
		assert.True(t, strings.ContainsRune(codeAlphabet, r), "unexpected rune %q", r)
	}
}

func TestGenerateRetriesOnCollision(t *testing.T) {
	store := newReservingStore()
	store.denials = 3
	gen := NewCodeGenerator(store)

	code, err := gen.Generate(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Len(t, code, codeLength)
	assert.Zero(t, store.denials)
}

func TestGenerateConcurrentCodesAreUnique(t *testing.T) {
	store := newReservingStore()
	gen := NewCodeGenerator(store)

	const n = 100
	results := make(chan string, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			code, err := gen.Generate(context.Background(), uuid.New())
			assert.NoError(t, err)
			results <- code
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, n)
	for code := range results {
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
	assert.Len(t, seen, n)
}

func TestGenerateHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := NewCodeGenerator(newReservingStore())
	_, err := gen.Generate(ctx, uuid.New())
	assert.ErrorIs(t, err, context.Canceled)
}
