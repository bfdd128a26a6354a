package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// codeAlphabet matches the join codes participants type by hand: uppercase
// alphanumeric, 6 characters, 36^6 possibilities.
const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 6
)

// CodeGenerator mints collision-free join codes. Collision checking and
// reservation are one atomic store operation, so concurrent generators can
// never hand out the same code for two live sessions.
type CodeGenerator struct {
	store Store
}

// NewCodeGenerator creates a generator backed by the given store.
func NewCodeGenerator(store Store) *CodeGenerator {
	return &CodeGenerator{store: store}
}

// Generate draws random codes until one reserves cleanly. The alphabet size
// dwarfs any realistic live-session count, so retries are expected to be
// rare; the loop still honors ctx so callers never hang.
func (g *CodeGenerator) Generate(ctx context.Context, sessionID uuid.UUID) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		code, err := randomCode()
		if err != nil {
			return "", fmt.Errorf("draw code: %w", err)
		}

		reserved, err := g.store.ReserveCode(ctx, code, sessionID)
		if err != nil {
			return "", fmt.Errorf("reserve code: %w", err)
		}
		if reserved {
			return code, nil
		}
	}
}

func randomCode() (string, error) {
	buf := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
