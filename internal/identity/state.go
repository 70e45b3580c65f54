// Package identity holds the browser-facing ledgers: CSRF state tokens,
// authenticated sessions, and magic-link codes. Every record lives in the
// durable keyed store; nothing is cached in process.
package identity

import (
	"context"
	"time"

	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/kv"
	"github.com/providentiaww/monarch-mcp/internal/oauth"
)

// StateTTL bounds how long an identity-provider redirect may take.
const StateTTL = 10 * time.Minute

const stateKeyPrefix = "state:"

// StateLedger issues and consumes one-time CSRF state tokens.
type StateLedger struct {
	store kv.Store
}

// NewStateLedger creates a state ledger backed by store.
func NewStateLedger(store kv.Store) *StateLedger {
	return &StateLedger{store: store}
}

// Create issues a fresh state token.
func (l *StateLedger) Create(ctx context.Context) (string, error) {
	state, err := oauth.RandomString(32)
	if err != nil {
		return "", err
	}
	if err := l.store.Put(ctx, stateKeyPrefix+state, []byte("1"), StateTTL); err != nil {
		return "", autherr.Store("save state", err)
	}
	return state, nil
}

// Validate consumes state. It returns true only the first time a live state is
// presented; unknown, expired, and already-consumed states are all false.
func (l *StateLedger) Validate(ctx context.Context, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	_, err := kv.Take(ctx, l.store, stateKeyPrefix+state)
	if kv.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, autherr.Store("consume state", err)
	}
	return true, nil
}
