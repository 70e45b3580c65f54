package identity

import (
	"context"
	"errors"
	"time"

	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/kv"
	"github.com/providentiaww/monarch-mcp/internal/oauth"
)

const (
	// SessionTTL is the lifetime of a session created by an interactive
	// identity-provider login.
	SessionTTL = 7 * 24 * time.Hour
	// MagicSessionTTL is the lifetime of a session minted from a magic link.
	MagicSessionTTL = time.Hour
)

const sessionKeyPrefix = "session:"

// ErrSessionNotFound is returned for unknown, expired, or unauthenticated
// sessions.
var ErrSessionNotFound = errors.New("session not found")

// Session is an authenticated browser session.
type Session struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	Authenticated bool      `json:"authenticated"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionLedger manages sessions referenced by a cookie.
type SessionLedger struct {
	store kv.Store
	now   func() time.Time
}

// NewSessionLedger creates a session ledger backed by store.
func NewSessionLedger(store kv.Store) *SessionLedger {
	return &SessionLedger{store: store, now: time.Now}
}

// WithClock replaces the ledger's time source.
func (l *SessionLedger) WithClock(now func() time.Time) *SessionLedger {
	l.now = now
	return l
}

// Create mints a session with the default TTL and returns its id.
func (l *SessionLedger) Create(ctx context.Context, userID, username, email string) (string, error) {
	return l.CreateWithTTL(ctx, userID, username, email, SessionTTL)
}

// CreateWithTTL mints a session that lives for ttl.
func (l *SessionLedger) CreateWithTTL(ctx context.Context, userID, username, email string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", autherr.Malformed("", "user id required")
	}

	id, err := oauth.RandomString(32)
	if err != nil {
		return "", err
	}

	sess := Session{
		UserID:        userID,
		Username:      username,
		Email:         email,
		Authenticated: true,
		CreatedAt:     l.now(),
	}
	if err := kv.PutJSON(ctx, l.store, sessionKeyPrefix+id, sess, ttl); err != nil {
		return "", autherr.Store("save session", err)
	}
	return id, nil
}

// Get resolves a session id. Sessions lacking the authenticated flag are
// treated as absent.
func (l *SessionLedger) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}

	var sess Session
	err := kv.GetJSON(ctx, l.store, sessionKeyPrefix+id, &sess)
	if kv.IsNotFound(err) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, autherr.Store("get session", err)
	}
	if !sess.Authenticated || sess.UserID == "" {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

// Delete ends a session.
func (l *SessionLedger) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := l.store.Delete(ctx, sessionKeyPrefix+id); err != nil {
		return autherr.Store("delete session", err)
	}
	return nil
}
