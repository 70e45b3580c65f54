package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/kv"
)

const (
	// MagicCodeAlphabet omits 0/O and 1/I so codes survive being read aloud
	// or typed by hand.
	MagicCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	// MagicCodeLength is the number of symbols in a code.
	MagicCodeLength = 8
	// MagicLinkTTL is how long an unredeemed code stays valid.
	MagicLinkTTL = 10 * time.Minute
	// MagicLinkPath is appended to the base URL, followed by the code.
	MagicLinkPath = "/auth/magic/"
)

const magicKeyPrefix = "magic:"

// ErrMagicLinkInvalid is returned for unknown, expired, or consumed codes.
var ErrMagicLinkInvalid = errors.New("magic link invalid")

type magicRecord struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// MagicLinkLedger issues single-use codes that mint a short-lived session
// without an identity-provider round trip.
type MagicLinkLedger struct {
	store kv.Store
	now   func() time.Time
}

// NewMagicLinkLedger creates a magic link ledger backed by store.
func NewMagicLinkLedger(store kv.Store) *MagicLinkLedger {
	return &MagicLinkLedger{store: store, now: time.Now}
}

// WithClock replaces the ledger's time source.
func (l *MagicLinkLedger) WithClock(now func() time.Time) *MagicLinkLedger {
	l.now = now
	return l
}

// Generate stores a new code for userID and returns the link that redeems it.
func (l *MagicLinkLedger) Generate(ctx context.Context, userID, baseURL string) (string, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return "", autherr.Configuration("base URL is not configured; cannot build a login link")
	}
	if userID == "" {
		return "", autherr.Malformed("", "user id required")
	}

	code, err := newMagicCode()
	if err != nil {
		return "", err
	}

	rec := magicRecord{UserID: userID, CreatedAt: l.now()}
	if err := kv.PutJSON(ctx, l.store, magicKeyPrefix+code, rec, MagicLinkTTL); err != nil {
		return "", autherr.Store("save magic link", err)
	}
	return baseURL + MagicLinkPath + code, nil
}

// Validate consumes code and returns the user it was issued for. The code is
// spent whether or not the caller goes on to succeed.
func (l *MagicLinkLedger) Validate(ctx context.Context, code string) (string, error) {
	code = NormalizeMagicCode(code)
	if !isMagicCode(code) {
		return "", autherr.InvalidCredential("", ErrMagicLinkInvalid)
	}

	var rec magicRecord
	err := kv.TakeJSON(ctx, l.store, magicKeyPrefix+code, &rec)
	if kv.IsNotFound(err) {
		return "", autherr.InvalidCredential("", ErrMagicLinkInvalid)
	}
	if err != nil {
		return "", autherr.Store("consume magic link", err)
	}
	if rec.UserID == "" {
		return "", autherr.InvalidCredential("", ErrMagicLinkInvalid)
	}
	return rec.UserID, nil
}

// Redeem validates code and mints a short-lived session for its user.
func (l *MagicLinkLedger) Redeem(ctx context.Context, code string, sessions *SessionLedger) (sessionID, userID string, err error) {
	userID, err = l.Validate(ctx, code)
	if err != nil {
		return "", "", err
	}
	sessionID, err = sessions.CreateWithTTL(ctx, userID, "", "", MagicSessionTTL)
	if err != nil {
		return "", "", err
	}
	return sessionID, userID, nil
}

// NormalizeMagicCode accepts hand-typed input: case, spaces and dashes are
// ignored.
func NormalizeMagicCode(code string) string {
	code = strings.ToUpper(code)
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, code)
}

func isMagicCode(code string) bool {
	if len(code) != MagicCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(MagicCodeAlphabet, r) {
			return false
		}
	}
	return true
}

func newMagicCode() (string, error) {
	size := big.NewInt(int64(len(MagicCodeAlphabet)))
	buf := make([]byte, MagicCodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		buf[i] = MagicCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
