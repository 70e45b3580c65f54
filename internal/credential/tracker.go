// Package credential tracks the encrypted downstream credential for each user
// and reports how long it has left.
//
// Validity is governed by the metadata record's expires_at, not by whether
// the ciphertext is still physically present in the store.
package credential

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/crypto"
	"github.com/providentiaww/monarch-mcp/internal/kv"
	"github.com/rs/zerolog/log"
)

// DefaultTTLDays is the lifetime assumed for a freshly stored credential.
const DefaultTTLDays = 90

// RemediationTool is the MCP tool a client calls to obtain a login link.
const RemediationTool = "get_login_link"

const (
	secretKeyPrefix = "credential:secret:"
	metaKeyPrefix   = "credential:meta:"
)

var (
	// ErrNoCredential is returned when the user has never stored a credential
	// or it has been purged.
	ErrNoCredential = errors.New("no credential stored")
	// ErrCredentialExpired is returned when metadata says the credential has
	// expired even though the ciphertext may still be present.
	ErrCredentialExpired = errors.New("credential expired")
)

// Health classifies remaining lifetime for display.
type Health string

const (
	HealthHealthy     Health = "healthy"
	HealthRefreshSoon Health = "refresh_soon"
	HealthRefreshNow  Health = "refresh_now"
	HealthExpired     Health = "expired"
	HealthMissing     Health = "missing"
)

// Reason explains why action is needed.
type Reason string

const (
	ReasonInitialSetup Reason = "initial_setup"
	ReasonTokenExpired Reason = "token_expired"
)

// Metadata is the authoritative expiry record.
type Metadata struct {
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Status is a renderable view of a user's credential.
type Status struct {
	UserID          string     `json:"user_id"`
	HasCredential   bool       `json:"has_credential"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	DaysUntilExpiry *int       `json:"days_until_expiry,omitempty"`
	Health          Health     `json:"health"`
	NeedsAction     bool       `json:"needs_action"`
	Reason          Reason     `json:"reason,omitempty"`
	LoginURL        string     `json:"login_url,omitempty"`
	Remediation     string     `json:"remediation_tool,omitempty"`
}

// Err converts a status that needs action into a classified error carrying
// the remediation link and tool. It returns nil for usable credentials.
func (s *Status) Err() error {
	if !s.NeedsAction {
		return nil
	}
	msg := "Monarch Money credentials are not set up"
	if s.Reason == ReasonTokenExpired {
		msg = "Monarch Money session has expired"
	}
	cause := ErrNoCredential
	if s.Reason == ReasonTokenExpired {
		cause = ErrCredentialExpired
	}
	e := &autherr.Error{
		Kind:          autherr.KindInvalidCredential,
		Code:          autherr.CodeInvalidToken,
		Message:       msg,
		DaysRemaining: s.DaysUntilExpiry,
		Err:           cause,
	}
	return e.WithURL(s.LoginURL).WithTool(s.Remediation)
}

// LinkIssuer mints a login link for a user.
type LinkIssuer interface {
	Generate(ctx context.Context, userID, baseURL string) (string, error)
}

// Tracker stores encrypted credentials with expiry metadata.
type Tracker struct {
	store   kv.Store
	cipher  crypto.Cipher
	now     func() time.Time
	links   LinkIssuer
	baseURL string
}

// NewTracker creates a tracker.
func NewTracker(store kv.Store, cipher crypto.Cipher) *Tracker {
	return &Tracker{store: store, cipher: cipher, now: time.Now}
}

// WithClock replaces the tracker's time source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// WithLinks lets CheckCredentialHealth attach a fresh login link when action
// is needed.
func (t *Tracker) WithLinks(links LinkIssuer, baseURL string) *Tracker {
	t.links = links
	t.baseURL = baseURL
	return t
}

// Store encrypts and saves credential for userID, replacing any previous one.
// ttlDays ≤ 0 selects DefaultTTLDays.
//
// Metadata is written first. If the ciphertext write then fails the previous
// metadata is put back (or removed when there was none), so a reader never
// sees a new secret under old metadata or the reverse.
func (t *Tracker) Store(ctx context.Context, userID, credential string, ttlDays int) error {
	if userID == "" {
		return autherr.Malformed("", "user id required")
	}
	if credential == "" {
		return autherr.Malformed("", "credential required")
	}
	if ttlDays <= 0 {
		ttlDays = DefaultTTLDays
	}

	sealed, err := t.cipher.Encrypt(credential)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	prev, err := t.metadata(ctx, userID)
	if err != nil {
		return err
	}

	ttl := time.Duration(ttlDays) * 24 * time.Hour
	now := t.now()
	meta := Metadata{CreatedAt: now, ExpiresAt: now.Add(ttl)}

	if err := kv.PutJSON(ctx, t.store, metaKeyPrefix+userID, meta, ttl); err != nil {
		return autherr.Store("save credential metadata", err)
	}
	if err := t.store.Put(ctx, secretKeyPrefix+userID, []byte(sealed), ttl); err != nil {
		t.restoreMetadata(ctx, userID, prev)
		return autherr.Store("save credential", err)
	}

	log.Info().Str("user_id", userID).Time("expires_at", meta.ExpiresAt).Msg("credential stored")
	return nil
}

// restoreMetadata rolls metadata back to prev after a failed ciphertext
// write. If that is impossible the metadata is removed, which reads as no
// credential rather than a mismatched one.
func (t *Tracker) restoreMetadata(ctx context.Context, userID string, prev *Metadata) {
	key := metaKeyPrefix + userID
	if prev != nil {
		if remaining := prev.ExpiresAt.Sub(t.now()); remaining > 0 {
			err := kv.PutJSON(ctx, t.store, key, prev, remaining)
			if err == nil {
				return
			}
			log.Error().Err(err).Str("user_id", userID).Msg("failed to restore credential metadata")
		}
	}
	if err := t.store.Delete(ctx, key); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to remove credential metadata after partial write")
	}
}

// Load returns the decrypted credential if metadata says it is still valid.
func (t *Tracker) Load(ctx context.Context, userID string) (string, error) {
	meta, err := t.metadata(ctx, userID)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", ErrNoCredential
	}
	if !t.now().Before(meta.ExpiresAt) {
		return "", ErrCredentialExpired
	}

	sealed, err := t.store.Get(ctx, secretKeyPrefix+userID)
	if kv.IsNotFound(err) {
		return "", ErrNoCredential
	}
	if err != nil {
		return "", autherr.Store("get credential", err)
	}

	plain, err := t.cipher.Decrypt(string(sealed))
	if err != nil {
		return "", fmt.Errorf("decrypt credential for %s: %w", userID, err)
	}
	return plain, nil
}

// Delete removes the credential and its metadata.
func (t *Tracker) Delete(ctx context.Context, userID string) error {
	if err := t.store.Delete(ctx, secretKeyPrefix+userID); err != nil {
		return autherr.Store("delete credential", err)
	}
	if err := t.store.Delete(ctx, metaKeyPrefix+userID); err != nil {
		return autherr.Store("delete credential metadata", err)
	}
	return nil
}

// DaysUntilExpiry returns ceil((expires_at - now) / 24h). ok is false when no
// metadata exists. The result is zero or negative once expired.
func (t *Tracker) DaysUntilExpiry(ctx context.Context, userID string) (days int, ok bool, err error) {
	meta, err := t.metadata(ctx, userID)
	if err != nil || meta == nil {
		return 0, false, err
	}
	return daysBetween(t.now(), meta.ExpiresAt), true, nil
}

// Status reports the user's credential state.
func (t *Tracker) Status(ctx context.Context, userID string) (*Status, error) {
	st := &Status{UserID: userID}

	meta, err := t.metadata(ctx, userID)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		if _, err := t.store.Get(ctx, secretKeyPrefix+userID); err != nil {
			if !kv.IsNotFound(err) {
				return nil, autherr.Store("get credential", err)
			}
			meta = nil
		}
	}

	if meta == nil {
		st.Health = HealthMissing
		st.NeedsAction = true
		st.Reason = ReasonInitialSetup
		st.Remediation = RemediationTool
		return st, nil
	}

	days := daysBetween(t.now(), meta.ExpiresAt)
	created, expires := meta.CreatedAt, meta.ExpiresAt
	st.HasCredential = true
	st.CreatedAt = &created
	st.ExpiresAt = &expires
	st.DaysUntilExpiry = &days
	st.Health = Classify(days)

	if !t.now().Before(meta.ExpiresAt) {
		st.NeedsAction = true
		st.Reason = ReasonTokenExpired
		st.Remediation = RemediationTool
	}
	return st, nil
}

// CheckCredentialHealth is Status plus a fresh login link when the user has
// to act or the credential is about to lapse.
func (t *Tracker) CheckCredentialHealth(ctx context.Context, userID string) (*Status, error) {
	st, err := t.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !st.NeedsAction && st.Health != HealthRefreshNow {
		return st, nil
	}

	st.Remediation = RemediationTool
	if t.links == nil {
		return st, nil
	}
	link, err := t.links.Generate(ctx, userID, t.baseURL)
	if err != nil {
		return nil, err
	}
	st.LoginURL = link
	return st, nil
}

// Classify maps days remaining to a health class.
func Classify(days int) Health {
	switch {
	case days > 30:
		return HealthHealthy
	case days >= 8:
		return HealthRefreshSoon
	case days >= 1:
		return HealthRefreshNow
	default:
		return HealthExpired
	}
}

func (t *Tracker) metadata(ctx context.Context, userID string) (*Metadata, error) {
	if userID == "" {
		return nil, autherr.Malformed("", "user id required")
	}
	var meta Metadata
	err := kv.GetJSON(ctx, t.store, metaKeyPrefix+userID, &meta)
	if kv.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, autherr.Store("get credential metadata", err)
	}
	return &meta, nil
}

func daysBetween(now, expiresAt time.Time) int {
	days := math.Ceil(expiresAt.Sub(now).Hours() / 24)
	return int(days)
}
