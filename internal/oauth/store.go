package oauth

import (
	"context"
	"time"

	"github.com/providentiaww/monarch-mcp/internal/kv"
)

// Key prefixes. Codes and tokens are stored under their SHA-256 hash so a
// store dump does not yield usable credentials.
const (
	clientKeyPrefix  = "oauth:client:"
	pendingKeyPrefix = "oauth:pending:"
	codeKeyPrefix    = "oauth:code:"
	accessKeyPrefix  = "oauth:access:"
	refreshKeyPrefix = "oauth:refresh:"
)

// Store persists OAuth records in the durable keyed store.
type Store struct {
	kv kv.Store
}

// NewStore creates an OAuth store backed by s.
func NewStore(s kv.Store) *Store {
	return &Store{kv: s}
}

// SaveClient stores an OAuth client.
func (s *Store) SaveClient(ctx context.Context, client *Client, ttl time.Duration) error {
	return kv.PutJSON(ctx, s.kv, clientKeyPrefix+client.ClientID, client, ttl)
}

// GetClient fetches an OAuth client by id.
func (s *Store) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var client Client
	if err := kv.GetJSON(ctx, s.kv, clientKeyPrefix+clientID, &client); err != nil {
		return nil, err
	}
	return &client, nil
}

// SavePending stores authorization parameters while the user detours
// through the identity provider.
func (s *Store) SavePending(ctx context.Context, state string, req *AuthorizeRequest, ttl time.Duration) error {
	return kv.PutJSON(ctx, s.kv, pendingKeyPrefix+state, req, ttl)
}

// TakePending retrieves and deletes pending authorization parameters.
func (s *Store) TakePending(ctx context.Context, state string) (*AuthorizeRequest, error) {
	var req AuthorizeRequest
	if err := kv.TakeJSON(ctx, s.kv, pendingKeyPrefix+state, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// SaveAuthCode stores auth code data.
func (s *Store) SaveAuthCode(ctx context.Context, code string, record *AuthCode, ttl time.Duration) error {
	return kv.PutJSON(ctx, s.kv, codeKeyPrefix+HashToken(code), record, ttl)
}

// ConsumeAuthCode retrieves and deletes an auth code.
func (s *Store) ConsumeAuthCode(ctx context.Context, code string) (*AuthCode, error) {
	var record AuthCode
	if err := kv.TakeJSON(ctx, s.kv, codeKeyPrefix+HashToken(code), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveAccessToken persists an access token record.
func (s *Store) SaveAccessToken(ctx context.Context, token string, record *AccessToken, ttl time.Duration) error {
	return kv.PutJSON(ctx, s.kv, accessKeyPrefix+HashToken(token), record, ttl)
}

// GetAccessToken retrieves an access token record.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	var record AccessToken
	if err := kv.GetJSON(ctx, s.kv, accessKeyPrefix+HashToken(token), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteAccessToken revokes an access token.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	return s.kv.Delete(ctx, accessKeyPrefix+HashToken(token))
}

// SaveRefreshToken persists a refresh token record.
func (s *Store) SaveRefreshToken(ctx context.Context, token string, record *RefreshToken, ttl time.Duration) error {
	return kv.PutJSON(ctx, s.kv, refreshKeyPrefix+HashToken(token), record, ttl)
}

// GetRefreshToken retrieves a refresh token record.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var record RefreshToken
	if err := kv.GetJSON(ctx, s.kv, refreshKeyPrefix+HashToken(token), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// TakeRefreshToken retrieves and deletes a refresh token record.
func (s *Store) TakeRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	var record RefreshToken
	if err := kv.TakeJSON(ctx, s.kv, refreshKeyPrefix+HashToken(token), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteRefreshToken revokes a refresh token.
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) error {
	return s.kv.Delete(ctx, refreshKeyPrefix+HashToken(token))
}
