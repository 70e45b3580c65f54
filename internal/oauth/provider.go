package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/kv"
)

// Provider implements the OAuth 2.1 authorization code flow with PKCE on top
// of Store. It has no HTTP dependencies; cmd/mcp-server/oauth adapts it.
type Provider struct {
	cfg   Config
	store *Store
	now   func() time.Time
}

// NewProvider creates a provider.
func NewProvider(cfg Config, store *Store) *Provider {
	return &Provider{cfg: cfg, store: store, now: time.Now}
}

// WithClock replaces the provider's time source.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// Config returns the provider configuration.
func (p *Provider) Config() Config {
	return p.cfg
}

// Metadata returns the RFC 8414 discovery document.
func (p *Provider) Metadata() ServerMetadata {
	issuer := p.cfg.Issuer
	return ServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/oauth/authorize",
		TokenEndpoint:                     issuer + "/oauth/token",
		RegistrationEndpoint:              issuer + "/oauth/register",
		RevocationEndpoint:                issuer + "/oauth/revoke",
		ScopesSupported:                   p.cfg.Scopes,
		ResponseTypesSupported:            []string{ResponseTypeCode},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256},
		TokenEndpointAuthMethodsSupported: []string{AuthMethodNone},
	}
}

// ResourceMetadata returns the RFC 9728 document for the resource at path.
func (p *Provider) ResourceMetadata(path string) ProtectedResourceMetadata {
	return ProtectedResourceMetadata{
		Resource:               p.cfg.Issuer + path,
		AuthorizationServers:   []string{p.cfg.Issuer},
		ScopesSupported:        p.cfg.Scopes,
		BearerMethodsSupported: []string{"header"},
	}
}

// ParseAuthorizeRequest validates an authorization request. Parameter checks
// run before the client lookup so malformed requests never touch the store.
func (p *Provider) ParseAuthorizeRequest(ctx context.Context, query url.Values) (*AuthorizeRequest, error) {
	responseType := query.Get("response_type")
	if responseType == "" {
		return nil, autherr.Malformed("", "response_type required")
	}
	if responseType != ResponseTypeCode {
		return nil, autherr.Malformed(autherr.CodeUnsupportedResponseType, "response_type must be code")
	}

	req := &AuthorizeRequest{
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		Scope:               strings.TrimSpace(query.Get("scope")),
		State:               query.Get("state"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
	}

	switch {
	case req.ClientID == "":
		return nil, autherr.Malformed("", "client_id required")
	case req.RedirectURI == "":
		return nil, autherr.Malformed("", "redirect_uri required")
	case req.State == "":
		return nil, autherr.Malformed("", "state required")
	case req.CodeChallenge == "":
		return nil, autherr.Malformed("", "code_challenge required")
	case req.CodeChallengeMethod != PKCEMethodS256:
		return nil, autherr.Malformed("", "code_challenge_method must be S256")
	}

	client, err := p.store.GetClient(ctx, req.ClientID)
	if kv.IsNotFound(err) {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidClient, fmt.Errorf("unknown client %s", req.ClientID))
	}
	if err != nil {
		return nil, autherr.Store("get client", err)
	}
	if !client.AllowsRedirect(req.RedirectURI) {
		return nil, autherr.Malformed("", "redirect_uri is not registered for this client")
	}
	if req.Scope == "" {
		req.Scope = client.Scope
	}
	return req, nil
}

// SavePending parks a validated request under the CSRF state of the identity
// provider detour that is about to start.
func (p *Provider) SavePending(ctx context.Context, state string, req *AuthorizeRequest) error {
	if err := p.store.SavePending(ctx, state, req, p.cfg.PendingTTL); err != nil {
		return autherr.Store("save pending authorization", err)
	}
	return nil
}

// TakePending returns the request parked under state, if any. A missing entry
// is not an error: the login was not part of an OAuth flow.
func (p *Provider) TakePending(ctx context.Context, state string) (*AuthorizeRequest, bool, error) {
	req, err := p.store.TakePending(ctx, state)
	if kv.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, autherr.Store("take pending authorization", err)
	}
	return req, true, nil
}

// IssueCode mints an authorization code for userID and returns the client
// redirect carrying it and the original state.
func (p *Provider) IssueCode(ctx context.Context, req *AuthorizeRequest, userID string) (string, error) {
	if userID == "" {
		return "", autherr.Malformed("", "user id required")
	}

	code, err := RandomString(32)
	if err != nil {
		return "", err
	}

	record := &AuthCode{
		UserID:              userID,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           p.now(),
	}
	if err := p.store.SaveAuthCode(ctx, code, record, p.cfg.AuthCodeTTL); err != nil {
		return "", autherr.Store("save auth code", err)
	}

	return buildRedirect(req.RedirectURI, url.Values{"code": {code}, "state": {req.State}}), nil
}

// CodeExchange is an authorization_code grant request.
type CodeExchange struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
	ClientID     string
}

// ExchangeCode redeems an authorization code. The code is consumed before any
// check, so a failed attempt spends it.
func (p *Provider) ExchangeCode(ctx context.Context, req CodeExchange) (*TokenResponse, error) {
	switch {
	case req.Code == "":
		return nil, autherr.Malformed("", "code required")
	case req.RedirectURI == "":
		return nil, autherr.Malformed("", "redirect_uri required")
	case req.CodeVerifier == "":
		return nil, autherr.Malformed("", "code_verifier required")
	}

	record, err := p.store.ConsumeAuthCode(ctx, req.Code)
	if kv.IsNotFound(err) {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidGrant, fmt.Errorf("unknown or spent code"))
	}
	if err != nil {
		return nil, autherr.Store("consume auth code", err)
	}

	if req.ClientID != "" && req.ClientID != record.ClientID {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidGrant, fmt.Errorf("client mismatch"))
	}
	if req.RedirectURI != record.RedirectURI {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidGrant, fmt.Errorf("redirect_uri mismatch"))
	}
	if !VerifyPKCE(record.CodeChallenge, record.CodeChallengeMethod, req.CodeVerifier) {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidGrant, fmt.Errorf("pkce verification failed"))
	}

	client, err := p.grantingClient(ctx, record.ClientID, GrantTypeAuthorizationCode)
	if err != nil {
		return nil, err
	}
	return p.issueTokens(ctx, record.UserID, record.ClientID, record.Scope, client.AllowsGrant(GrantTypeRefreshToken))
}

// Refresh exchanges a refresh token for a new access token. Unless rotation is
// enabled the refresh token stays valid until its own expiry and is not
// returned again. With rotation the old token is consumed atomically, so a
// replayed token fails even when two requests race.
func (p *Provider) Refresh(ctx context.Context, refreshToken, clientID string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, autherr.Malformed("", "refresh_token required")
	}

	var (
		stored *RefreshToken
		err    error
	)
	if p.cfg.RotateRefreshTokens {
		stored, err = p.store.TakeRefreshToken(ctx, refreshToken)
	} else {
		stored, err = p.store.GetRefreshToken(ctx, refreshToken)
	}
	if kv.IsNotFound(err) {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidGrant, fmt.Errorf("unknown refresh token"))
	}
	if err != nil {
		return nil, autherr.Store("get refresh token", err)
	}
	if clientID != "" && clientID != stored.ClientID {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidGrant, fmt.Errorf("client mismatch"))
	}
	if _, err := p.grantingClient(ctx, stored.ClientID, GrantTypeRefreshToken); err != nil {
		return nil, err
	}

	return p.issueTokens(ctx, stored.UserID, stored.ClientID, stored.Scope, p.cfg.RotateRefreshTokens)
}

// grantingClient loads clientID and checks it registered grantType.
func (p *Provider) grantingClient(ctx context.Context, clientID, grantType string) (*Client, error) {
	client, err := p.store.GetClient(ctx, clientID)
	if kv.IsNotFound(err) {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidGrant, fmt.Errorf("client %s no longer registered", clientID))
	}
	if err != nil {
		return nil, autherr.Store("get client", err)
	}
	if !client.AllowsGrant(grantType) {
		return nil, autherr.InvalidCredential(autherr.CodeUnauthorizedClient, fmt.Errorf("client %s did not register %s", clientID, grantType))
	}
	return client, nil
}

// ValidateAccessToken resolves a bearer token. Expiry is enforced by the
// store's TTL.
func (p *Provider) ValidateAccessToken(ctx context.Context, token string) (*AccessToken, error) {
	if token == "" {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidToken, fmt.Errorf("missing bearer token"))
	}
	record, err := p.store.GetAccessToken(ctx, token)
	if kv.IsNotFound(err) {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidToken, fmt.Errorf("unknown access token"))
	}
	if err != nil {
		return nil, autherr.Store("get access token", err)
	}
	return record, nil
}

// Revoke invalidates token whether it is an access or a refresh token.
// Unknown tokens are not an error (RFC 7009 §2.2).
func (p *Provider) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return autherr.Malformed("", "token required")
	}
	if err := p.store.DeleteAccessToken(ctx, token); err != nil {
		return autherr.Store("revoke access token", err)
	}
	if err := p.store.DeleteRefreshToken(ctx, token); err != nil {
		return autherr.Store("revoke refresh token", err)
	}
	return nil
}

// RegisterClient registers a public client (RFC 7591). Unspecified fields get
// PKCE-friendly defaults; no secret is issued.
func (p *Provider) RegisterClient(ctx context.Context, md ClientMetadata) (*Client, error) {
	if len(md.RedirectURIs) == 0 {
		return nil, autherr.Malformed(autherr.CodeInvalidRedirectURI, "redirect_uris is required")
	}
	for _, uri := range md.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, autherr.Malformed(autherr.CodeInvalidRedirectURI, err.Error())
		}
	}

	if len(md.GrantTypes) == 0 {
		md.GrantTypes = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	}
	for _, g := range md.GrantTypes {
		if g != GrantTypeAuthorizationCode && g != GrantTypeRefreshToken {
			return nil, autherr.Malformed(autherr.CodeInvalidClientMetadata, fmt.Sprintf("unsupported grant_type %q", g))
		}
	}
	if len(md.ResponseTypes) == 0 {
		md.ResponseTypes = []string{ResponseTypeCode}
	}
	for _, rt := range md.ResponseTypes {
		if rt != ResponseTypeCode {
			return nil, autherr.Malformed(autherr.CodeInvalidClientMetadata, fmt.Sprintf("unsupported response_type %q", rt))
		}
	}
	if md.TokenEndpointAuthMethod == "" {
		md.TokenEndpointAuthMethod = AuthMethodNone
	}
	if md.TokenEndpointAuthMethod != AuthMethodNone {
		return nil, autherr.Malformed(autherr.CodeInvalidClientMetadata, "only public clients (token_endpoint_auth_method=none) are supported")
	}
	if md.Scope == "" {
		md.Scope = strings.Join(p.cfg.Scopes, " ")
	}

	client := &Client{
		ClientID:                "client_" + uuid.NewString(),
		ClientName:              md.ClientName,
		RedirectURIs:            md.RedirectURIs,
		GrantTypes:              md.GrantTypes,
		ResponseTypes:           md.ResponseTypes,
		Scope:                   md.Scope,
		TokenEndpointAuthMethod: md.TokenEndpointAuthMethod,
		CreatedAt:               p.now(),
	}
	if err := p.store.SaveClient(ctx, client, p.cfg.ClientTTL); err != nil {
		return nil, autherr.Store("save client", err)
	}
	return client, nil
}

// GetClient fetches a registered client.
func (p *Provider) GetClient(ctx context.Context, clientID string) (*Client, error) {
	client, err := p.store.GetClient(ctx, clientID)
	if kv.IsNotFound(err) {
		return nil, autherr.InvalidCredential(autherr.CodeInvalidClient, err)
	}
	if err != nil {
		return nil, autherr.Store("get client", err)
	}
	return client, nil
}

func (p *Provider) issueTokens(ctx context.Context, userID, clientID, scope string, withRefresh bool) (*TokenResponse, error) {
	now := p.now()

	accessToken, err := RandomString(32)
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveAccessToken(ctx, accessToken, &AccessToken{
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		CreatedAt: now,
		ExpiresAt: now.Add(p.cfg.AccessTokenTTL),
	}, p.cfg.AccessTokenTTL); err != nil {
		return nil, autherr.Store("save access token", err)
	}

	resp := &TokenResponse{
		UserID:      userID,
		ClientID:    clientID,
		AccessToken: accessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(p.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
	}
	if !withRefresh {
		return resp, nil
	}

	refreshToken, err := RandomString(48)
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveRefreshToken(ctx, refreshToken, &RefreshToken{
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		CreatedAt: now,
	}, p.cfg.RefreshTokenTTL); err != nil {
		return nil, autherr.Store("save refresh token", err)
	}
	resp.RefreshToken = refreshToken
	return resp, nil
}

func validateRedirectURI(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		return fmt.Errorf("invalid redirect_uri: %s", raw)
	}
	if parsed.Fragment != "" {
		return fmt.Errorf("redirect_uri must not contain a fragment: %s", raw)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "https":
		if parsed.Host == "" {
			return fmt.Errorf("invalid redirect_uri: %s", raw)
		}
		return nil
	case "http":
		host := parsed.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return fmt.Errorf("redirect_uri must use https (or loopback http): %s", raw)
	case "javascript", "data", "file", "vbscript":
		return fmt.Errorf("redirect_uri scheme not allowed: %s", raw)
	default:
		// Private-use schemes for native clients (RFC 8252 §7.1).
		return nil
	}
}

func buildRedirect(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for key, vals := range params {
		for _, v := range vals {
			if v != "" {
				q.Set(key, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ErrorRedirect builds a redirect that reports an authorization error to the
// client (RFC 6749 §4.1.2.1).
func ErrorRedirect(redirectURI, code, description, state string) string {
	return buildRedirect(redirectURI, url.Values{
		"error":             {code},
		"error_description": {description},
		"state":             {state},
	})
}
