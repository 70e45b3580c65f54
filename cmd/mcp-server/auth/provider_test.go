package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/providentiaww/monarch-mcp/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newFakeGitHub(t *testing.T, publicEmail string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gh-token", "token_type": "bearer"})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 42, "login": "octocat", "email": publicEmail})
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"email": "old@example.com", "primary": false, "verified": true},
			{"email": "octo@example.com", "primary": true, "verified": true},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testGitHubProvider(srv *httptest.Server) *GitHubProvider {
	p := NewGitHubProvider("cid", "secret", "https://mcp.example.com/auth/callback")
	p.oauth.Endpoint = oauth2.Endpoint{
		AuthURL:  srv.URL + "/login/oauth/authorize",
		TokenURL: srv.URL + "/login/oauth/access_token",
	}
	p.apiURL = srv.URL
	return p
}

func TestGitHubProvider_AuthorizationURL(t *testing.T) {
	p := NewGitHubProvider("cid", "secret", "https://mcp.example.com/auth/callback")
	u, err := url.Parse(p.AuthorizationURL("state-1"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "state-1", u.Query().Get("state"))
	assert.Equal(t, "cid", u.Query().Get("client_id"))
	assert.Equal(t, "https://mcp.example.com/auth/callback", u.Query().Get("redirect_uri"))
}

func TestGitHubProvider_ExchangeAndProfile(t *testing.T) {
	srv := newFakeGitHub(t, "")
	p := testGitHubProvider(srv)
	ctx := context.Background()

	tok, err := p.Exchange(ctx, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "gh-token", tok.AccessToken)

	profile, err := p.FetchProfile(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "github:42", profile.ID)
	assert.Equal(t, "octocat", profile.Login)
	assert.Equal(t, "octo@example.com", profile.Email)

	_, err = p.Exchange(ctx, "bad-code")
	assert.Error(t, err)
}

func TestGitHubProvider_PublicEmail(t *testing.T) {
	srv := newFakeGitHub(t, "public@example.com")
	p := testGitHubProvider(srv)

	profile, err := p.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "gh-token", TokenType: "bearer"})
	require.NoError(t, err)
	assert.Equal(t, "public@example.com", profile.Email)

	_, err = p.FetchProfile(context.Background(), &oauth2.Token{AccessToken: "revoked"})
	assert.Error(t, err)
}

func TestNewIdentityProvider(t *testing.T) {
	p, err := NewIdentityProvider(context.Background(), config.IdentityProvider{Kind: "github", ClientID: "a", ClientSecret: "b"})
	require.NoError(t, err)
	assert.IsType(t, &GitHubProvider{}, p)

	// Discovery against a server without a well-known document fails.
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err = NewIdentityProvider(context.Background(), config.IdentityProvider{Kind: "oidc", IssuerURL: srv.URL, ClientID: "a", ClientSecret: "b"})
	assert.Error(t, err)

	_, err = NewIdentityProvider(context.Background(), config.IdentityProvider{Kind: "ldap"})
	assert.Error(t, err)
}
