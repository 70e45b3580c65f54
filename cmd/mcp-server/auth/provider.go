package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/providentiaww/monarch-mcp/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// Profile is the identity reported by the upstream provider.
type Profile struct {
	ID    string
	Login string
	Email string
}

// IdentityProvider is the upstream login used to establish sessions.
type IdentityProvider interface {
	AuthorizationURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error)
}

// NewIdentityProvider builds the provider selected by cfg.Kind.
func NewIdentityProvider(ctx context.Context, cfg config.IdentityProvider) (IdentityProvider, error) {
	switch cfg.Kind {
	case "github":
		return NewGitHubProvider(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL), nil
	case "oidc":
		return NewOIDCProvider(ctx, cfg.IssuerURL, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL)
	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.Kind)
	}
}

// GitHubProvider logs users in with a GitHub OAuth app.
type GitHubProvider struct {
	oauth  *oauth2.Config
	apiURL string
}

// NewGitHubProvider creates a GitHub provider.
func NewGitHubProvider(clientID, clientSecret, redirectURL string) *GitHubProvider {
	return &GitHubProvider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiURL: "https://api.github.com",
	}
}

func (p *GitHubProvider) AuthorizationURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.oauth.Exchange(ctx, code)
}

// FetchProfile reads /user, falling back to the primary verified address
// from /user/emails when the public email is hidden.
func (p *GitHubProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	client := p.oauth.Client(ctx, token)

	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Email string `json:"email"`
	}
	if err := getJSON(ctx, client, p.apiURL+"/user", &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("github profile has no id")
	}

	email := user.Email
	if email == "" {
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(ctx, client, p.apiURL+"/user/emails", &emails); err == nil {
			for _, e := range emails {
				if e.Primary && e.Verified {
					email = e.Email
					break
				}
			}
		}
	}

	return &Profile{ID: fmt.Sprintf("github:%d", user.ID), Login: user.Login, Email: email}, nil
}

// OIDCProvider logs users in with any OpenID Connect issuer.
type OIDCProvider struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider discovers issuer and creates a provider.
func NewOIDCProvider(ctx context.Context, issuer, clientID, clientSecret, redirectURL string) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return &OIDCProvider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  redirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: clientID}),
	}, nil
}

func (p *OIDCProvider) AuthorizationURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.oauth.Exchange(ctx, code)
}

// FetchProfile verifies the ID token returned with token and reads its
// claims.
func (p *OIDCProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("id_token verification failed: %w", err)
	}

	var claims struct {
		Sub               string `json:"sub"`
		Email             string `json:"email"`
		PreferredUsername string `json:"preferred_username"`
		Name              string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to extract claims: %w", err)
	}

	login := claims.PreferredUsername
	if login == "" {
		login = claims.Name
	}
	return &Profile{ID: claims.Sub, Login: login, Email: claims.Email}, nil
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", strings.TrimPrefix(url, "https://"), resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
