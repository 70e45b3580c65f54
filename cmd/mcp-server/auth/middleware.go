package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/identity"
	"github.com/providentiaww/monarch-mcp/internal/oauth"
	"github.com/rs/zerolog/log"
)

// ErrUnauthenticated is returned when a request carries neither a bearer
// token nor a session cookie.
var ErrUnauthenticated = errors.New("authentication required")

// TokenValidator resolves OAuth access tokens.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*oauth.AccessToken, error)
}

// Resolver maps a request's bearer token or session cookie to a user.
type Resolver struct {
	sessions   *identity.SessionLedger
	tokens     TokenValidator
	cookieName string
}

// NewResolver creates a resolver.
func NewResolver(sessions *identity.SessionLedger, tokens TokenValidator, cookieName string) *Resolver {
	return &Resolver{sessions: sessions, tokens: tokens, cookieName: cookieName}
}

// CookieName returns the session cookie name.
func (r *Resolver) CookieName() string {
	return r.cookieName
}

// Resolve checks the Authorization header first, then the session cookie. A
// presented but invalid bearer token is an error even if a cookie is also
// present.
func (r *Resolver) Resolve(req *http.Request) (*UserContext, error) {
	if token := ExtractBearerToken(req); token != "" {
		return r.ResolveBearer(req.Context(), token)
	}
	return r.ResolveSession(req)
}

// ResolveBearer validates an OAuth access token.
func (r *Resolver) ResolveBearer(ctx context.Context, token string) (*UserContext, error) {
	if r.tokens == nil {
		return nil, ErrUnauthenticated
	}
	record, err := r.tokens.ValidateAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &UserContext{UserID: record.UserID, ClientID: record.ClientID}, nil
}

// ResolveSession resolves the session cookie.
func (r *Resolver) ResolveSession(req *http.Request) (*UserContext, error) {
	cookie, err := req.Cookie(r.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrUnauthenticated
	}
	sess, err := r.sessions.Get(req.Context(), cookie.Value)
	if errors.Is(err, identity.ErrSessionNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return &UserContext{
		UserID:    sess.UserID,
		Username:  sess.Username,
		Email:     sess.Email,
		SessionID: cookie.Value,
	}, nil
}

// Middleware enforces authentication on routes.
type Middleware struct {
	resolver         *Resolver
	resourceMetadata string
}

// NewMiddleware creates middleware. resourceMetadataURL is advertised in
// bearer challenges (RFC 9728 §5.1).
func NewMiddleware(resolver *Resolver, resourceMetadataURL string) *Middleware {
	return &Middleware{resolver: resolver, resourceMetadata: resourceMetadataURL}
}

// RequireBearer admits only requests with a valid OAuth access token.
func (m *Middleware) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := ExtractBearerToken(r)
		if token == "" {
			m.challenge(w, "")
			return
		}

		user, err := m.resolver.ResolveBearer(r.Context(), token)
		if err != nil {
			if autherr.Is(err, autherr.KindInvalidCredential) || errors.Is(err, ErrUnauthenticated) {
				log.Debug().Err(err).Msg("rejected bearer token")
				m.challenge(w, autherr.CodeInvalidToken)
				return
			}
			log.Error().Err(err).Msg("bearer token lookup failed")
			http.Error(w, "authorization temporarily unavailable", autherr.HTTPStatus(err))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireSession admits requests with a browser session and redirects the
// rest to the login page, returning afterwards.
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := m.resolver.ResolveSession(r)
		if errors.Is(err, ErrUnauthenticated) {
			http.Redirect(w, r, LoginRedirect(r.URL.RequestURI()), http.StatusFound)
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("session lookup failed")
			http.Error(w, "session store unavailable", autherr.HTTPStatus(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (m *Middleware) challenge(w http.ResponseWriter, code string) {
	parts := []string{`realm="mcp"`}
	if code != "" {
		parts = append(parts, fmt.Sprintf(`error=%q`, code))
	}
	if m.resourceMetadata != "" {
		parts = append(parts, fmt.Sprintf(`resource_metadata=%q`, m.resourceMetadata))
	}
	w.Header().Set("WWW-Authenticate", "Bearer "+strings.Join(parts, ", "))
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// LoginRedirect builds the login URL that returns to next afterwards.
func LoginRedirect(next string) string {
	return "/auth/login?" + url.Values{"next": {next}}.Encode()
}

// SafeNext returns next if it is a local path and "/" otherwise.
func SafeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

// ExtractBearerToken returns the token from an Authorization: Bearer header.
func ExtractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// SetSessionCookie writes the session cookie.
func SetSessionCookie(w http.ResponseWriter, name, sessionID string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, name string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
