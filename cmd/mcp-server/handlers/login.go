package handlers

import (
	"net/http"

	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/monarch-mcp/internal/events"
	"github.com/providentiaww/monarch-mcp/internal/identity"
	"github.com/rs/zerolog/log"
)

// DefaultLanding is where a browser goes after login when no next was given.
const DefaultLanding = "/auth/refresh"

const nextCookieName = "mcp_login_next"

// Resumer completes an OAuth authorization parked under an identity-provider
// state.
type Resumer interface {
	Resume(w http.ResponseWriter, r *http.Request, state, userID string) bool
}

// LoginHandler drives the identity-provider login and logout.
type LoginHandler struct {
	idp          auth.IdentityProvider
	states       *identity.StateLedger
	sessions     *identity.SessionLedger
	resumer      Resumer
	events       events.Publisher
	cookieName   string
	cookieSecure bool
}

// NewLoginHandler creates a login handler. resumer may be nil.
func NewLoginHandler(idp auth.IdentityProvider, states *identity.StateLedger, sessions *identity.SessionLedger, resumer Resumer, pub events.Publisher, cookieName string, cookieSecure bool) *LoginHandler {
	return &LoginHandler{
		idp:          idp,
		states:       states,
		sessions:     sessions,
		resumer:      resumer,
		events:       pub,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
	}
}

// HandleLogin handles GET /auth/login
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.idp == nil {
		renderMessage(w, http.StatusInternalServerError, "Login unavailable", "No identity provider is configured on this server.")
		return
	}

	state, err := h.states.Create(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to create login state")
		renderMessage(w, http.StatusServiceUnavailable, "Login unavailable", "Please try again in a moment.")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     nextCookieName,
		Value:    auth.SafeNext(r.URL.Query().Get("next")),
		Path:     "/auth",
		MaxAge:   int(identity.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.idp.AuthorizationURL(state), http.StatusFound)
}

// HandleCallback handles GET /auth/callback
func (h *LoginHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	if idpErr := query.Get("error"); idpErr != "" {
		log.Info().Str("error", idpErr).Msg("identity provider returned an error")
		renderMessage(w, http.StatusBadRequest, "Login failed", "The identity provider did not complete the login.")
		return
	}

	state := query.Get("state")
	ok, err := h.states.Validate(ctx, state)
	if err != nil {
		log.Error().Err(err).Msg("failed to validate login state")
		renderMessage(w, http.StatusServiceUnavailable, "Login unavailable", "Please try again in a moment.")
		return
	}
	if !ok {
		renderMessage(w, http.StatusBadRequest, "Login expired", "This login attempt is invalid or has expired. Start again.")
		return
	}

	code := query.Get("code")
	if code == "" {
		renderMessage(w, http.StatusBadRequest, "Login failed", "Missing authorization code.")
		return
	}

	token, err := h.idp.Exchange(ctx, code)
	if err != nil {
		log.Warn().Err(err).Msg("identity provider code exchange failed")
		renderMessage(w, http.StatusBadGateway, "Login failed", "The identity provider rejected the login.")
		return
	}
	profile, err := h.idp.FetchProfile(ctx, token)
	if err != nil {
		log.Warn().Err(err).Msg("failed to fetch identity profile")
		renderMessage(w, http.StatusBadGateway, "Login failed", "Could not read your profile from the identity provider.")
		return
	}

	sessionID, err := h.sessions.Create(ctx, profile.ID, profile.Login, profile.Email)
	if err != nil {
		log.Error().Err(err).Str("user_id", profile.ID).Msg("failed to create session")
		renderMessage(w, http.StatusServiceUnavailable, "Login unavailable", "Please try again in a moment.")
		return
	}
	auth.SetSessionCookie(w, h.cookieName, sessionID, identity.SessionTTL, h.cookieSecure)
	events.Emit(ctx, h.events, events.New(events.SessionCreated, profile.ID))
	log.Info().Str("user_id", profile.ID).Msg("user logged in")

	if h.resumer != nil && h.resumer.Resume(w, r, state, profile.ID) {
		return
	}

	next := DefaultLanding
	if c, err := r.Cookie(nextCookieName); err == nil && c.Value != "" && c.Value != "/" {
		next = auth.SafeNext(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: nextCookieName, Path: "/auth", MaxAge: -1, HttpOnly: true, Secure: h.cookieSecure})
	http.Redirect(w, r, next, http.StatusFound)
}

// HandleLogout handles GET and POST /auth/logout
func (h *LoginHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cookieName); err == nil && c.Value != "" {
		if err := h.sessions.Delete(r.Context(), c.Value); err != nil {
			log.Error().Err(err).Msg("failed to delete session")
		}
	}
	auth.ClearSessionCookie(w, h.cookieName, h.cookieSecure)
	renderMessage(w, http.StatusOK, "Signed out", "You have been signed out.")
}
