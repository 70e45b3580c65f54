package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/credential"
	"github.com/providentiaww/monarch-mcp/internal/events"
	"github.com/providentiaww/monarch-mcp/internal/monarch"
	"github.com/rs/zerolog/log"
)

// MonarchClient exchanges account credentials for a Monarch API token.
type MonarchClient interface {
	Login(ctx context.Context, email, password, mfaCode string) (string, error)
	Ping(ctx context.Context, token string) (int, error)
}

// RefreshHandler serves the page where a signed-in user connects or
// reconnects their Monarch Money account.
type RefreshHandler struct {
	monarch MonarchClient
	tracker *credential.Tracker
	events  events.Publisher
	ttlDays int
}

// NewRefreshHandler creates a refresh handler. ttlDays ≤ 0 uses the tracker
// default.
func NewRefreshHandler(client MonarchClient, tracker *credential.Tracker, pub events.Publisher, ttlDays int) *RefreshHandler {
	return &RefreshHandler{
		monarch: client,
		tracker: tracker,
		events:  pub,
		ttlDays: ttlDays,
	}
}

const refreshTitle = "Connect Monarch Money"

// HandleForm handles GET /auth/refresh
func (h *RefreshHandler) HandleForm(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, auth.LoginRedirect(r.URL.RequestURI()), http.StatusFound)
		return
	}

	data := pageData{Title: refreshTitle, Email: user.Email}
	st, err := h.tracker.Status(r.Context(), user.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", user.UserID).Msg("failed to read credential status")
	} else if st.HasCredential && !st.NeedsAction {
		data.Message = "Your Monarch Money connection is active. Submitting again replaces it."
	}
	renderPage(w, http.StatusOK, "refresh", data)
}

// HandleSubmit handles POST /auth/refresh
func (h *RefreshHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		http.Redirect(w, r, auth.LoginRedirect("/auth/refresh"), http.StatusFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		renderPage(w, http.StatusBadRequest, "refresh", pageData{Title: refreshTitle, Message: "Invalid form submission.", Error: true})
		return
	}
	email := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	mfaCode := strings.TrimSpace(r.PostForm.Get("mfa_code"))

	data := pageData{Title: refreshTitle, Email: email, NeedMFA: mfaCode != "", Error: true}
	if email == "" || password == "" {
		data.Message = "Email and password are required."
		renderPage(w, http.StatusBadRequest, "refresh", data)
		return
	}

	token, err := h.monarch.Login(ctx, email, password, mfaCode)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, monarch.ErrMFARequired):
			status = http.StatusUnauthorized
			data.NeedMFA = true
			data.Message = "Enter the multi-factor code from your authenticator app."
			if mfaCode != "" {
				data.Message = "That multi-factor code was not accepted. Try again."
			}
		case errors.Is(err, monarch.ErrInvalidCredentials):
			status = http.StatusUnauthorized
			data.Message = "Monarch Money rejected that email or password."
		case autherr.KindOf(err) == autherr.KindMalformed:
			status = http.StatusBadRequest
			data.Message = "Email and password are required."
		default:
			log.Error().Err(err).Str("user_id", user.UserID).Msg("monarch login failed")
			data.Message = "Could not reach Monarch Money. Try again shortly."
		}
		renderPage(w, status, "refresh", data)
		return
	}

	accounts, err := h.monarch.Ping(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.UserID).Msg("monarch token check failed")
		data.Message = "Logged in, but Monarch Money did not accept the new session. Try again."
		renderPage(w, http.StatusBadGateway, "refresh", data)
		return
	}

	if err := h.tracker.Store(ctx, user.UserID, token, h.ttlDays); err != nil {
		log.Error().Err(err).Str("user_id", user.UserID).Msg("failed to store credential")
		data.Message = "Could not save your Monarch Money session. Try again."
		renderPage(w, autherr.HTTPStatus(err), "refresh", data)
		return
	}
	events.Emit(ctx, h.events, events.New(events.CredentialStored, user.UserID))
	log.Info().Str("user_id", user.UserID).Int("accounts", accounts).Msg("monarch credential refreshed")

	renderPage(w, http.StatusOK, "refresh", pageData{
		Title:   "Monarch Money connected",
		Message: "Connected. Your assistant can use your Monarch Money data again.",
		Done:    true,
	})
}
