package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/credential"
	"github.com/providentiaww/monarch-mcp/internal/events"
	"github.com/providentiaww/monarch-mcp/internal/identity"
	"github.com/rs/zerolog/log"
)

// MagicHandler redeems magic login links.
type MagicHandler struct {
	links        *identity.MagicLinkLedger
	sessions     *identity.SessionLedger
	events       events.Publisher
	cookieName   string
	cookieSecure bool
}

// NewMagicHandler creates a magic link handler.
func NewMagicHandler(links *identity.MagicLinkLedger, sessions *identity.SessionLedger, pub events.Publisher, cookieName string, cookieSecure bool) *MagicHandler {
	return &MagicHandler{
		links:        links,
		sessions:     sessions,
		events:       pub,
		cookieName:   cookieName,
		cookieSecure: cookieSecure,
	}
}

// HandleMagic handles GET /auth/magic/{code}
func (h *MagicHandler) HandleMagic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, userID, err := h.links.Redeem(ctx, chi.URLParam(r, "code"), h.sessions)
	if err != nil {
		switch autherr.KindOf(err) {
		case autherr.KindInvalidCredential, autherr.KindMalformed:
			renderMessage(w, http.StatusBadRequest, "Link expired",
				"This login link is invalid, expired, or already used. Ask your assistant to run "+credential.RemediationTool+" for a new one.")
		default:
			log.Error().Err(err).Msg("failed to redeem magic link")
			renderMessage(w, http.StatusServiceUnavailable, "Login unavailable", "Please try again in a moment.")
		}
		return
	}

	auth.SetSessionCookie(w, h.cookieName, sessionID, identity.MagicSessionTTL, h.cookieSecure)
	events.Emit(ctx, h.events, events.New(events.MagicLinkRedeemed, userID))
	log.Info().Str("user_id", userID).Msg("magic link redeemed")
	http.Redirect(w, r, DefaultLanding, http.StatusFound)
}
