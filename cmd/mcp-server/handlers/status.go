package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/credential"
	"github.com/rs/zerolog/log"
)

// StatusHandler reports the caller's authentication and credential state.
type StatusHandler struct {
	resolver *auth.Resolver
	tracker  *credential.Tracker
}

// NewStatusHandler creates a status handler.
func NewStatusHandler(resolver *auth.Resolver, tracker *credential.Tracker) *StatusHandler {
	return &StatusHandler{resolver: resolver, tracker: tracker}
}

// StatusResponse is the body of GET /auth/status.
type StatusResponse struct {
	Authenticated bool               `json:"authenticated"`
	UserID        string             `json:"user_id,omitempty"`
	Username      string             `json:"username,omitempty"`
	LoginURL      string             `json:"login_url,omitempty"`
	Credential    *credential.Status `json:"credential,omitempty"`
}

// HandleStatus handles GET /auth/status
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	user, err := h.resolver.Resolve(r)
	if errors.Is(err, auth.ErrUnauthenticated) {
		writeJSON(w, http.StatusOK, StatusResponse{LoginURL: auth.LoginRedirect(DefaultLanding)})
		return
	}
	if autherr.KindOf(err) == autherr.KindInvalidCredential {
		writeJSON(w, http.StatusUnauthorized, StatusResponse{LoginURL: auth.LoginRedirect(DefaultLanding)})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to resolve caller")
		writeJSONError(w, autherr.HTTPStatus(err), "status unavailable")
		return
	}

	st, err := h.tracker.CheckCredentialHealth(r.Context(), user.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.UserID).Msg("failed to check credential health")
		writeJSONError(w, autherr.HTTPStatus(err), "status unavailable")
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Authenticated: true,
		UserID:        user.UserID,
		Username:      user.Username,
		Credential:    st,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
