package oauth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/events"
	"github.com/providentiaww/monarch-mcp/internal/identity"
	"github.com/providentiaww/monarch-mcp/internal/oauth"
	"github.com/rs/zerolog/log"
)

// ProtectedResourcePath is where the MCP endpoint's RFC 9728 metadata lives.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

// Server provides OAuth 2.1 endpoints.
type Server struct {
	provider     *oauth.Provider
	resolver     *auth.Resolver
	states       *identity.StateLedger
	idp          auth.IdentityProvider
	events       events.Publisher
	resourcePath string
}

// NewServer creates an OAuth server. resourcePath is the path of the
// protected MCP endpoint.
func NewServer(provider *oauth.Provider, resolver *auth.Resolver, states *identity.StateLedger, idp auth.IdentityProvider, pub events.Publisher, resourcePath string) *Server {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &Server{
		provider:     provider,
		resolver:     resolver,
		states:       states,
		idp:          idp,
		events:       pub,
		resourcePath: resourcePath,
	}
}

// Routes mounts the OAuth endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/.well-known/oauth-authorization-server", s.HandleWellKnown)
	r.Get(ProtectedResourcePath, s.HandleProtectedResource)
	r.Get(ProtectedResourcePath+"/*", s.HandleProtectedResource)
	r.Get("/oauth/authorize", s.HandleAuthorize)
	r.Post("/oauth/token", s.HandleToken)
	r.Post("/oauth/register", s.HandleRegister)
	r.Post("/oauth/revoke", s.HandleRevoke)
}

// HandleWellKnown serves authorization server metadata.
func (s *Server) HandleWellKnown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.Metadata())
}

// HandleProtectedResource serves protected resource metadata for the MCP
// endpoint.
func (s *Server) HandleProtectedResource(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.provider.ResourceMetadata(s.resourcePath))
}

// HandleAuthorize validates the request and either issues a code for the
// signed-in user or parks the request and sends the browser to the identity
// provider.
func (s *Server) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	req, err := s.provider.ParseAuthorizeRequest(ctx, query)
	if err != nil {
		log.Info().Err(err).Str("client_id", query.Get("client_id")).Msg("oauth authorize rejected")
		if redirect, ok := s.errorRedirect(r, err); ok {
			http.Redirect(w, r, redirect, http.StatusFound)
			return
		}
		writeOAuthError(w, err)
		return
	}

	user, err := s.resolver.ResolveSession(r)
	switch {
	case err == nil:
		redirect, err := s.provider.IssueCode(ctx, req, user.UserID)
		if err != nil {
			log.Error().Err(err).Str("client_id", req.ClientID).Msg("oauth issue code failed")
			writeOAuthError(w, err)
			return
		}
		http.Redirect(w, r, redirect, http.StatusFound)
		return
	case !errors.Is(err, auth.ErrUnauthenticated):
		log.Error().Err(err).Msg("oauth authorize session lookup failed")
		writeOAuthError(w, err)
		return
	}

	if s.idp == nil {
		writeOAuthError(w, autherr.Configuration("identity provider is not configured"))
		return
	}
	state, err := s.states.Create(ctx)
	if err != nil {
		writeOAuthError(w, err)
		return
	}
	if err := s.provider.SavePending(ctx, state, req); err != nil {
		writeOAuthError(w, err)
		return
	}
	http.Redirect(w, r, s.idp.AuthorizationURL(state), http.StatusFound)
}

// Resume completes an authorization parked under state once userID has
// logged in. It reports false when state was not part of an OAuth flow.
func (s *Server) Resume(w http.ResponseWriter, r *http.Request, state, userID string) bool {
	req, ok, err := s.provider.TakePending(r.Context(), state)
	if err != nil {
		log.Error().Err(err).Msg("oauth resume failed")
		writeOAuthError(w, err)
		return true
	}
	if !ok {
		return false
	}

	redirect, err := s.provider.IssueCode(r.Context(), req, userID)
	if err != nil {
		log.Error().Err(err).Str("client_id", req.ClientID).Msg("oauth issue code failed")
		writeOAuthError(w, err)
		return true
	}
	http.Redirect(w, r, redirect, http.StatusFound)
	return true
}

// HandleToken exchanges authorization codes or refresh tokens.
func (s *Server) HandleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, autherr.Malformed("", "invalid form body"))
		return
	}

	var (
		resp *oauth.TokenResponse
		err  error
	)
	grantType := r.PostFormValue("grant_type")
	switch grantType {
	case oauth.GrantTypeAuthorizationCode:
		resp, err = s.provider.ExchangeCode(r.Context(), oauth.CodeExchange{
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			CodeVerifier: r.PostFormValue("code_verifier"),
			ClientID:     r.PostFormValue("client_id"),
		})
	case oauth.GrantTypeRefreshToken:
		resp, err = s.provider.Refresh(r.Context(), r.PostFormValue("refresh_token"), r.PostFormValue("client_id"))
	case "":
		err = autherr.Malformed("", "grant_type required")
	default:
		err = autherr.Malformed(autherr.CodeUnsupportedGrantType, "unsupported grant_type")
	}
	if err != nil {
		log.Info().Err(err).Str("grant_type", grantType).Str("client_id", r.PostFormValue("client_id")).Msg("oauth token rejected")
		writeOAuthError(w, err)
		return
	}

	evt := events.New(events.OAuthTokenIssued, resp.UserID)
	evt.ClientID = resp.ClientID
	events.Emit(r.Context(), s.events, evt)

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// HandleRegister registers public clients (RFC 7591).
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	cfg := s.provider.Config()
	if cfg.DCRMode == oauth.DCRModeProtected && !checkDCRAccess(r, cfg.DCRAccessToken) {
		writeOAuthError(w, autherr.InvalidCredential(autherr.CodeInvalidToken, errors.New("missing or wrong registration access token")))
		return
	}

	var md oauth.ClientMetadata
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&md); err != nil {
		writeOAuthError(w, autherr.Malformed(autherr.CodeInvalidClientMetadata, "invalid JSON body"))
		return
	}

	client, err := s.provider.RegisterClient(r.Context(), md)
	if err != nil {
		log.Info().Err(err).Msg("oauth register rejected")
		writeOAuthError(w, err)
		return
	}

	evt := events.New(events.OAuthClientCreated, "")
	evt.ClientID = client.ClientID
	events.Emit(r.Context(), s.events, evt)

	writeJSON(w, http.StatusCreated, oauth.ClientMetadata{
		ClientID:                client.ClientID,
		ClientIDIssuedAt:        client.CreatedAt.Unix(),
		ClientName:              client.ClientName,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		Scope:                   client.Scope,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
	})
}

// HandleRevoke revokes an access or refresh token (RFC 7009).
func (s *Server) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, autherr.Malformed("", "invalid form body"))
		return
	}
	if err := s.provider.Revoke(r.Context(), r.PostFormValue("token")); err != nil {
		writeOAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// errorRedirect reports malformed authorize requests back to the client once
// its redirect_uri has been confirmed as registered.
func (s *Server) errorRedirect(r *http.Request, err error) (string, bool) {
	if !autherr.Is(err, autherr.KindMalformed) {
		return "", false
	}
	query := r.URL.Query()
	redirectURI := query.Get("redirect_uri")
	if redirectURI == "" || query.Get("client_id") == "" {
		return "", false
	}
	client, lookupErr := s.provider.GetClient(r.Context(), query.Get("client_id"))
	if lookupErr != nil || !client.AllowsRedirect(redirectURI) {
		return "", false
	}
	e, _ := autherr.As(err)
	return oauth.ErrorRedirect(redirectURI, e.Code, e.Message, query.Get("state")), true
}

func checkDCRAccess(r *http.Request, expected string) bool {
	if expected == "" {
		return false
	}
	token := auth.ExtractBearerToken(r)
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// writeOAuthError renders err as an RFC 6749 §5.2 error body.
func writeOAuthError(w http.ResponseWriter, err error) {
	status := autherr.HTTPStatus(err)
	body := oauthError{Error: autherr.CodeOf(err)}
	if e, ok := autherr.As(err); ok {
		body.ErrorDescription = e.Message
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer error="+strconv.Quote(body.Error))
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
