package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/handlers"
	oauthhttp "github.com/providentiaww/monarch-mcp/cmd/mcp-server/oauth"
	"github.com/providentiaww/monarch-mcp/internal/config"
	"github.com/providentiaww/monarch-mcp/internal/credential"
	"github.com/providentiaww/monarch-mcp/internal/crypto"
	"github.com/providentiaww/monarch-mcp/internal/events"
	"github.com/providentiaww/monarch-mcp/internal/identity"
	"github.com/providentiaww/monarch-mcp/internal/kv"
	"github.com/providentiaww/monarch-mcp/internal/oauth"
	"github.com/rs/zerolog/log"
)

// MCPPath is where the streamable HTTP MCP endpoint is mounted.
const MCPPath = "/mcp"

type app struct {
	cfg        config.Server
	middleware *auth.Middleware
	oauth      *oauthhttp.Server
	login      *handlers.LoginHandler
	magic      *handlers.MagicHandler
	refresh    *handlers.RefreshHandler
	status     *handlers.StatusHandler
	mcp        *server.MCPServer
}

func newApp(cfg config.Server, store kv.Store, cipher crypto.Cipher, oauthCfg oauth.Config, idp auth.IdentityProvider, pub events.Publisher, client handlers.MonarchClient) *app {
	provider := oauth.NewProvider(oauthCfg, oauth.NewStore(store))
	states := identity.NewStateLedger(store)
	sessions := identity.NewSessionLedger(store)
	links := identity.NewMagicLinkLedger(store)
	tracker := credential.NewTracker(store, cipher).WithLinks(links, cfg.BaseURL)

	resolver := auth.NewResolver(sessions, provider, cfg.CookieName)
	oauthServer := oauthhttp.NewServer(provider, resolver, states, idp, pub, MCPPath)

	mcpServer := server.NewMCPServer("monarch-mcp", ServiceVersion, server.WithToolCapabilities(false))
	handlers.NewToolHandler(tracker, links, cfg.BaseURL, pub).Register(mcpServer)

	return &app{
		cfg:        cfg,
		middleware: auth.NewMiddleware(resolver, oauthCfg.Issuer+oauthhttp.ProtectedResourcePath+MCPPath),
		oauth:      oauthServer,
		login:      handlers.NewLoginHandler(idp, states, sessions, oauthServer, pub, cfg.CookieName, cfg.CookieSecure),
		magic:      handlers.NewMagicHandler(links, sessions, pub, cfg.CookieName, cfg.CookieSecure),
		refresh:    handlers.NewRefreshHandler(client, tracker, pub, credential.DefaultTTLDays),
		status:     handlers.NewStatusHandler(resolver, tracker),
		mcp:        mcpServer,
	}
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","version":"` + ServiceVersion + `"}`))
	})

	a.oauth.Routes(r)

	r.Get("/auth/login", a.login.HandleLogin)
	r.Get("/auth/callback", a.login.HandleCallback)
	r.Get("/auth/logout", a.login.HandleLogout)
	r.Post("/auth/logout", a.login.HandleLogout)
	r.Get("/auth/magic/{code}", a.magic.HandleMagic)
	r.Get("/auth/status", a.status.HandleStatus)
	r.Group(func(r chi.Router) {
		r.Use(a.middleware.RequireSession)
		r.Get("/auth/refresh", a.refresh.HandleForm)
		r.Post("/auth/refresh", a.refresh.HandleSubmit)
	})

	mcpHandler := server.NewStreamableHTTPServer(a.mcp, server.WithHTTPContextFunc(userContext))
	r.Handle(MCPPath, a.middleware.RequireBearer(mcpHandler))

	return r
}

// userContext carries the authenticated user from the HTTP request into the
// MCP tool context.
func userContext(ctx context.Context, r *http.Request) context.Context {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		return auth.WithUser(ctx, user)
	}
	return ctx
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
