package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/monarch-mcp/internal/config"
	"github.com/providentiaww/monarch-mcp/internal/crypto"
	"github.com/providentiaww/monarch-mcp/internal/events"
	"github.com/providentiaww/monarch-mcp/internal/kv"
	"github.com/providentiaww/monarch-mcp/internal/logging"
	"github.com/providentiaww/monarch-mcp/internal/monarch"
	"github.com/providentiaww/monarch-mcp/internal/oauth"
	"github.com/rs/zerolog/log"
)

const ServiceVersion = "v1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config.LoadEnv(ctx, "../../.env")

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid server configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("version", ServiceVersion).Str("base_url", cfg.BaseURL).Msg("starting monarch MCP server")

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(ctx context.Context, cfg config.Server) error {
	store, err := kv.NewStoreFromEnv(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	cipher, err := crypto.NewCipher(cfg.EncryptionSecret)
	if err != nil {
		return err
	}

	oauthCfg, err := oauth.LoadConfigFromEnv(cfg.BaseURL)
	if err != nil {
		return err
	}

	var idp auth.IdentityProvider
	if idpCfg, err := config.LoadIdentityProvider(cfg.BaseURL); err != nil {
		log.Warn().Err(err).Msg("identity provider not configured; browser login disabled")
	} else if idp, err = auth.NewIdentityProvider(ctx, idpCfg); err != nil {
		return err
	}

	publisher, err := events.NewPublisherFromEnv()
	if err != nil {
		log.Warn().Err(err).Msg("event publishing disabled")
		publisher = events.NopPublisher{}
	}
	defer publisher.Close()

	app := newApp(cfg, store, cipher, oauthCfg, idp, publisher, monarch.NewClient(""))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
