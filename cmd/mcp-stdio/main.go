package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/providentiaww/monarch-mcp/internal/config"
	"github.com/providentiaww/monarch-mcp/internal/credential"
	"github.com/providentiaww/monarch-mcp/internal/crypto"
	"github.com/providentiaww/monarch-mcp/internal/identity"
	"github.com/providentiaww/monarch-mcp/internal/kv"
	"github.com/providentiaww/monarch-mcp/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const version = "v1.0.0"

// defaultLocalUser is the credential owner when MCP_LOCAL_USER_ID is unset.
const defaultLocalUser = "local"

var rootCmd = &cobra.Command{
	Use:           "monarch-mcp",
	Short:         "Local Monarch Money MCP server and credential setup",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.LoadEnv(cmd.Context(), "../../.env")
		// stdout carries the MCP protocol; logs go to stderr.
		logging.SetupWriter(os.Stderr, os.Getenv("LOG_LEVEL"), "console")
	},
}

func init() {
	rootCmd.AddCommand(newServeCmd(), newLoginCmd(), newStatusCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func localUserID() string {
	if id := strings.TrimSpace(os.Getenv("MCP_LOCAL_USER_ID")); id != "" {
		return id
	}
	return defaultLocalUser
}

// localDeps is the store-backed state shared by every subcommand.
type localDeps struct {
	store   io.Closer
	tracker *credential.Tracker
	links   *identity.MagicLinkLedger
	baseURL string
}

func openLocal(ctx context.Context) (*localDeps, error) {
	secret := os.Getenv("CREDENTIAL_ENCRYPTION_KEY")
	if secret == "" {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY is required")
	}
	cipher, err := crypto.NewCipher(secret)
	if err != nil {
		return nil, err
	}

	store, err := kv.NewStoreFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	baseURL := strings.TrimRight(os.Getenv("BASE_URL"), "/")
	links := identity.NewMagicLinkLedger(store)
	tracker := credential.NewTracker(store, cipher)
	if baseURL != "" {
		tracker = tracker.WithLinks(links, baseURL)
	} else {
		log.Debug().Msg("BASE_URL not set; login links disabled")
	}

	return &localDeps{store: store, tracker: tracker, links: links, baseURL: baseURL}, nil
}

func (d *localDeps) Close() error {
	return d.store.Close()
}
