package main

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/handlers"
	"github.com/providentiaww/monarch-mcp/internal/events"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio for the local user",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openLocal(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.Close()

			userID := localUserID()
			s := newStdioServer(deps)
			log.Info().Str("user_id", userID).Msg("serving MCP over stdio")
			return server.ServeStdio(s, server.WithStdioContextFunc(func(ctx context.Context) context.Context {
				return auth.WithUser(ctx, &auth.UserContext{UserID: userID})
			}))
		},
	}
}

func newStdioServer(deps *localDeps) *server.MCPServer {
	s := server.NewMCPServer("monarch-mcp", version, server.WithToolCapabilities(false))
	handlers.NewToolHandler(deps.tracker, deps.links, deps.baseURL, events.NopPublisher{}).Register(s)
	return s
}
