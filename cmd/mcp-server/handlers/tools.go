package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/providentiaww/monarch-mcp/cmd/mcp-server/auth"
	"github.com/providentiaww/monarch-mcp/internal/autherr"
	"github.com/providentiaww/monarch-mcp/internal/credential"
	"github.com/providentiaww/monarch-mcp/internal/events"
	"github.com/providentiaww/monarch-mcp/internal/identity"
	"github.com/rs/zerolog/log"
)

// ToolHandler serves the authentication MCP tools.
type ToolHandler struct {
	tracker *credential.Tracker
	links   credential.LinkIssuer
	baseURL string
	events  events.Publisher
}

// NewToolHandler creates a tool handler. Login links are built on baseURL.
func NewToolHandler(tracker *credential.Tracker, links credential.LinkIssuer, baseURL string, pub events.Publisher) *ToolHandler {
	return &ToolHandler{
		tracker: tracker,
		links:   links,
		baseURL: baseURL,
		events:  pub,
	}
}

// Register adds the tools to s.
func (h *ToolHandler) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("check_auth_status",
		mcp.WithDescription("Check whether your Monarch Money connection is set up and how many days remain before it must be renewed. Returns a login link when action is needed."),
	), h.HandleCheckAuthStatus)

	s.AddTool(mcp.NewTool(credential.RemediationTool,
		mcp.WithDescription("Get a single-use link that signs you in and lets you connect or reconnect your Monarch Money account. The link expires in 10 minutes."),
	), h.HandleGetLoginLink)

	s.AddTool(mcp.NewTool("logout_monarch",
		mcp.WithDescription("Delete the stored Monarch Money credential. Use get_login_link to connect again."),
	), h.HandleLogout)
}

// HandleCheckAuthStatus handles the check_auth_status tool.
func (h *ToolHandler) HandleCheckAuthStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}

	st, err := h.tracker.CheckCredentialHealth(ctx, user.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.UserID).Msg("credential health check failed")
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check credential status: %s", describe(err))), nil
	}

	jsonData, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format status: %v", err)), nil
	}
	result := mcp.NewToolResultText(string(jsonData))
	if stErr := st.Err(); stErr != nil {
		result.Content = append(result.Content, mcp.NewTextContent(describe(stErr)))
	}
	return result, nil
}

// HandleGetLoginLink handles the get_login_link tool.
func (h *ToolHandler) HandleGetLoginLink(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}

	link, err := h.links.Generate(ctx, user.UserID, h.baseURL)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.UserID).Msg("failed to generate login link")
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create login link: %s", describe(err))), nil
	}
	events.Emit(ctx, h.events, events.New(events.MagicLinkIssued, user.UserID))

	return mcp.NewToolResultText(fmt.Sprintf(
		"Open this link to connect Monarch Money: %s\nIt works once and expires in %d minutes.",
		link, int(identity.MagicLinkTTL.Minutes()),
	)), nil
}

// HandleLogout handles the logout_monarch tool.
func (h *ToolHandler) HandleLogout(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}

	if err := h.tracker.Delete(ctx, user.UserID); err != nil {
		log.Error().Err(err).Str("user_id", user.UserID).Msg("failed to delete credential")
		return mcp.NewToolResultError(fmt.Sprintf("Failed to remove credential: %s", describe(err))), nil
	}
	events.Emit(ctx, h.events, events.New(events.CredentialDeleted, user.UserID))

	return mcp.NewToolResultText("Monarch Money credential removed. Use " + credential.RemediationTool + " to connect again."), nil
}

// describe renders err for a tool reply, including any remediation hints.
func describe(err error) string {
	e, ok := autherr.As(err)
	if !ok {
		return "internal error"
	}
	var b strings.Builder
	b.WriteString(e.Message)
	if e.URL != "" {
		fmt.Fprintf(&b, ". Open %s to reconnect", e.URL)
	}
	if e.Tool != "" {
		fmt.Fprintf(&b, ". Call %s for a new login link", e.Tool)
	}
	return b.String()
}
