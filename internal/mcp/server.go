package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/warrant/internal/app"
	"github.com/ppiankov/warrant/internal/logging"
)

// Config holds MCP server configuration.
type Config struct {
	// AgentID is the actor used when a tool call names none.
	AgentID string
	Version string
}

// Server exposes the decision pipeline as MCP tools.
type Server struct {
	mcpServer *mcpsdk.Server
	app       *app.App
	agentID   string
	logger    *slog.Logger
}

// New creates an MCP server over a.
func New(cfg Config, a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		app:     a,
		agentID: cfg.AgentID,
		logger:  logger,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "warrant",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all warrant tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warrant_decide",
		Description: "Request a governed decision. Allowed requests return a short-lived capability token; every decision is recorded in the ledger.",
	}, s.handleDecide)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warrant_check",
		Description: "Evaluate a request against the current policy without recording it or issuing a token (dry-run).",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warrant_verify_token",
		Description: "Check whether a capability token (by id or bearer string) authorizes an action with a tool right now.",
	}, s.handleVerifyToken)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warrant_policy_version",
		Description: "Report the version hash and size of the published policy graph.",
	}, s.handlePolicyVersion)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "warrant_verify_ledger",
		Description: "Verify the hash chain and signatures of the decision ledger.",
	}, s.handleVerifyLedger)
}
