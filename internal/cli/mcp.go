package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/warrant/internal/app"
	warrantmcp "github.com/ppiankov/warrant/internal/mcp"
)

var mcpAgent string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpAgent, "agent", "", "Actor used when a tool call names none")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs warrant as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: warrant_decide, warrant_check, warrant_verify_token,\n" +
		"warrant_policy_version, warrant_verify_ledger.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.Close()

	srv := warrantmcp.New(warrantmcp.Config{AgentID: mcpAgent, Version: version}, a, logger)

	fmt.Fprintln(os.Stderr, "warrant MCP server running on stdio")
	if mcpAgent != "" {
		fmt.Fprintf(os.Stderr, "Agent: %s\n", mcpAgent)
	}
	fmt.Fprintln(os.Stderr)

	err = srv.Run(ctx)

	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Ledger entries: %d, live tokens: %d\n", a.Chain.Len(), a.Tokens.Len())
	return err
}
