package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/warrant/internal/app"
	"github.com/ppiankov/warrant/internal/client"
	"github.com/ppiankov/warrant/internal/decision"
	"github.com/ppiankov/warrant/internal/model"
)

var (
	decideActor    string
	decideAction   string
	decideTool     string
	decideResource string
	decideContext  []string
	decideServer   string
)

func init() {
	rootCmd.AddCommand(decideCmd)
	decideCmd.Flags().StringVar(&decideActor, "actor", "", "Requesting actor (required)")
	decideCmd.Flags().StringVar(&decideAction, "action", "", "Requested action (required)")
	decideCmd.Flags().StringVar(&decideTool, "tool", "", "Tool used for the action (required)")
	decideCmd.Flags().StringVar(&decideResource, "resource", "", "Resource acted on")
	decideCmd.Flags().StringArrayVar(&decideContext, "ctx", nil, "Context attribute key=value; JSON values are decoded (repeatable)")
	decideCmd.Flags().StringVar(&decideServer, "server", "", "Ask a running decision server (host:port) instead of deciding locally")
	decideCmd.MarkFlagRequired("actor")
	decideCmd.MarkFlagRequired("action")
	decideCmd.MarkFlagRequired("tool")
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Request a governance decision",
	Long: "Evaluates one request and prints the decision as JSON.\n" +
		"Locally the decision is recorded in the configured ledger; with --server\n" +
		"the running server decides and records it.\n\n" +
		"Exit code 0 on allow, 2 on deny, 1 on error.",
	RunE: runDecide,
}

func runDecide(cmd *cobra.Command, args []string) error {
	reqCtx, err := parseContextPairs(decideContext)
	if err != nil {
		return err
	}
	req := model.Request{
		Actor:    decideActor,
		Action:   decideAction,
		Tool:     decideTool,
		Resource: decideResource,
		Context:  reqCtx,
	}

	ctx := context.Background()
	var d decision.Decision
	if decideServer != "" {
		d, err = decideRemote(ctx, req)
	} else {
		d, err = decideLocal(ctx, req)
	}

	out, mErr := json.MarshalIndent(d, "", "  ")
	if mErr != nil {
		return fmt.Errorf("marshal decision: %w", mErr)
	}
	fmt.Println(string(out))

	switch {
	case err != nil:
		return err
	case d.Outcome == decision.OutcomeDeny:
		return &exitCodeError{code: 2, msg: fmt.Sprintf("denied: %s", d.Reason)}
	}
	return nil
}

func decideLocal(ctx context.Context, req model.Request) (decision.Decision, error) {
	cfg, err := loadConfig()
	if err != nil {
		return decision.Decision{Outcome: decision.OutcomeError}, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return decision.Decision{Outcome: decision.OutcomeError}, err
	}
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return decision.Decision{Outcome: decision.OutcomeError, Error: err.Error()}, err
	}
	defer a.Close()
	return a.Decisions.Decide(ctx, req)
}

func decideRemote(ctx context.Context, req model.Request) (decision.Decision, error) {
	c, err := client.New(decideServer)
	if err != nil {
		return decision.Decision{Outcome: decision.OutcomeError, Error: err.Error()}, err
	}
	defer c.Close()
	return c.Decide(ctx, req)
}

// parseContextPairs turns key=value flags into a context map. Values
// that parse as JSON keep their type, so pii_present=true is a bool.
func parseContextPairs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --ctx %q: want key=value", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
		} else {
			out[k] = v
		}
	}
	return out, nil
}
