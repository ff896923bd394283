package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/warrant/internal/capability"
	"github.com/ppiankov/warrant/internal/decision"
	"github.com/ppiankov/warrant/internal/model"
)

// --- Input/Output types ---

// DecideInput defines parameters for the warrant_decide and warrant_check tools.
type DecideInput struct {
	Actor    string         `json:"actor,omitempty" jsonschema:"acting agent, defaults to the server's agent id"`
	Action   string         `json:"action" jsonschema:"action to perform, e.g. read_file"`
	Tool     string         `json:"tool" jsonschema:"tool used to perform the action"`
	Resource string         `json:"resource,omitempty" jsonschema:"resource acted on"`
	Context  map[string]any `json:"context,omitempty" jsonschema:"request context flags and values referenced by policy conditions"`
}

// DecideOutput contains the decision and, on allow, the token.
type DecideOutput struct {
	Outcome           string   `json:"outcome"`
	Reason            string   `json:"reason,omitempty"`
	MatchedRelations  []string `json:"matched_relations"`
	PolicyVersionHash string   `json:"policy_version_hash,omitempty"`
	TokenID           string   `json:"token_id,omitempty"`
	Bearer            string   `json:"bearer,omitempty"`
	Expiry            string   `json:"expiry,omitempty"`
	LedgerSequence    *uint64  `json:"ledger_sequence,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// CheckOutput contains a dry-run verdict.
type CheckOutput struct {
	Decision          string   `json:"decision"`
	Reason            string   `json:"reason"`
	MatchedRelations  []string `json:"matched_relations"`
	PolicyVersionHash string   `json:"policy_version_hash"`
}

// VerifyTokenInput defines parameters for the warrant_verify_token tool.
type VerifyTokenInput struct {
	TokenID  string `json:"token_id,omitempty" jsonschema:"token id returned by warrant_decide"`
	Bearer   string `json:"bearer,omitempty" jsonschema:"bearer string returned by warrant_decide, used when token_id is empty"`
	Action   string `json:"action" jsonschema:"action the token is presented for"`
	Tool     string `json:"tool" jsonschema:"tool the token is presented for"`
	Resource string `json:"resource,omitempty" jsonschema:"resource the token is presented for"`
}

// VerifyTokenOutput reports only validity.
type VerifyTokenOutput struct {
	Valid bool `json:"valid"`
}

// EmptyInput is for tools without parameters.
type EmptyInput struct{}

// PolicyVersionOutput describes the published policy graph.
type PolicyVersionOutput struct {
	PolicyVersionHash string `json:"policy_version_hash"`
	Terms             int    `json:"terms"`
	Relations         int    `json:"relations"`
}

// VerifyLedgerOutput is the ledger verification result.
type VerifyLedgerOutput struct {
	Valid         bool    `json:"valid"`
	Entries       int     `json:"entries"`
	Error         string  `json:"error,omitempty"`
	ErrorSequence *uint64 `json:"error_sequence,omitempty"`
}

// --- Handlers ---

func (s *Server) request(input DecideInput) model.Request {
	actor := input.Actor
	if actor == "" {
		actor = s.agentID
	}
	return model.Request{
		Actor:    actor,
		Action:   input.Action,
		Tool:     input.Tool,
		Resource: input.Resource,
		Context:  input.Context,
	}
}

func (s *Server) handleDecide(ctx context.Context, req *mcpsdk.CallToolRequest, input DecideInput) (*mcpsdk.CallToolResult, DecideOutput, error) {
	d, err := s.app.Decisions.Decide(ctx, s.request(input))
	out := DecideOutput{
		Outcome:           string(d.Outcome),
		Reason:            string(d.Reason),
		MatchedRelations:  d.MatchedRelations,
		PolicyVersionHash: d.PolicyVersionHash,
		LedgerSequence:    d.LedgerSequence,
	}
	if out.MatchedRelations == nil {
		out.MatchedRelations = []string{}
	}
	if err != nil {
		s.logger.Error("mcp decide failed", "error", err)
		out.Outcome = string(decision.OutcomeError)
		out.Error = err.Error()
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	if !d.Allowed() {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}

	bearer, err := capability.EncodeString(d.Token)
	if err != nil {
		return nil, DecideOutput{}, fmt.Errorf("encode bearer token: %w", err)
	}
	out.TokenID = d.Token.ID
	out.Bearer = bearer
	out.Expiry = model.FormatTime(d.Token.Expiry)
	return nil, out, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input DecideInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	r := s.request(input)
	if err := r.Validate(); err != nil {
		return nil, CheckOutput{}, err
	}
	v := s.app.Engine.Evaluate(ctx, r)
	return nil, CheckOutput{
		Decision:          string(v.Decision),
		Reason:            string(v.Reason),
		MatchedRelations:  v.MatchedRelations,
		PolicyVersionHash: v.PolicyVersionHash,
	}, nil
}

func (s *Server) handleVerifyToken(ctx context.Context, req *mcpsdk.CallToolRequest, input VerifyTokenInput) (*mcpsdk.CallToolResult, VerifyTokenOutput, error) {
	id := input.TokenID
	if id == "" && input.Bearer != "" {
		tok, err := capability.DecodeString(input.Bearer)
		if err != nil {
			return nil, VerifyTokenOutput{Valid: false}, nil
		}
		id = tok.ID
	}
	valid := s.app.Decisions.VerifyToken(id, input.Action, input.Tool, input.Resource)
	return nil, VerifyTokenOutput{Valid: valid}, nil
}

func (s *Server) handlePolicyVersion(ctx context.Context, req *mcpsdk.CallToolRequest, input EmptyInput) (*mcpsdk.CallToolResult, PolicyVersionOutput, error) {
	g := s.app.Holder.Load()
	terms, relations := g.Len()
	return nil, PolicyVersionOutput{
		PolicyVersionHash: g.VersionHash(),
		Terms:             terms,
		Relations:         relations,
	}, nil
}

func (s *Server) handleVerifyLedger(ctx context.Context, req *mcpsdk.CallToolRequest, input EmptyInput) (*mcpsdk.CallToolResult, VerifyLedgerOutput, error) {
	res := s.app.Chain.VerifyChain(ctx)
	out := VerifyLedgerOutput{
		Valid:         res.Valid,
		Entries:       res.Entries,
		Error:         res.Error,
		ErrorSequence: res.ErrorSequence,
	}
	if !res.Valid {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}
