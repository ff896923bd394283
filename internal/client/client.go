package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	governancev1 "github.com/ppiankov/warrant/api/proto/warrant/v1"
	"github.com/ppiankov/warrant/internal/decision"
	"github.com/ppiankov/warrant/internal/ledger"
	"github.com/ppiankov/warrant/internal/model"
)

const defaultTimeout = 5 * time.Second

// Client connects to a warrant gRPC server.
type Client struct {
	conn   *grpc.ClientConn
	client governancev1.GovernanceClient
	health healthpb.HealthClient
}

// New creates a gRPC client connected to the given address.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to warrant server: %w", err)
	}
	return &Client{
		conn:   conn,
		client: governancev1.NewGovernanceClient(conn),
		health: healthpb.NewHealthClient(conn),
	}, nil
}

// Decide asks the server for a decision. Any RPC failure, including an
// unreachable server, yields OutcomeError and a non-nil error; it is
// never reported as a deny.
func (c *Client) Decide(ctx context.Context, req model.Request) (decision.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	in, err := governancev1.ToStruct(req)
	if err != nil {
		return errorDecision(err), err
	}
	out, err := c.client.Decide(ctx, in)
	if err != nil {
		err = fmt.Errorf("decide: %w", err)
		return errorDecision(err), err
	}
	var d decision.Decision
	if err := governancev1.FromStruct(out, &d); err != nil {
		return errorDecision(err), err
	}
	return d, nil
}

func errorDecision(err error) decision.Decision {
	return decision.Decision{Outcome: decision.OutcomeError, MatchedRelations: []string{}, Error: err.Error()}
}

// VerifyToken asks the server whether tokenID authorizes the use.
// RPC failures report false.
func (c *Client) VerifyToken(ctx context.Context, tokenID, action, tool, resource string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	in, err := governancev1.ToStruct(governancev1.VerifyTokenRequest{
		TokenID: tokenID, Action: action, Tool: tool, Resource: resource,
	})
	if err != nil {
		return false, err
	}
	out, err := c.client.VerifyToken(ctx, in)
	if err != nil {
		return false, err
	}
	var resp governancev1.VerifyTokenResponse
	if err := governancev1.FromStruct(out, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

// VerifyLedger asks the server to verify its ledger.
func (c *Client) VerifyLedger(ctx context.Context) (ledger.VerifyResult, error) {
	out, err := c.client.VerifyLedger(ctx, &structpb.Struct{})
	if err != nil {
		return ledger.VerifyResult{}, err
	}
	var res ledger.VerifyResult
	if err := governancev1.FromStruct(out, &res); err != nil {
		return ledger.VerifyResult{}, err
	}
	return res, nil
}

// PolicyVersion returns the server's published policy version.
func (c *Client) PolicyVersion(ctx context.Context) (governancev1.PolicyVersionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var pv governancev1.PolicyVersionResponse
	out, err := c.client.PolicyVersion(ctx, &structpb.Struct{})
	if err != nil {
		return pv, err
	}
	err = governancev1.FromStruct(out, &pv)
	return pv, err
}

// Serving reports whether the server's health service says SERVING.
func (c *Client) Serving(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: governancev1.ServiceName})
	if err != nil {
		return false, err
	}
	return resp.Status == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
