package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	governancev1 "github.com/ppiankov/warrant/api/proto/warrant/v1"
	"github.com/ppiankov/warrant/internal/app"
	"github.com/ppiankov/warrant/internal/decision"
	"github.com/ppiankov/warrant/internal/health"
	"github.com/ppiankov/warrant/internal/logging"
	"github.com/ppiankov/warrant/internal/model"
)

// Config holds gRPC server configuration.
type Config struct {
	Port int
}

// Server implements the warrant.v1.Governance gRPC service and the
// standard gRPC health service.
type Server struct {
	governancev1.UnimplementedGovernanceServer

	app    *app.App
	cfg    Config
	logger *slog.Logger

	grpcServer *grpc.Server
	health     *grpchealth.Server
}

// New creates a gRPC server over a.
func New(cfg Config, a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		app:        a,
		cfg:        cfg,
		logger:     logger,
		grpcServer: grpc.NewServer(),
		health:     grpchealth.NewServer(),
	}
	governancev1.RegisterGovernanceServer(s.grpcServer, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.UpdateHealth(context.Background())
	return s
}

// Serve starts the gRPC server on the configured port. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop marks the server not serving and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// UpdateHealth runs the component probes and publishes the aggregate as
// the serving status of the server and of the Governance service.
func (s *Server) UpdateHealth(ctx context.Context) health.Report {
	report := s.app.Health.Check(ctx)
	st := healthpb.HealthCheckResponse_SERVING
	if report.Status == health.StatusDown {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(governancev1.ServiceName, st)
	return report
}

// WatchHealth refreshes the serving status every interval until ctx is done.
func (s *Server) WatchHealth(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report := s.UpdateHealth(ctx)
			if report.Status != health.StatusOK {
				s.logger.Warn("health degraded", "status", report.Status, "components", report.Components)
			}
		}
	}
}

// ReloadPolicy publishes the policy file again. Called by the hot-reloader.
func (s *Server) ReloadPolicy() error {
	if err := s.app.ReloadPolicy(); err != nil {
		return fmt.Errorf("failed to reload policy: %w", err)
	}
	s.UpdateHealth(context.Background())
	return nil
}

// Decide implements the Decide RPC. Pipeline failures are Unavailable,
// never a deny.
func (s *Server) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req model.Request
	if err := governancev1.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	d, err := s.app.Decisions.Decide(ctx, req)
	if err != nil {
		return nil, decisionStatus(err)
	}
	out, err := governancev1.ToStruct(d)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func decisionStatus(err error) error {
	switch {
	case errors.Is(err, decision.ErrInvalidRequest):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Unavailable, err.Error())
}

// VerifyToken implements the VerifyToken RPC.
func (s *Server) VerifyToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req governancev1.VerifyTokenRequest
	if err := governancev1.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	valid := s.app.Decisions.VerifyToken(req.TokenID, req.Action, req.Tool, req.Resource)
	return governancev1.ToStruct(governancev1.VerifyTokenResponse{Valid: valid})
}

// VerifyLedger implements the VerifyLedger RPC.
func (s *Server) VerifyLedger(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	res := s.app.Chain.VerifyChain(ctx)
	if !res.Valid {
		s.logger.Error("ledger verification failed", "error", res.Error)
	}
	return governancev1.ToStruct(res)
}

// PolicyVersion implements the PolicyVersion RPC.
func (s *Server) PolicyVersion(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	g := s.app.Holder.Load()
	terms, relations := g.Len()
	return governancev1.ToStruct(governancev1.PolicyVersionResponse{
		PolicyVersionHash: g.VersionHash(),
		Terms:             terms,
		Relations:         relations,
	})
}
