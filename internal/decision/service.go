// Package decision orchestrates one governance request end to end:
// evaluate, mint and sign a capability on allow, record the decision in
// the ledger, and only then make the token verifiable.
package decision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ppiankov/warrant/internal/capability"
	"github.com/ppiankov/warrant/internal/clock"
	"github.com/ppiankov/warrant/internal/features"
	"github.com/ppiankov/warrant/internal/health"
	"github.com/ppiankov/warrant/internal/keys"
	"github.com/ppiankov/warrant/internal/ledger"
	"github.com/ppiankov/warrant/internal/model"
	"github.com/ppiankov/warrant/internal/policy"
)

var (
	// ErrSigning means the token or ledger entry could not be signed.
	ErrSigning = errors.New("decision: signing failure")
	// ErrLedgerAppend means the decision could not be durably recorded.
	ErrLedgerAppend = errors.New("decision: ledger append failure")
	// ErrInvalidRequest is returned for requests missing actor, action or tool.
	ErrInvalidRequest = errors.New("decision: invalid request")
)

// Outcome distinguishes a policy denial from a governance failure.
type Outcome string

const (
	OutcomeAllow Outcome = "allow"
	OutcomeDeny  Outcome = "deny"
	OutcomeError Outcome = "error"
)

// Decision is the result of Decide.
type Decision struct {
	Outcome           Outcome           `json:"outcome"`
	Reason            policy.Reason     `json:"reason,omitempty"`
	MatchedRelations  []string          `json:"matched_relations"`
	PolicyVersionHash string            `json:"policy_version_hash,omitempty"`
	Token             *capability.Token `json:"token,omitempty"`
	// LedgerSequence is the sequence of the recorded entry, nil when
	// nothing was recorded.
	LedgerSequence *uint64 `json:"ledger_sequence,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Allowed reports whether the decision granted a token.
func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

// Ledger records decisions. *ledger.Chain implements it.
type Ledger interface {
	Append(ctx context.Context, p ledger.Payload) (ledger.Entry, error)
}

// Service runs the decision pipeline. It is safe for concurrent use.
type Service struct {
	engine *policy.Engine
	signer keys.Signer
	ledger Ledger
	tokens *capability.Store

	clock     clock.Clock
	logger    *slog.Logger
	flags     features.Flags
	ttl       time.Duration
	cacheSize int
	cache     *verdictCache
	health    *health.Registry
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source for token grants.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithFlags sets the feature flag reader. Flags are read per request.
func WithFlags(f features.Flags) Option {
	return func(s *Service) {
		if f != nil {
			s.flags = f
		}
	}
}

// WithTokenTTL sets the lifetime of minted tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// WithCacheSize bounds the verdict cache.
func WithCacheSize(n int) Option {
	return func(s *Service) { s.cacheSize = n }
}

// WithHealth registers the service's components in r instead of a
// private registry.
func WithHealth(r *health.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.health = r
		}
	}
}

// New wires a Service. The signer, ledger and token store are registered
// for health checks when they implement health.Prober.
func New(engine *policy.Engine, signer keys.Signer, l Ledger, tokens *capability.Store, opts ...Option) (*Service, error) {
	if engine == nil || signer == nil || l == nil || tokens == nil {
		return nil, errors.New("decision: engine, signer, ledger and token store are required")
	}
	s := &Service{
		engine: engine,
		signer: signer,
		ledger: l,
		tokens: tokens,
		clock:  clock.Real(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		flags:  features.AllDisabled(),
		ttl:    capability.DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= 0 {
		s.ttl = capability.DefaultTTL
	}
	if s.ttl > capability.MaxTTL {
		return nil, fmt.Errorf("decision: token ttl %s exceeds maximum %s", s.ttl, capability.MaxTTL)
	}
	s.cache = newVerdictCache(s.cacheSize)

	if s.health == nil {
		s.health = health.NewRegistry()
	}
	s.health.Register("policy_engine", engine)
	if p, ok := signer.(health.Prober); ok {
		s.health.Register("keys", p)
	}
	if p, ok := l.(health.Prober); ok {
		s.health.Register("ledger", p)
	}
	return s, nil
}

// Health aggregates the registered component probes.
func (s *Service) Health(ctx context.Context) health.Report {
	return s.health.Check(ctx)
}

// HealthRegistry returns the registry the service reports into.
func (s *Service) HealthRegistry() *health.Registry { return s.health }

// Decide evaluates req and records the outcome.
//
// Pipeline order (must not be changed):
//  1. Evaluate; ctx cancellation aborts the decision up to here
//  2. Deny: append a deny entry with no token
//  3. Allow: mint, sign, append an allow entry naming the token, store the token
//
// Steps 2 and 3 run to completion regardless of ctx. Signing and ledger
// failures yield OutcomeError with an error wrapping ErrSigning or
// ErrLedgerAppend; a token whose grant was not recorded is never stored.
func (s *Service) Decide(ctx context.Context, req model.Request) (Decision, error) {
	if err := req.Validate(); err != nil {
		return failed(err), fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if err := ctx.Err(); err != nil {
		return failed(err), err
	}

	verdict := s.evaluate(ctx, req)
	if err := ctx.Err(); err != nil {
		s.logger.Debug("decision cancelled after evaluation", "actor", req.Actor, "action", req.Action, "error", err)
		return failed(err), err
	}
	ctx = context.WithoutCancel(ctx)

	if !verdict.Allowed() {
		return s.deny(ctx, req, verdict)
	}
	return s.allow(ctx, req, verdict)
}

func (s *Service) evaluate(ctx context.Context, req model.Request) policy.Verdict {
	g := s.engine.Snapshot()
	if !s.flags.Enabled(features.VerdictCache) {
		return s.engine.EvaluateSnapshot(ctx, g, req)
	}
	digest, ok := requestDigest(req)
	if !ok {
		return s.engine.EvaluateSnapshot(ctx, g, req)
	}
	key := cacheKey{policyHash: g.VersionHash(), digest: digest}
	if v, hit := s.cache.get(key); hit {
		return v
	}
	v := s.engine.EvaluateSnapshot(ctx, g, req)
	s.cache.put(key, v)
	return v
}

func (s *Service) deny(ctx context.Context, req model.Request, v policy.Verdict) (Decision, error) {
	entry, err := s.ledger.Append(ctx, payload(req, v, ""))
	if err != nil {
		return s.recordFailure(req, v, err)
	}
	s.logger.Debug("decision denied",
		"actor", req.Actor, "action", req.Action, "tool", req.Tool,
		"reason", v.Reason, "sequence", entry.Sequence)
	return Decision{
		Outcome:           OutcomeDeny,
		Reason:            v.Reason,
		MatchedRelations:  v.MatchedRelations,
		PolicyVersionHash: v.PolicyVersionHash,
		LedgerSequence:    &entry.Sequence,
	}, nil
}

func (s *Service) allow(ctx context.Context, req model.Request, v policy.Verdict) (Decision, error) {
	scope := capability.Scope{Action: req.Action, Tool: req.Tool}
	if s.flags.Enabled(features.TokenResourceScope) {
		scope.Resource = req.Resource
	}
	tok, err := capability.New(scope, v.PolicyVersionHash, s.ttl, s.clock.Now())
	if err != nil {
		return failed(err), fmt.Errorf("decision: mint token: %w", err)
	}
	if err := tok.Sign(s.signer); err != nil {
		s.logger.Error("token signing failed", "actor", req.Actor, "action", req.Action, "error", err)
		return failed(err), fmt.Errorf("%w: %w", ErrSigning, err)
	}

	entry, err := s.ledger.Append(ctx, payload(req, v, tok.ID))
	if err != nil {
		return s.recordFailure(req, v, err)
	}
	if err := s.tokens.Put(tok); err != nil {
		s.logger.Error("recorded token could not be stored", "token_id", tok.ID, "sequence", entry.Sequence, "error", err)
		return failed(err), fmt.Errorf("decision: store token %s: %w", tok.ID, err)
	}

	s.logger.Debug("decision allowed",
		"actor", req.Actor, "action", req.Action, "tool", req.Tool,
		"token_id", tok.ID, "sequence", entry.Sequence)
	return Decision{
		Outcome:           OutcomeAllow,
		Reason:            v.Reason,
		MatchedRelations:  v.MatchedRelations,
		PolicyVersionHash: v.PolicyVersionHash,
		Token:             tok.Clone(),
		LedgerSequence:    &entry.Sequence,
	}, nil
}

// recordFailure classifies a ledger error. The chain wraps storage
// failures in ledger.ErrAppendFailure; anything else failed to sign.
func (s *Service) recordFailure(req model.Request, v policy.Verdict, err error) (Decision, error) {
	s.logger.Error("decision not recorded",
		"actor", req.Actor, "action", req.Action, "tool", req.Tool,
		"verdict", v.Decision, "error", err)
	if errors.Is(err, ledger.ErrAppendFailure) {
		return failed(err), fmt.Errorf("%w: %w", ErrLedgerAppend, err)
	}
	return failed(err), fmt.Errorf("%w: %w", ErrSigning, err)
}

func failed(err error) Decision {
	return Decision{Outcome: OutcomeError, MatchedRelations: []string{}, Error: err.Error()}
}

func payload(req model.Request, v policy.Verdict, tokenID string) ledger.Payload {
	return ledger.Payload{
		Verdict:            v.Decision,
		Actor:              req.Actor,
		Action:             req.Action,
		Tool:               req.Tool,
		Resource:           req.Resource,
		MatchedRelationIDs: v.MatchedRelations,
		PolicyVersionHash:  v.PolicyVersionHash,
		TokenID:            tokenID,
	}
}

// VerifyToken reports whether tokenID authorizes action with tool now.
// With token_resource_scope enabled a non-empty resource must also be
// covered by the token.
func (s *Service) VerifyToken(tokenID, action, tool, resource string) bool {
	if resource != "" && s.flags.Enabled(features.TokenResourceScope) {
		return s.tokens.VerifyResource(tokenID, action, tool, resource)
	}
	return s.tokens.Verify(tokenID, action, tool)
}

// Tokens returns the token store the service issues into.
func (s *Service) Tokens() *capability.Store { return s.tokens }

// PolicyVersionHash returns the hash of the currently published graph.
func (s *Service) PolicyVersionHash() string {
	return s.engine.Snapshot().VersionHash()
}
