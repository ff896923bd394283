// Package app assembles the decision pipeline from a configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ppiankov/warrant/internal/capability"
	"github.com/ppiankov/warrant/internal/clock"
	"github.com/ppiankov/warrant/internal/config"
	"github.com/ppiankov/warrant/internal/decision"
	"github.com/ppiankov/warrant/internal/graph"
	"github.com/ppiankov/warrant/internal/health"
	"github.com/ppiankov/warrant/internal/keys"
	"github.com/ppiankov/warrant/internal/ledger"
	"github.com/ppiankov/warrant/internal/logging"
	"github.com/ppiankov/warrant/internal/policy"
)

// App owns every long-lived component of one warrant instance.
type App struct {
	Config    *config.Config
	Holder    *graph.Holder
	Engine    *policy.Engine
	Keys      *keys.Manager
	Chain     *ledger.Chain
	Tokens    *capability.Store
	Decisions *decision.Service
	Health    *health.Registry

	logger *slog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock sets the clock used for tokens and ledger timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Open loads the policy, restores the keys and ledger tail, and wires
// the decision service. A missing policy file publishes an empty graph,
// which denies every request.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	g, err := loadPolicy(cfg.PolicyPath, logger)
	if err != nil {
		return nil, err
	}
	holder := graph.NewHolder(g)

	seed, err := keys.ReadSeedFile(cfg.Keys.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("%w (run `warrant keys generate`)", err)
	}
	km, err := keys.NewDerived(seed, cfg.Keys.Generation, keys.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to derive signing keys: %w", err)
	}

	store, err := ledger.OpenStore(ctx, cfg.Ledger.Backend, cfg.Ledger.Path)
	if err != nil {
		km.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	chain, err := ledger.Open(ctx, store, km, km, ledger.WithClock(o.clock), ledger.WithLogger(logger))
	if err != nil {
		store.Close()
		km.Close()
		return nil, err
	}

	engine := policy.NewEngine(holder, logger)
	tokens := capability.NewStore(o.clock, km, logger)
	reg := health.NewRegistry()
	svc, err := decision.New(engine, km, chain, tokens,
		decision.WithClock(o.clock),
		decision.WithLogger(logger),
		decision.WithFlags(cfg.Flags()),
		decision.WithTokenTTL(cfg.Tokens.TTL.Std()),
		decision.WithHealth(reg),
	)
	if err != nil {
		chain.Close()
		km.Close()
		return nil, err
	}

	logger.Info("warrant ready",
		"policy_version_hash", g.VersionHash(),
		"ledger_backend", cfg.Ledger.Backend,
		"ledger_entries", chain.Len(),
		"active_key_id", km.ActiveKeyID())

	return &App{
		Config:    cfg,
		Holder:    holder,
		Engine:    engine,
		Keys:      km,
		Chain:     chain,
		Tokens:    tokens,
		Decisions: svc,
		Health:    reg,
		logger:    logger,
	}, nil
}

func loadPolicy(path string, logger *slog.Logger) (*graph.Graph, error) {
	g, err := graph.LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("policy file not found, denying every request", "path", path)
		return graph.Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	return g, nil
}

// ReloadPolicy reads the policy file again and publishes it. On error
// the current graph stays published.
func (a *App) ReloadPolicy() error {
	g, err := graph.LoadFile(a.Config.PolicyPath)
	if err != nil {
		return err
	}
	prev := a.Holder.Publish(g)
	a.logger.Info("policy reloaded",
		"previous_version_hash", prev.VersionHash(),
		"policy_version_hash", g.VersionHash())
	return nil
}

// Close releases the ledger and drops private key material.
func (a *App) Close() error {
	return errors.Join(a.Chain.Close(), a.Keys.Close())
}
