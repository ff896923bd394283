package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ppiankov/warrant/internal/clock"
	"github.com/ppiankov/warrant/internal/health"
	"github.com/ppiankov/warrant/internal/keys"
)

// Chain appends signed, hash-linked entries to a Store. It exclusively
// owns the sequence: appends are serialized by one mutex, so sequence
// numbers are gapless and every previous_hash names the true
// predecessor.
type Chain struct {
	mu       sync.Mutex
	store    Store
	signer   keys.Signer
	verifier keys.Verifier
	clock    clock.Clock
	logger   *slog.Logger

	next    uint64
	tip     string
	lastErr error
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock sets the time source for entry timestamps.
func WithClock(c clock.Clock) Option {
	return func(ch *Chain) {
		if c != nil {
			ch.clock = c
		}
	}
}

// WithLogger sets the chain logger.
func WithLogger(l *slog.Logger) Option {
	return func(ch *Chain) {
		if l != nil {
			ch.logger = l
		}
	}
}

// Open restores the chain tail from store.
func Open(ctx context.Context, store Store, signer keys.Signer, verifier keys.Verifier, opts ...Option) (*Chain, error) {
	ch := &Chain{
		store:    store,
		signer:   signer,
		verifier: verifier,
		clock:    clock.Real(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		tip:      GenesisHash,
	}
	for _, opt := range opts {
		opt(ch)
	}

	last, ok, err := store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: read chain tail: %w", err)
	}
	if ok {
		ch.next = last.Sequence + 1
		ch.tip = last.ContentHash
	}
	ch.logger.Debug("ledger opened", "next_sequence", ch.next, "tip", ch.tip)
	return ch, nil
}

// Append records p as the next entry and returns it. Signing failures
// wrap the signer's error; storage failures wrap ErrAppendFailure. On
// any failure the chain is unchanged.
func (c *Chain) Append(ctx context.Context, p Payload) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := Entry{
		Sequence:     c.next,
		Timestamp:    c.clock.Now().UTC(),
		Payload:      p.normalized(),
		PreviousHash: c.tip,
	}
	hash, err := e.ComputeContentHash()
	if err != nil {
		c.lastErr = err
		return Entry{}, fmt.Errorf("%w: %w", ErrAppendFailure, err)
	}
	e.ContentHash = hash

	sig, err := c.signer.Sign(e.SigningBytes())
	if err != nil {
		c.lastErr = err
		return Entry{}, fmt.Errorf("ledger: sign entry %d: %w", e.Sequence, err)
	}
	e.Signature = sig.Value
	e.KeyID = sig.KeyID

	if err := c.store.Append(ctx, e); err != nil {
		c.lastErr = err
		c.logger.Error("ledger append failed", "sequence", e.Sequence, "error", err)
		return Entry{}, fmt.Errorf("%w: entry %d: %w", ErrAppendFailure, e.Sequence, err)
	}

	c.next++
	c.tip = e.ContentHash
	c.lastErr = nil
	return cloneEntry(e), nil
}

// Len returns the number of entries in the chain.
func (c *Chain) Len() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Tip returns the content hash of the last entry, or GenesisHash.
func (c *Chain) Tip() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tip
}

// EntriesBetween returns the entries with from <= sequence <= to.
func (c *Chain) EntriesBetween(ctx context.Context, from, to uint64) ([]Entry, error) {
	if from > to {
		return nil, nil
	}
	return c.store.Range(ctx, from, to)
}

// VerifyChain recomputes every content hash and checks linkage and
// signatures over everything the store holds. Entries stored beyond
// the tip, or a stored tail that differs from the tip, are invalid.
func (c *Chain) VerifyChain(ctx context.Context) VerifyResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, tip := c.next, c.tip

	entries, err := c.store.Range(ctx, 0, maxSequence)
	if err != nil {
		return resultFromReadError(err)
	}
	res := VerifyEntries(entries, c.verifier)
	if !res.Valid {
		return res
	}
	stored := uint64(len(entries))
	switch {
	case stored > n:
		return invalidAt(n, fmt.Sprintf("store holds %d entries, chain tip is at %d", stored, n))
	case stored < n:
		return invalidAt(stored, fmt.Sprintf("store holds %d entries, chain expects %d", stored, n))
	case n > 0 && entries[n-1].ContentHash != tip:
		return invalidAt(n-1, fmt.Sprintf("stored tail %s does not match chain tip %s", entries[n-1].ContentHash, tip))
	}
	return res
}

// Health reports degraded after a failed append until the next success.
func (c *Chain) Health(context.Context) (health.Status, map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	details := map[string]string{
		"entries": strconv.FormatUint(c.next, 10),
		"tip":     c.tip,
	}
	if c.lastErr != nil {
		details["error"] = c.lastErr.Error()
		return health.StatusDegraded, details
	}
	return health.StatusOK, details
}

// Close closes the underlying store.
func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Close()
}
