package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/warrant/internal/clock"
	"github.com/ppiankov/warrant/internal/keys"
)

// ErrDuplicateToken is returned by Put when the id is already stored.
var ErrDuplicateToken = errors.New("capability: duplicate token id")

type storedToken struct {
	token   *Token
	revoked bool
}

// Store is the working set of issued tokens. The ledger is the permanent
// record; removing a token here never touches ledger entries that name
// it.
//
// Verification holds the read lock and cleanup or revocation the write
// lock, so a token is never removed while it is being verified.
type Store struct {
	mu       sync.RWMutex
	tokens   map[string]*storedToken
	clock    clock.Clock
	verifier keys.Verifier
	logger   *slog.Logger
}

// NewStore returns an empty store. Signatures are checked with verifier
// on every Verify.
func NewStore(c clock.Clock, verifier keys.Verifier, logger *slog.Logger) *Store {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		tokens:   make(map[string]*storedToken),
		clock:    c,
		verifier: verifier,
		logger:   logger,
	}
}

// Put stores a signed token.
func (s *Store) Put(t *Token) error {
	if t == nil || !t.IsSigned() {
		return ErrUnsigned
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tokens[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateToken, t.ID)
	}
	s.tokens[t.ID] = &storedToken{token: t.Clone()}
	return nil
}

// Get returns a copy of the token with id, including expired and
// revoked tokens that have not been cleaned up yet.
func (s *Store) Get(id string) (*Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tokens[id]
	if !ok {
		return nil, false
	}
	return st.token.Clone(), true
}

// Verify reports whether token id exists, is unrevoked, unexpired,
// correctly signed, and scoped to exactly action and tool. Every
// failure is the same false.
func (s *Store) Verify(id, action, tool string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifyLocked(id, action, tool, nil)
}

// VerifyResource is Verify plus a resource check. Tokens minted
// without a resource scope admit any resource.
func (s *Store) VerifyResource(id, action, tool, resource string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifyLocked(id, action, tool, &resource)
}

func (s *Store) verifyLocked(id, action, tool string, resource *string) bool {
	st, ok := s.tokens[id]
	if !ok || st.revoked {
		return false
	}
	t := st.token
	if !t.IsAuthorizedFor(action, tool, s.clock) {
		return false
	}
	if resource != nil && !t.Covers(*resource) {
		return false
	}
	return t.VerifySignature(s.verifier)
}

// Revoke makes a stored token unusable. It stays in the store until it
// expires and is cleaned up. Returns false for unknown ids.
func (s *Store) Revoke(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tokens[id]
	if !ok {
		return false
	}
	st.revoked = true
	return true
}

// CleanupExpired removes every token whose expiry has passed and
// returns how many were removed.
func (s *Store) CleanupExpired() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, st := range s.tokens {
		if !st.token.IsValidAt(now) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored tokens.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

// RunJanitor calls CleanupExpired every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("capability: janitor interval must be positive, got %s", interval)
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.CleanupExpired(); n > 0 {
				s.logger.Debug("expired capability tokens removed", "count", n, "remaining", s.Len())
			}
		}
	}
}
