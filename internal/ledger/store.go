package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAppendFailure wraps every failure to durably store an entry.
	ErrAppendFailure = errors.New("ledger: append failed")
	// ErrSequence is returned by stores asked to append out of order.
	ErrSequence = errors.New("ledger: entry sequence out of order")
	ErrClosed   = errors.New("ledger: store closed")
)

// Store persists entries. Stores are written by a single Chain, which
// serializes Append; reads may run concurrently with it.
type Store interface {
	// Append stores e. e.Sequence must equal the number of stored entries.
	Append(ctx context.Context, e Entry) error
	// Last returns the entry with the highest sequence.
	Last(ctx context.Context) (Entry, bool, error)
	// Range returns the stored entries with from <= sequence <= to, in
	// storage order.
	Range(ctx context.Context, from, to uint64) ([]Entry, error)
	Close() error
}

// maxSequence bounds full-range reads; SQLite stores sequences as int64.
const maxSequence = uint64(1<<63 - 1)

// CorruptEntryError reports an entry a store could not decode.
type CorruptEntryError struct {
	Sequence uint64
	Err      error
}

func (e *CorruptEntryError) Error() string {
	return fmt.Sprintf("ledger: corrupt entry %d: %v", e.Sequence, e.Err)
}

func (e *CorruptEntryError) Unwrap() error { return e.Err }

// MemoryStore keeps entries in memory. It backs tests and ephemeral
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	closed  bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.Sequence != uint64(len(m.entries)) {
		return fmt.Errorf("%w: got %d, want %d", ErrSequence, e.Sequence, len(m.entries))
	}
	m.entries = append(m.entries, cloneEntry(e))
	return nil
}

func (m *MemoryStore) Last(context.Context) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return Entry{}, false, nil
	}
	return cloneEntry(m.entries[len(m.entries)-1]), true, nil
}

func (m *MemoryStore) Range(_ context.Context, from, to uint64) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := uint64(len(m.entries))
	if from > to || from >= n {
		return nil, nil
	}
	end := min(to, n-1)
	out := make([]Entry, 0, end-from+1)
	for seq := from; seq <= end; seq++ {
		out = append(out, cloneEntry(m.entries[seq]))
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func cloneEntry(e Entry) Entry {
	e.Payload.MatchedRelationIDs = append([]string{}, e.Payload.MatchedRelationIDs...)
	if e.Signature != nil {
		e.Signature = append([]byte(nil), e.Signature...)
	}
	return e
}
