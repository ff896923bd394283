package ledger

import (
	"context"
	"fmt"

	"github.com/ppiankov/warrant/internal/keys"
)

// Backends accepted by OpenStore.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// OpenStore opens the store for backend at path. The memory backend
// ignores path.
func OpenStore(ctx context.Context, backend, path string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile, "":
		return OpenFileStore(ctx, path)
	case BackendSQLite:
		return OpenSQLiteStore(ctx, path)
	}
	return nil, fmt.Errorf("ledger: unknown backend %q", backend)
}

// ReadAll reads every entry from the ledger at path without taking the
// writer role, for offline verification and inspection.
func ReadAll(ctx context.Context, backend, path string) ([]Entry, error) {
	switch backend {
	case BackendFile, "":
		return ReadFile(path)
	case BackendSQLite:
		s, err := OpenSQLiteStore(ctx, path)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		last, ok, err := s.Last(ctx)
		if err != nil || !ok {
			return nil, err
		}
		return s.Range(ctx, 0, last.Sequence)
	}
	return nil, fmt.Errorf("ledger: backend %q cannot be read offline", backend)
}

// VerifyStored reads the ledger at path offline and verifies it. Read
// failures are reported in the result, with the sequence of the first
// undecodable entry when known.
func VerifyStored(ctx context.Context, backend, path string, v keys.Verifier) VerifyResult {
	entries, err := ReadAll(ctx, backend, path)
	if err != nil {
		return resultFromReadError(err)
	}
	return VerifyEntries(entries, v)
}
