package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the ledger file lock.
var ErrLocked = errors.New("ledger: file is locked by another writer")

const maxLineSize = 1 << 20

// appendFile is the part of *os.File the store writes through.
type appendFile interface {
	io.Writer
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
	Close() error
}

// FileStore is an append-only JSONL ledger: one canonical entry per
// line, fsynced after every write. A failed write or sync is truncated
// away, so the file never holds an entry the chain did not accept. An
// exclusive OS lock on "<path>.lock" is held for the store's lifetime,
// so only one process ever writes a ledger file.
type FileStore struct {
	path string
	file appendFile
	lock *flock.Flock

	mu    sync.Mutex
	count uint64
	last  Entry
	// broken is set when a failed append could not be rolled back.
	// Every later append fails with it.
	broken error
}

var _ Store = (*FileStore)(nil)

// OpenFileStore opens (or creates) a JSONL ledger. If the file already
// exists, it is scanned to recover the tail. The lock is retried until
// ctx is done.
func OpenFileStore(ctx context.Context, path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("ledger: create directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("ledger: acquire file lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	entries, err := ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		lock.Unlock()
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("ledger: open file: %w", err)
	}

	s := &FileStore{path: path, file: file, lock: lock, count: uint64(len(entries))}
	if len(entries) > 0 {
		s.last = entries[len(entries)-1]
	}
	return s, nil
}

// Path returns the ledger file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return ErrClosed
	}
	if s.broken != nil {
		return fmt.Errorf("ledger: file store unusable: %w", s.broken)
	}
	if e.Sequence != s.count {
		return fmt.Errorf("%w: got %d, want %d", ErrSequence, e.Sequence, s.count)
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ledger: marshal entry: %w", err)
	}
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("ledger: stat file: %w", err)
	}
	size := info.Size()

	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return s.rollback(size, fmt.Errorf("ledger: write entry: %w", err))
	}
	if err := s.file.Sync(); err != nil {
		return s.rollback(size, fmt.Errorf("ledger: sync: %w", err))
	}
	s.count++
	s.last = cloneEntry(e)
	return nil
}

// rollback truncates the file back to size after a failed append.
// Callers hold s.mu.
func (s *FileStore) rollback(size int64, cause error) error {
	if err := s.file.Truncate(size); err != nil {
		s.broken = fmt.Errorf("truncate to %d bytes after failed append: %w", size, err)
		return errors.Join(cause, s.broken)
	}
	return cause
}

func (s *FileStore) Last(context.Context) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return Entry{}, false, nil
	}
	return cloneEntry(s.last), true, nil
}

// Range rereads the whole file so verification sees what is on disk.
// Entries are selected by their sequence field and returned in file
// order, duplicates included.
func (s *FileStore) Range(ctx context.Context, from, to uint64) ([]Entry, error) {
	if from > to {
		return nil, nil
	}
	var out []Entry
	err := scanFile(s.path, func(_ uint64, e Entry) bool {
		if e.Sequence >= from && e.Sequence <= to {
			out = append(out, e)
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the file and releases the lock.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := errors.Join(s.file.Close(), s.lock.Unlock())
	s.file = nil
	return err
}

// ReadFile reads every entry of a JSONL ledger without taking the
// writer lock, for offline verification.
func ReadFile(path string) ([]Entry, error) {
	var out []Entry
	err := scanFile(path, func(_ uint64, e Entry) bool {
		out = append(out, e)
		return true
	})
	return out, err
}

// scanFile decodes each line and passes it to fn with its line index.
// Lines that do not decode yield a CorruptEntryError.
func scanFile(path string, fn func(seq uint64, e Entry) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ledger: read file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var seq uint64
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return &CorruptEntryError{Sequence: seq, Err: err}
		}
		if !fn(seq, e) {
			return nil
		}
		seq++
	}
	if err := scanner.Err(); err != nil {
		return &CorruptEntryError{Sequence: seq, Err: err}
	}
	return nil
}
