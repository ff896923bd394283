package ledger

import (
	"errors"
	"fmt"

	"github.com/ppiankov/warrant/internal/keys"
)

// VerifyResult holds the outcome of a chain verification.
type VerifyResult struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
	// ErrorSequence is the first offending sequence when Valid is false.
	ErrorSequence *uint64 `json:"error_sequence,omitempty"`
}

func invalidAt(seq uint64, msg string) VerifyResult {
	return VerifyResult{Error: msg, ErrorSequence: &seq}
}

func resultFromReadError(err error) VerifyResult {
	var corrupt *CorruptEntryError
	if errors.As(err, &corrupt) {
		return invalidAt(corrupt.Sequence, corrupt.Error())
	}
	return VerifyResult{Error: fmt.Sprintf("read entries: %v", err)}
}

// VerifyEntries checks a complete chain starting at sequence 0: gapless
// sequences, previous_hash linkage, recomputed content hashes, and
// signatures. The first failure is reported.
func VerifyEntries(entries []Entry, v keys.Verifier) VerifyResult {
	prev := GenesisHash
	for i := range entries {
		e := &entries[i]
		want := uint64(i)
		if e.Sequence != want {
			return invalidAt(want, fmt.Sprintf("sequence gap: expected %d, got %d", want, e.Sequence))
		}
		if e.PreviousHash != prev {
			return invalidAt(want, fmt.Sprintf("hash mismatch: expected previous_hash %s, got %s", prev, e.PreviousHash))
		}
		hash, err := e.ComputeContentHash()
		if err != nil {
			return invalidAt(want, err.Error())
		}
		if hash != e.ContentHash {
			return invalidAt(want, fmt.Sprintf("content hash mismatch: recomputed %s, stored %s", hash, e.ContentHash))
		}
		if v == nil || !v.Verify(e.SigningBytes(), e.Signature, e.KeyID) {
			return invalidAt(want, fmt.Sprintf("invalid signature by key %s", e.KeyID))
		}
		prev = e.ContentHash
	}
	return VerifyResult{Valid: true, Entries: len(entries)}
}
