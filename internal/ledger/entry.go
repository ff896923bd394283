// Package ledger is the append-only, hash-chained, signed record of
// every governance decision.
//
// Each entry carries the content hash of its predecessor (the genesis
// hash for sequence 0), its own content hash over everything from
// sequence through previous_hash, and an Ed25519 signature over
// content_hash "\n" previous_hash "\n" sequence. Entries are never
// edited or deleted; a Chain is the only writer of its Store.
package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ppiankov/warrant/internal/keys"
	"github.com/ppiankov/warrant/internal/model"
)

// GenesisHash is the previous_hash of the entry with sequence 0.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Payload is the decision being recorded.
type Payload struct {
	Verdict            model.Verdict
	Actor              string
	Action             string
	Tool               string
	Resource           string
	MatchedRelationIDs []string
	PolicyVersionHash  string
	// TokenID is empty when no capability token was issued.
	TokenID string
}

func (p Payload) normalized() Payload {
	ids := make([]string, len(p.MatchedRelationIDs))
	copy(ids, p.MatchedRelationIDs)
	sort.Strings(ids)
	p.MatchedRelationIDs = ids
	return p
}

// Entry is one record in the ledger.
type Entry struct {
	Sequence     uint64
	Timestamp    time.Time
	Payload      Payload
	PreviousHash string
	ContentHash  string
	Signature    []byte
	KeyID        string
}

// contentJSON is the hashed prefix of the canonical entry, in order.
// All fields are concrete types so json.Marshal output is
// byte-reproducible.
type contentJSON struct {
	Sequence           uint64   `json:"sequence"`
	Timestamp          string   `json:"timestamp"`
	Verdict            string   `json:"verdict"`
	Actor              string   `json:"actor"`
	Action             string   `json:"action"`
	Tool               string   `json:"tool"`
	Resource           string   `json:"resource"`
	MatchedRelationIDs []string `json:"matched_relation_ids"`
	PolicyVersionHash  string   `json:"policy_version_hash"`
	TokenID            *string  `json:"token_id"`
	PreviousHash       string   `json:"previous_hash"`
}

// entryJSON is the full canonical entry.
type entryJSON struct {
	contentJSON
	ContentHash string `json:"content_hash"`
	Signature   string `json:"signature"`
	KeyID       string `json:"key_id"`
}

func (e *Entry) content() contentJSON {
	ids := e.Payload.MatchedRelationIDs
	if ids == nil {
		ids = []string{}
	}
	var tokenID *string
	if e.Payload.TokenID != "" {
		id := e.Payload.TokenID
		tokenID = &id
	}
	return contentJSON{
		Sequence:           e.Sequence,
		Timestamp:          model.FormatTime(e.Timestamp),
		Verdict:            string(e.Payload.Verdict),
		Actor:              e.Payload.Actor,
		Action:             e.Payload.Action,
		Tool:               e.Payload.Tool,
		Resource:           e.Payload.Resource,
		MatchedRelationIDs: ids,
		PolicyVersionHash:  e.Payload.PolicyVersionHash,
		TokenID:            tokenID,
		PreviousHash:       e.PreviousHash,
	}
}

// ComputeContentHash hashes the canonical serialization of every field
// from sequence through previous_hash.
func (e *Entry) ComputeContentHash() (string, error) {
	data, err := json.Marshal(e.content())
	if err != nil {
		return "", fmt.Errorf("ledger: marshal entry content: %w", err)
	}
	return model.HashBytes(data), nil
}

// SigningBytes is what the entry signature covers.
func (e *Entry) SigningBytes() []byte {
	return []byte(e.ContentHash + "\n" + e.PreviousHash + "\n" + strconv.FormatUint(e.Sequence, 10))
}

// MarshalJSON emits the canonical serialization of e.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryJSON{
		contentJSON: e.content(),
		ContentHash: e.ContentHash,
		Signature:   keys.EncodeSignature(e.Signature),
		KeyID:       e.KeyID,
	})
}

// UnmarshalJSON parses the canonical serialization of an entry.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ts, err := model.ParseTime(raw.Timestamp)
	if err != nil {
		return fmt.Errorf("ledger: entry %d: %w", raw.Sequence, err)
	}
	verdict, err := model.ParseVerdict(raw.Verdict)
	if err != nil {
		return fmt.Errorf("ledger: entry %d: %w", raw.Sequence, err)
	}
	sig, err := keys.DecodeSignature(raw.Signature)
	if err != nil {
		return fmt.Errorf("ledger: entry %d: %w", raw.Sequence, err)
	}
	var tokenID string
	if raw.TokenID != nil {
		tokenID = *raw.TokenID
	}
	ids := raw.MatchedRelationIDs
	if ids == nil {
		ids = []string{}
	}
	*e = Entry{
		Sequence:  raw.Sequence,
		Timestamp: ts,
		Payload: Payload{
			Verdict:            verdict,
			Actor:              raw.Actor,
			Action:             raw.Action,
			Tool:               raw.Tool,
			Resource:           raw.Resource,
			MatchedRelationIDs: ids,
			PolicyVersionHash:  raw.PolicyVersionHash,
			TokenID:            tokenID,
		},
		PreviousHash: raw.PreviousHash,
		ContentHash:  raw.ContentHash,
		Signature:    sig,
		KeyID:        raw.KeyID,
	}
	return nil
}
