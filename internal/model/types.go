package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Verdict is the policy evaluation outcome.
type Verdict string

const (
	Allow Verdict = "allow"
	Deny  Verdict = "deny"
)

// ParseVerdict converts a serialized verdict, rejecting unknown values.
func ParseVerdict(s string) (Verdict, error) {
	switch Verdict(strings.ToLower(strings.TrimSpace(s))) {
	case Allow:
		return Allow, nil
	case Deny:
		return Deny, nil
	}
	return "", fmt.Errorf("unknown verdict %q", s)
}

// Request is one governance question: may Actor perform Action with
// Tool on Resource, given Context.
type Request struct {
	Actor    string         `json:"actor"`
	Action   string         `json:"action"`
	Tool     string         `json:"tool"`
	Resource string         `json:"resource"`
	Context  map[string]any `json:"context,omitempty"`
}

// Validate rejects requests missing the fields every decision is
// scoped to. Resource may be empty.
func (r Request) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Actor) == "" {
		missing = append(missing, "actor")
	}
	if strings.TrimSpace(r.Action) == "" {
		missing = append(missing, "action")
	}
	if strings.TrimSpace(r.Tool) == "" {
		missing = append(missing, "tool")
	}
	if len(missing) > 0 {
		return fmt.Errorf("request missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// TimestampLayout is the fixed-width ISO-8601 UTC layout used in every
// canonical serialization, so content hashes are byte-reproducible.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimestampLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTime parses a TimestampLayout string.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// HashBytes returns "sha256:<hex>" of b.
func HashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(h[:])
}
