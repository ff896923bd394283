// Package capability implements short-lived signed capability tokens
// and the in-memory working set that answers "may this token be used
// for this action now".
package capability

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/warrant/internal/clock"
	"github.com/ppiankov/warrant/internal/keys"
	"github.com/ppiankov/warrant/internal/model"
)

const (
	// DefaultTTL is the lifetime of a token when none is requested.
	DefaultTTL = 5 * time.Minute
	// MaxTTL bounds every token lifetime.
	MaxTTL = 1 * time.Hour

	idPrefix = "cap-"
)

var (
	ErrAlreadySigned = errors.New("capability: token already signed")
	ErrUnsigned      = errors.New("capability: token is not signed")
	ErrInvalidToken  = errors.New("capability: invalid token")
)

// Scope is what a token authorizes. Resource is optional; an empty
// Resource does not restrict the resource.
type Scope struct {
	Action   string `json:"action"`
	Tool     string `json:"tool"`
	Resource string `json:"resource,omitempty"`
}

// Token is a capability grant. Fields before Signature are covered by
// the signature; a signed token is never modified.
type Token struct {
	ID                string
	Scope             Scope
	Expiry            time.Time
	PolicyVersionHash string
	GrantedAt         time.Time
	Signature         []byte
	KeyID             string
}

// New mints an unsigned token granted at now. A non-positive ttl means
// DefaultTTL; ttl above MaxTTL is rejected.
func New(scope Scope, policyHash string, ttl time.Duration, now time.Time) (*Token, error) {
	if strings.TrimSpace(scope.Action) == "" || strings.TrimSpace(scope.Tool) == "" {
		return nil, fmt.Errorf("%w: scope requires action and tool", ErrInvalidToken)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		return nil, fmt.Errorf("%w: ttl %s exceeds maximum %s", ErrInvalidToken, ttl, MaxTTL)
	}
	granted := now.UTC()
	return &Token{
		ID:                idPrefix + uuid.NewString(),
		Scope:             scope,
		Expiry:            granted.Add(ttl),
		PolicyVersionHash: policyHash,
		GrantedAt:         granted,
	}, nil
}

// IsSigned reports whether Sign has been called.
func (t *Token) IsSigned() bool { return len(t.Signature) > 0 }

// signedFields is the canonical serialization covered by the signature.
type signedFields struct {
	ID                string `json:"token_id"`
	Scope             Scope  `json:"scope"`
	Expiry            string `json:"expiry"`
	PolicyVersionHash string `json:"policy_version_hash"`
	GrantedAt         string `json:"granted_at"`
}

func (t *Token) signed() signedFields {
	return signedFields{
		ID:                t.ID,
		Scope:             t.Scope,
		Expiry:            model.FormatTime(t.Expiry),
		PolicyVersionHash: t.PolicyVersionHash,
		GrantedAt:         model.FormatTime(t.GrantedAt),
	}
}

// SigningBytes returns the canonical serialization of every field that
// precedes the signature.
func (t *Token) SigningBytes() ([]byte, error) {
	return json.Marshal(t.signed())
}

// Sign signs the token once. A second call fails with ErrAlreadySigned.
func (t *Token) Sign(s keys.Signer) error {
	if t.IsSigned() {
		return fmt.Errorf("%w: %s", ErrAlreadySigned, t.ID)
	}
	if !t.Expiry.After(t.GrantedAt) {
		return fmt.Errorf("%w: expiry must be after granted_at", ErrInvalidToken)
	}
	data, err := t.SigningBytes()
	if err != nil {
		return fmt.Errorf("capability: serialize token: %w", err)
	}
	sig, err := s.Sign(data)
	if err != nil {
		return fmt.Errorf("capability: sign token %s: %w", t.ID, err)
	}
	t.Signature = sig.Value
	t.KeyID = sig.KeyID
	return nil
}

// VerifySignature reports whether the token carries a valid signature.
func (t *Token) VerifySignature(v keys.Verifier) bool {
	if !t.IsSigned() || v == nil {
		return false
	}
	data, err := t.SigningBytes()
	if err != nil {
		return false
	}
	return v.Verify(data, t.Signature, t.KeyID)
}

// IsValid reports whether c's current time is strictly before expiry.
func (t *Token) IsValid(c clock.Clock) bool {
	return t.IsValidAt(c.Now())
}

// IsValidAt reports whether now is strictly before expiry.
func (t *Token) IsValidAt(now time.Time) bool {
	return now.Before(t.Expiry)
}

// IsAuthorizedFor reports whether the token is valid now and scoped to
// exactly action and tool.
func (t *Token) IsAuthorizedFor(action, tool string, c clock.Clock) bool {
	return t.IsAuthorizedForAt(action, tool, c.Now())
}

// IsAuthorizedForAt is IsAuthorizedFor at an explicit time.
func (t *Token) IsAuthorizedForAt(action, tool string, now time.Time) bool {
	return t.IsValidAt(now) && t.Scope.Action == action && t.Scope.Tool == tool
}

// Covers reports whether the token's resource scope admits resource.
func (t *Token) Covers(resource string) bool {
	return t.Scope.Resource == "" || t.Scope.Resource == resource
}

// Clone returns a deep copy.
func (t *Token) Clone() *Token {
	c := *t
	if t.Signature != nil {
		c.Signature = append([]byte(nil), t.Signature...)
	}
	return &c
}

// tokenJSON fixes the canonical field order.
type tokenJSON struct {
	ID                string `json:"token_id"`
	Scope             Scope  `json:"scope"`
	Expiry            string `json:"expiry"`
	PolicyVersionHash string `json:"policy_version_hash"`
	GrantedAt         string `json:"granted_at"`
	Signature         string `json:"signature"`
	KeyID             string `json:"key_id"`
}

// MarshalJSON emits the canonical serialization of t.
func (t *Token) MarshalJSON() ([]byte, error) {
	s := t.signed()
	return json.Marshal(tokenJSON{
		ID:                s.ID,
		Scope:             s.Scope,
		Expiry:            s.Expiry,
		PolicyVersionHash: s.PolicyVersionHash,
		GrantedAt:         s.GrantedAt,
		Signature:         keys.EncodeSignature(t.Signature),
		KeyID:             t.KeyID,
	})
}

// UnmarshalJSON parses the canonical serialization of a token.
func (t *Token) UnmarshalJSON(data []byte) error {
	var raw tokenJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	expiry, err := model.ParseTime(raw.Expiry)
	if err != nil {
		return fmt.Errorf("capability: expiry: %w", err)
	}
	granted, err := model.ParseTime(raw.GrantedAt)
	if err != nil {
		return fmt.Errorf("capability: granted_at: %w", err)
	}
	var sig []byte
	if raw.Signature != "" {
		if sig, err = keys.DecodeSignature(raw.Signature); err != nil {
			return err
		}
	}
	*t = Token{
		ID:                raw.ID,
		Scope:             raw.Scope,
		Expiry:            expiry,
		PolicyVersionHash: raw.PolicyVersionHash,
		GrantedAt:         granted,
		Signature:         sig,
		KeyID:             raw.KeyID,
	}
	return nil
}
