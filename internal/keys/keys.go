// Package keys manages the Ed25519 keys that sign capability tokens and
// ledger entries.
//
// A Manager holds one active signing key plus any number of retired
// keys kept only for verification, so signatures made before a rotation
// stay checkable. Every signature travels with the id of the key that
// made it; verification selects the key by that id.
//
// Keys are either random (Generate) or derived from a master seed and a
// generation number (Derive). Derived managers can be restored after a
// restart without persisting retired keys: generations 0..n-1 are simply
// derived again.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/hkdf"
)

var (
	// ErrSigningUnavailable is returned by Sign when the manager is
	// closed or has no usable active key.
	ErrSigningUnavailable = errors.New("keys: signing unavailable")
	ErrUnknownKey         = errors.New("keys: unknown key")
	ErrActiveKey          = errors.New("keys: cannot revoke the active key")
	ErrShortSeed          = errors.New("keys: master seed must be at least 32 bytes")
)

// MasterSeedSize is the length of seeds produced by GenerateMasterSeed.
const MasterSeedSize = 32

var hkdfInfoSigning = []byte("warrant.keys.ed25519.v1")

// Generate returns a fresh random Ed25519 key.
func Generate() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return priv, nil
}

// GenerateMasterSeed returns MasterSeedSize random bytes for Derive.
func GenerateMasterSeed() ([]byte, error) {
	seed := make([]byte, MasterSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("keys: generate master seed: %w", err)
	}
	return seed, nil
}

// Derive deterministically derives the Ed25519 key for generation from
// master using HKDF-SHA256. The generation number is bound into the
// HKDF info, so every generation yields an independent key.
func Derive(master []byte, generation uint32) (ed25519.PrivateKey, error) {
	if len(master) < MasterSeedSize {
		return nil, ErrShortSeed
	}
	info := make([]byte, len(hkdfInfoSigning)+4)
	copy(info, hkdfInfoSigning)
	binary.BigEndian.PutUint32(info[len(hkdfInfoSigning):], generation)

	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, info), seed); err != nil {
		return nil, fmt.Errorf("keys: derive generation %d: %w", generation, err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// KeyID is the stable identifier of a public key: "k-" followed by the
// first 16 hex characters of its BLAKE3 digest.
func KeyID(pub ed25519.PublicKey) string {
	sum := blake3.Sum256(pub)
	return "k-" + hex.EncodeToString(sum[:])[:16]
}

// Signature is a detached signature and the id of the key that made it.
type Signature struct {
	KeyID string
	Value []byte
}

// Encoded returns the signature bytes as standard base64.
func (s Signature) Encoded() string {
	return EncodeSignature(s.Value)
}

// EncodeSignature renders raw signature bytes for canonical
// serializations.
func EncodeSignature(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

// DecodeSignature parses the output of EncodeSignature.
func DecodeSignature(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("keys: decode signature: %w", err)
	}
	return b, nil
}

// Signer produces signatures with the current active key.
type Signer interface {
	Sign(data []byte) (Signature, error)
}

// Verifier checks a signature against the key named by keyID.
// Unknown, revoked, or malformed inputs all yield false.
type Verifier interface {
	Verify(data, sig []byte, keyID string) bool
}
