package keys

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/ppiankov/warrant/internal/health"
)

// Status is the lifecycle state of a key held by a Manager.
type Status string

const (
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
	StatusRevoked Status = "revoked"
)

// KeyInfo describes a key without exposing private material.
type KeyInfo struct {
	ID         string            `json:"key_id"`
	PublicKey  ed25519.PublicKey `json:"public_key"`
	Status     Status            `json:"status"`
	Generation uint32            `json:"generation"`
}

type keyRecord struct {
	info    KeyInfo
	private ed25519.PrivateKey
}

// Source produces the key for a generation. Random managers ignore the
// generation.
type Source func(generation uint32) (ed25519.PrivateKey, error)

// Manager signs with the active key and verifies against every key it
// has held. It is safe for concurrent use; signing and verification take
// a read lock, rotation and revocation a write lock.
type Manager struct {
	mu         sync.RWMutex
	keys       map[string]*keyRecord
	active     string
	generation uint32
	source     Source
	closed     bool
	logger     *slog.Logger
}

var (
	_ Signer   = (*Manager)(nil)
	_ Verifier = (*Manager)(nil)
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for rotation and revocation events.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithVerificationKeys registers retired public keys that are only used
// to verify historical signatures.
func WithVerificationKeys(pubs ...ed25519.PublicKey) Option {
	return func(m *Manager) {
		for _, pub := range pubs {
			id := KeyID(pub)
			if _, exists := m.keys[id]; exists {
				continue
			}
			m.keys[id] = &keyRecord{info: KeyInfo{ID: id, PublicKey: pub, Status: StatusRetired}}
		}
	}
}

func newManager(source Source, opts []Option) *Manager {
	m := &Manager{
		keys:   make(map[string]*keyRecord),
		source: source,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// New returns a manager whose active key is priv. Rotation generates
// random keys.
func New(priv ed25519.PrivateKey, opts ...Option) (*Manager, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keys: invalid private key length %d", len(priv))
	}
	m := newManager(func(uint32) (ed25519.PrivateKey, error) { return Generate() }, opts)
	m.install(priv, 0)
	return m, nil
}

// NewDerived restores a manager from a master seed. Generation is the
// active one; every earlier generation is derived again and kept for
// verification. Rotation derives generation+1.
func NewDerived(master []byte, generation uint32, opts ...Option) (*Manager, error) {
	seed := append([]byte(nil), master...)
	source := func(g uint32) (ed25519.PrivateKey, error) { return Derive(seed, g) }

	m := newManager(source, opts)
	for g := uint32(0); g < generation; g++ {
		priv, err := source(g)
		if err != nil {
			return nil, err
		}
		pub := priv.Public().(ed25519.PublicKey)
		id := KeyID(pub)
		m.keys[id] = &keyRecord{info: KeyInfo{ID: id, PublicKey: pub, Status: StatusRetired, Generation: g}}
	}
	priv, err := source(generation)
	if err != nil {
		return nil, err
	}
	m.install(priv, generation)
	return m, nil
}

// install makes priv the active key. Callers hold the write lock or own m.
func (m *Manager) install(priv ed25519.PrivateKey, generation uint32) string {
	if prev, ok := m.keys[m.active]; ok && prev.info.Status == StatusActive {
		prev.info.Status = StatusRetired
		prev.private = nil
	}
	pub := priv.Public().(ed25519.PublicKey)
	id := KeyID(pub)
	m.keys[id] = &keyRecord{
		info:    KeyInfo{ID: id, PublicKey: pub, Status: StatusActive, Generation: generation},
		private: priv,
	}
	m.active = id
	m.generation = generation
	return id
}

// Sign signs data with the active key.
func (m *Manager) Sign(data []byte) (Signature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Signature{}, fmt.Errorf("%w: manager closed", ErrSigningUnavailable)
	}
	rec, ok := m.keys[m.active]
	if !ok || rec.private == nil || rec.info.Status != StatusActive {
		return Signature{}, fmt.Errorf("%w: no active key", ErrSigningUnavailable)
	}
	return Signature{KeyID: rec.info.ID, Value: ed25519.Sign(rec.private, data)}, nil
}

// Verify reports whether sig is a valid signature of data by keyID.
// Revoked keys never verify.
func (m *Manager) Verify(data, sig []byte, keyID string) bool {
	m.mu.RLock()
	rec, ok := m.keys[keyID]
	var info KeyInfo
	if ok {
		info = rec.info
	}
	m.mu.RUnlock()
	if !ok || info.Status == StatusRevoked || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(info.PublicKey, data, sig)
}

// Rotate retires the active key and installs the next one. Signatures
// by the retired key remain verifiable.
func (m *Manager) Rotate() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", fmt.Errorf("%w: manager closed", ErrSigningUnavailable)
	}
	next := m.generation + 1
	priv, err := m.source(next)
	if err != nil {
		return "", fmt.Errorf("keys: rotate: %w", err)
	}
	previous := m.active
	id := m.install(priv, next)
	m.logger.Info("signing key rotated", "previous_key_id", previous, "key_id", id, "generation", next)
	return id, nil
}

// Revoke marks a retired key revoked: its signatures no longer verify.
// The active key cannot be revoked; rotate first.
func (m *Manager) Revoke(keyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.keys[keyID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, keyID)
	}
	if keyID == m.active {
		return fmt.Errorf("%w: %s", ErrActiveKey, keyID)
	}
	rec.info.Status = StatusRevoked
	m.logger.Warn("signing key revoked", "key_id", keyID)
	return nil
}

// ActiveKeyID returns the id of the key Sign currently uses.
func (m *Manager) ActiveKeyID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Generation returns the generation of the active key.
func (m *Manager) Generation() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// Keys lists every key, sorted by generation then id.
func (m *Manager) Keys() []KeyInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]KeyInfo, 0, len(m.keys))
	for _, rec := range m.keys {
		out = append(out, rec.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Generation != out[j].Generation {
			return out[i].Generation < out[j].Generation
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close disables signing and drops private key material. Verification
// keeps working.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, rec := range m.keys {
		rec.private = nil
	}
	return nil
}

// Health reports down when the manager can no longer sign.
func (m *Manager) Health(context.Context) (health.Status, map[string]string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	details := map[string]string{
		"active_key_id": m.active,
		"keys":          strconv.Itoa(len(m.keys)),
	}
	if m.closed {
		details["error"] = "manager closed"
		return health.StatusDown, details
	}
	if rec, ok := m.keys[m.active]; !ok || rec.private == nil {
		details["error"] = "no active signing key"
		return health.StatusDown, details
	}
	return health.StatusOK, details
}
