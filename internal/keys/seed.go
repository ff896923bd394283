package keys

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// ReadSeedFile reads a hex-encoded master seed.
func ReadSeedFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keys: read seed file: %w", err)
	}
	seed, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("keys: decode seed file %s: %w", path, err)
	}
	if len(seed) < MasterSeedSize {
		return nil, fmt.Errorf("%w: %s holds %d bytes", ErrShortSeed, path, len(seed))
	}
	return seed, nil
}

// WriteSeedFile writes seed hex-encoded with owner-only permissions. An
// existing file is never overwritten.
func WriteSeedFile(path string, seed []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("keys: seed file %s already exists", path)
		}
		return fmt.Errorf("keys: create seed file: %w", err)
	}
	if _, err := fmt.Fprintln(f, hex.EncodeToString(seed)); err != nil {
		f.Close()
		return fmt.Errorf("keys: write seed file: %w", err)
	}
	return f.Close()
}
