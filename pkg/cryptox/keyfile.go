package cryptox

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
)

// SecretKeySize is the byte length of generated signing keys. 64 bytes keeps
// the full HMAC-SHA256 block width available.
const SecretKeySize = 64

// LoadOrGenerateKey returns the secret key stored at path, generating and
// persisting a fresh one on first run. The file is created with 0600 so the
// key survives restarts without ever leaving the host.
func LoadOrGenerateKey(path string, size int) ([]byte, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	if key, err := os.ReadFile(path); err == nil {
		if len(key) < size {
			return nil, fmt.Errorf("key file %q is truncated: have %d bytes, want %d", filepath.Base(path), len(key), size)
		}
		return key[:size], nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	key := make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate secret key: %w", err)
	}

	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("failed to persist secret key: %w", err)
	}

	return key, nil
}
