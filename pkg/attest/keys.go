package attest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// LoadOrGenerateKey returns the signing key stored at keyDir/<name>.key,
// generating and persisting one on first use. Keys are stored hex-encoded.
func LoadOrGenerateKey(keyDir, name string) (ed25519.PrivateKey, error) {
	if name == "" {
		name = "default"
	}
	keyPath := filepath.Join(keyDir, name+".key")

	data, err := os.ReadFile(keyPath)
	if err == nil {
		keyBytes, err := hex.DecodeString(string(data))
		if err != nil {
			return nil, fmt.Errorf("decode key %s: %w", keyPath, err)
		}
		if len(keyBytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("invalid key size in %s", keyPath)
		}
		return ed25519.PrivateKey(keyBytes), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv)), 0600); err != nil {
		return nil, err
	}
	return priv, nil
}
