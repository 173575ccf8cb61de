package hivemind

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hivemind/handshake"
)

// LoadOrCreateIdentity returns the node's long-lived X25519 keypair,
// generating and persisting a fresh one when the key file is missing.
// The file holds the private key as lowercase hex.
func LoadOrCreateIdentity(path string) (*handshake.Asymmetric, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		private, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("corrupt identity file %s: %w", path, err)
		}
		return handshake.FromPrivateKey(private)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	identity, err := handshake.NewAsymmetric()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create identity directory: %w", err)
	}
	encoded := hex.EncodeToString(identity.PrivateKey()) + "\n"
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist identity: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "LoadOrCreateIdentity",
		"path":       path,
		"public_key": identity.PublicKeyHex()[:16],
	}).Info("generated node identity")
	return identity, nil
}
