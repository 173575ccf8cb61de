package handshake

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// SecretSize is the derived session key length in bytes.
const SecretSize = 16

// saltSize is the per-handshake random salt length in bytes.
const saltSize = 16

// sessionInfo is the HKDF info label binding derived keys to this
// protocol.
const sessionInfo = "hivemind-session-key"

var (
	// ErrNoSecret indicates no handshake has completed yet.
	ErrNoSecret = errors.New("handshake not complete: no session secret")
	// ErrMalformedEnvelope indicates a handshake envelope that failed to
	// decode or had the wrong length.
	ErrMalformedEnvelope = errors.New("malformed handshake envelope")
	// ErrInvalidPublicKey indicates a peer public key of the wrong length.
	ErrInvalidPublicKey = errors.New("invalid public key: must be 32 bytes")
)

// Asymmetric performs X25519 key agreement between the listener and a
// connecting node. It is safe for concurrent use.
type Asymmetric struct {
	mu      sync.Mutex
	keyPair noise.DHKey
	secret  []byte
}

// NewAsymmetric creates a handshake context with a fresh X25519 keypair.
func NewAsymmetric() (*Asymmetric, error) {
	keyPair, err := noise.DH25519.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewAsymmetric",
		"public_key": fmt.Sprintf("%x", keyPair.Public[:8]),
	}).Debug("generated handshake keypair")

	return &Asymmetric{keyPair: keyPair}, nil
}

// FromPrivateKey creates a handshake context from an existing X25519
// private key, deriving the matching public key.
func FromPrivateKey(privateKey []byte) (*Asymmetric, error) {
	if len(privateKey) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(privateKey))
	}

	public, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	private := make([]byte, 32)
	copy(private, privateKey)
	return &Asymmetric{keyPair: noise.DHKey{Private: private, Public: public}}, nil
}

// PublicKeyHex returns this node's public key as lowercase hex, the form
// carried in HELLO payloads.
func (a *Asymmetric) PublicKeyHex() string {
	return hex.EncodeToString(a.keyPair.Public)
}

// PublicKey returns a copy of this node's raw public key.
func (a *Asymmetric) PublicKey() []byte {
	out := make([]byte, len(a.keyPair.Public))
	copy(out, a.keyPair.Public)
	return out
}

// PrivateKey returns a copy of this node's raw private key. Needed for
// opening intercom payloads sealed to the node key.
func (a *Asymmetric) PrivateKey() []byte {
	out := make([]byte, len(a.keyPair.Private))
	copy(out, a.keyPair.Private)
	return out
}

// GenerateHandshake consumes the peer public key from a HANDSHAKE
// payload, derives the session secret, and returns the envelope to send
// back so the peer can derive the same secret. A fresh random salt per
// exchange means repeating the handshake rotates the key.
func (a *Asymmetric) GenerateHandshake(peerPublicKeyHex string) (string, error) {
	peerPublic, err := hex.DecodeString(peerPublicKeyHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(peerPublic) != 32 {
		return "", ErrInvalidPublicKey
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	secret, err := a.deriveSecret(peerPublic, salt)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.secret = secret
	a.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "GenerateHandshake",
		"peer_key_prefix": peerPublicKeyHex[:min(16, len(peerPublicKeyHex))],
	}).Info("derived session key from peer public key")

	envelope := make([]byte, 0, saltSize+len(a.keyPair.Public))
	envelope = append(envelope, salt...)
	envelope = append(envelope, a.keyPair.Public...)
	return base64.StdEncoding.EncodeToString(envelope), nil
}

// ReceiveHandshake consumes an envelope produced by the remote side's
// GenerateHandshake and derives the same session secret.
func (a *Asymmetric) ReceiveHandshake(envelope string) error {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(raw) != saltSize+32 {
		return fmt.Errorf("%w: length %d", ErrMalformedEnvelope, len(raw))
	}

	salt := raw[:saltSize]
	peerPublic := raw[saltSize:]

	secret, err := a.deriveSecret(peerPublic, salt)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.secret = secret
	a.mu.Unlock()
	return nil
}

// deriveSecret runs X25519 against the peer key and stretches the shared
// point through HKDF-SHA256 with the exchange salt.
func (a *Asymmetric) deriveSecret(peerPublic, salt []byte) ([]byte, error) {
	shared, err := noise.DH25519.DH(a.keyPair.Private, peerPublic)
	if err != nil {
		return nil, fmt.Errorf("X25519 computation failed: %w", err)
	}

	secret := make([]byte, SecretSize)
	kdf := hkdf.New(sha256.New, shared, salt, []byte(sessionInfo))
	if _, err := io.ReadFull(kdf, secret); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return secret, nil
}

// Secret returns a copy of the derived session key, or ErrNoSecret if no
// handshake has completed.
func (a *Asymmetric) Secret() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.secret == nil {
		return nil, ErrNoSecret
	}
	out := make([]byte, len(a.secret))
	copy(out, a.secret)
	return out, nil
}
