package handshake

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// Role distinguishes the two ends of a password handshake so both derive
// the session key from the salts in the same order.
type Role uint8

const (
	// Initiator is the connecting node; it sends its envelope first.
	Initiator Role = iota
	// Responder is the listener.
	Responder
)

// pbkdf2Iterations is the PBKDF2-SHA256 work factor for stretching the
// pre-shared password.
const pbkdf2Iterations = 100_000

// passwordInfo is the HKDF info label for password-derived session keys.
const passwordInfo = "hivemind-password-session"

// ErrEmptyPassword indicates a password handshake constructed without a
// password.
var ErrEmptyPassword = errors.New("password must not be empty")

// Password derives a session key from a pre-shared password. Each side
// contributes a random salt inside its envelope; the key itself never
// crosses the wire, so completing the exchange proves both ends hold the
// same password. It is safe for concurrent use.
type Password struct {
	mu         sync.Mutex
	role       Role
	password   []byte
	localSalt  []byte
	remoteSalt []byte
	secret     []byte
}

// NewPassword creates a password handshake context for the given role.
func NewPassword(password string, role Role) (*Password, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}

	localSalt := make([]byte, saltSize)
	if _, err := rand.Read(localSalt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	return &Password{
		role:      role,
		password:  []byte(password),
		localSalt: localSalt,
	}, nil
}

// GenerateHandshake returns this side's envelope carrying its salt.
func (p *Password) GenerateHandshake() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return base64.StdEncoding.EncodeToString(p.localSalt), nil
}

// ReceiveHandshake consumes the remote side's envelope. Once both salts
// are known the session secret is derived; receiving a fresh envelope
// later rotates the key.
func (p *Password) ReceiveHandshake(envelope string) error {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(raw) != saltSize {
		return fmt.Errorf("%w: length %d", ErrMalformedEnvelope, len(raw))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteSalt = raw
	p.deriveLocked()

	logrus.WithFields(logrus.Fields{
		"function": "ReceiveHandshake",
		"role":     p.role,
	}).Debug("password envelope received, session key derived")
	return nil
}

// deriveLocked computes the session secret from the password and both
// salts, initiator salt first. Callers must hold p.mu.
func (p *Password) deriveLocked() {
	initiatorSalt, responderSalt := p.localSalt, p.remoteSalt
	if p.role == Responder {
		initiatorSalt, responderSalt = p.remoteSalt, p.localSalt
	}

	salt := make([]byte, 0, 2*saltSize)
	salt = append(salt, initiatorSalt...)
	salt = append(salt, responderSalt...)

	master := pbkdf2.Key(p.password, salt, pbkdf2Iterations, 32, sha256.New)

	secret := make([]byte, SecretSize)
	kdf := hkdf.New(sha256.New, master, salt, []byte(passwordInfo))
	if _, err := io.ReadFull(kdf, secret); err != nil {
		// HKDF over SHA-256 cannot fail for a 16-byte read.
		return
	}
	p.secret = secret
}

// Secret returns a copy of the derived session key, or ErrNoSecret if
// the exchange has not completed.
func (p *Password) Secret() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.secret == nil {
		return nil, ErrNoSecret
	}
	out := make([]byte, len(p.secret))
	copy(out, p.secret)
	return out, nil
}
