package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the exact session key length in bytes. Longer keys are
// rejected rather than truncated.
const KeySize = 16

// NonceSize is the AEAD nonce length in bytes, shared by both ciphers.
const NonceSize = 12

// TagSize is the AEAD authentication tag length in bytes.
const TagSize = 16

var (
	// ErrInvalidKey indicates the session key is not exactly KeySize bytes.
	ErrInvalidKey = errors.New("invalid key: must be exactly 16 bytes")
	// ErrAuthenticationFailed indicates the AEAD tag did not verify.
	ErrAuthenticationFailed = errors.New("decryption failed: message authentication failed")
	// ErrUnsupportedCipher indicates an unrecognized cipher name or value.
	ErrUnsupportedCipher = errors.New("unsupported cipher")
	// ErrCiphertextTooShort indicates a frame shorter than nonce+tag.
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Cipher identifies one of the supported AEAD ciphers.
type Cipher uint8

const (
	// CipherAESGCM is AES-128 in Galois/Counter Mode, the default.
	CipherAESGCM Cipher = iota
	// CipherChaCha20Poly1305 is the ChaCha20-Poly1305 AEAD.
	CipherChaCha20Poly1305
)

// chachaInfo is the HKDF info label used to stretch the 16-byte session
// key into the 32 bytes ChaCha20-Poly1305 requires. Both ends of a
// connection derive the same expanded key.
const chachaInfo = "hivemind-chacha20-key"

// DefaultCiphers returns the supported ciphers in descending server
// preference order.
func DefaultCiphers() []Cipher {
	return []Cipher{CipherAESGCM, CipherChaCha20Poly1305}
}

// String returns the wire name of the cipher.
func (c Cipher) String() string {
	switch c {
	case CipherAESGCM:
		return "AES-GCM"
	case CipherChaCha20Poly1305:
		return "CHACHA20-POLY1305"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCipher resolves a wire cipher name. Matching is case-insensitive
// and tolerates underscores in place of dashes.
func ParseCipher(name string) (Cipher, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(name, "_", "-"))
	switch normalized {
	case "AES-GCM", "AES128-GCM":
		return CipherAESGCM, nil
	case "CHACHA20-POLY1305":
		return CipherChaCha20Poly1305, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedCipher, name)
}

// newAEAD builds the AEAD primitive for the cipher. The key must be
// exactly KeySize bytes.
func newAEAD(c Cipher, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	switch c {
	case CipherAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AES: %w", err)
		}
		return cipher.NewGCM(block)
	case CipherChaCha20Poly1305:
		expanded := make([]byte, chacha20poly1305.KeySize)
		kdf := hkdf.New(sha256.New, key, nil, []byte(chachaInfo))
		if _, err := io.ReadFull(kdf, expanded); err != nil {
			return nil, fmt.Errorf("failed to expand chacha20 key: %w", err)
		}
		return chacha20poly1305.New(expanded)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCipher, uint8(c))
	}
}

// generateNonce creates a fresh random nonce for a single message.
func generateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// seal encrypts plaintext under a fresh nonce and returns the nonce,
// the ciphertext, and the detached authentication tag.
func seal(c Cipher, key, plaintext []byte) (nonce, ciphertext, tag []byte, err error) {
	aead, err := newAEAD(c, key)
	if err != nil {
		return nil, nil, nil, err
	}

	nonce, err = generateNonce()
	if err != nil {
		return nil, nil, nil, err
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ciphertext = sealed[:len(sealed)-TagSize]
	tag = sealed[len(sealed)-TagSize:]
	return nonce, ciphertext, tag, nil
}

// open decrypts ciphertext with a detached tag. A nil tag means the tag
// is already appended to the ciphertext; both layouts are legal on the
// wire and the decoder must accept either.
func open(c Cipher, key, nonce, ciphertext, tag []byte) ([]byte, error) {
	aead, err := newAEAD(c, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}

	sealed := ciphertext
	if len(tag) > 0 {
		sealed = make([]byte, 0, len(ciphertext)+len(tag))
		sealed = append(sealed, ciphertext...)
		sealed = append(sealed, tag...)
	}

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
