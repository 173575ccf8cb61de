package crypto

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
)

// JSONEnvelope is the text-frame encryption envelope exchanged after the
// handshake. Tag may be empty, in which case the tag is appended to the
// ciphertext; both layouts are accepted on decode. This implementation
// always emits the detached form.
type JSONEnvelope struct {
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag,omitempty"`
	Nonce      string `json:"nonce"`
}

// IsEncryptedJSON reports whether a text frame looks like a JSON
// encryption envelope rather than a clear HiveMessage.
func IsEncryptedJSON(frame []byte) bool {
	var probe struct {
		Ciphertext *string `json:"ciphertext"`
	}
	if err := json.Unmarshal(frame, &probe); err != nil {
		return false
	}
	return probe.Ciphertext != nil
}

// EncryptJSON encrypts plaintext and serializes the result as a JSON
// envelope using the negotiated cipher and encoding.
func EncryptJSON(key, plaintext []byte, c Cipher, e Encoding) ([]byte, error) {
	nonce, ciphertext, tag, err := seal(c, key, plaintext)
	if err != nil {
		return nil, err
	}

	env := JSONEnvelope{}
	if env.Ciphertext, err = e.EncodeToString(ciphertext); err != nil {
		return nil, err
	}
	if env.Tag, err = e.EncodeToString(tag); err != nil {
		return nil, err
	}
	if env.Nonce, err = e.EncodeToString(nonce); err != nil {
		return nil, err
	}

	frame, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize envelope: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "EncryptJSON",
		"cipher":   c.String(),
		"encoding": e.String(),
		"size":     len(frame),
	}).Debug("encrypted JSON frame")
	return frame, nil
}

// DecryptJSON parses a JSON envelope and decrypts it. Envelopes with the
// tag appended to the ciphertext instead of carried separately are
// accepted.
func DecryptJSON(key, frame []byte, c Cipher, e Encoding) ([]byte, error) {
	var env JSONEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}

	ciphertext, err := e.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	nonce, err := e.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	var tag []byte
	if env.Tag != "" {
		if tag, err = e.DecodeString(env.Tag); err != nil {
			return nil, fmt.Errorf("failed to decode tag: %w", err)
		}
	}

	return open(c, key, nonce, ciphertext, tag)
}

// EncryptBinary encrypts plaintext for a binary frame. The output layout
// is nonce|ciphertext|tag with the tag appended to the ciphertext.
func EncryptBinary(key, plaintext []byte, c Cipher) ([]byte, error) {
	nonce, ciphertext, tag, err := seal(c, key, plaintext)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, len(nonce)+len(ciphertext)+len(tag))
	frame = append(frame, nonce...)
	frame = append(frame, ciphertext...)
	frame = append(frame, tag...)
	return frame, nil
}

// DecryptBinary reverses EncryptBinary.
func DecryptBinary(key, frame []byte, c Cipher) ([]byte, error) {
	if len(frame) < NonceSize+TagSize {
		return nil, ErrCiphertextTooShort
	}
	nonce := frame[:NonceSize]
	ciphertext := frame[NonceSize:]
	return open(c, key, nonce, ciphertext, nil)
}
