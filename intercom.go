package hivemind

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/box"

	"github.com/opd-ai/hivemind/message"
)

// ErrIntercomOpenFailed indicates a sealed intercom payload that did not
// decrypt under the node private key.
var ErrIntercomOpenFailed = errors.New("intercom payload did not open")

// openIntercom recovers the envelope inside an intercom message. Sealed
// payloads carry {ciphertext, signature}: the ciphertext is an anonymous
// box to the node public key; the signature is decoded and length
// checked but not yet verified, pending a trusted-pubkey store.
func (l *Listener) openIntercom(m *message.Message) (*message.Message, error) {
	payload, err := m.PayloadMap()
	if err != nil {
		return nil, err
	}

	ciphertextB64 := stringField(payload, "ciphertext")
	if ciphertextB64 == "" {
		// Unsealed intercom: the payload is the nested envelope itself.
		return m.PayloadEnvelope()
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return nil, fmt.Errorf("intercom ciphertext is not base64: %w", err)
	}
	if signatureB64 := stringField(payload, "signature"); signatureB64 != "" {
		signature, err := base64.StdEncoding.DecodeString(signatureB64)
		if err != nil {
			return nil, fmt.Errorf("intercom signature is not base64: %w", err)
		}
		if len(signature) != ed25519.SignatureSize {
			return nil, fmt.Errorf("intercom signature has length %d, want %d",
				len(signature), ed25519.SignatureSize)
		}
		logrus.WithFields(logrus.Fields{
			"function": "openIntercom",
		}).Debug("intercom signature present, verification not yet enforced")
	}

	var pub, priv [32]byte
	copy(pub[:], l.identity.PublicKey())
	copy(priv[:], l.identity.PrivateKey())

	plaintext, ok := box.OpenAnonymous(nil, ciphertext, &pub, &priv)
	if !ok {
		return nil, ErrIntercomOpenFailed
	}
	return message.Deserialize(plaintext)
}
