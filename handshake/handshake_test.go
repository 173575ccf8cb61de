package handshake

import (
	"bytes"
	"errors"
	"testing"
)

func TestAsymmetricBothSidesDeriveSameSecret(t *testing.T) {
	server, err := NewAsymmetric()
	if err != nil {
		t.Fatalf("NewAsymmetric failed: %v", err)
	}
	client, err := NewAsymmetric()
	if err != nil {
		t.Fatalf("NewAsymmetric failed: %v", err)
	}

	envelope, err := server.GenerateHandshake(client.PublicKeyHex())
	if err != nil {
		t.Fatalf("GenerateHandshake failed: %v", err)
	}
	if err := client.ReceiveHandshake(envelope); err != nil {
		t.Fatalf("ReceiveHandshake failed: %v", err)
	}

	serverSecret, err := server.Secret()
	if err != nil {
		t.Fatalf("server Secret failed: %v", err)
	}
	clientSecret, err := client.Secret()
	if err != nil {
		t.Fatalf("client Secret failed: %v", err)
	}

	if len(serverSecret) != SecretSize {
		t.Errorf("secret length = %d, want %d", len(serverSecret), SecretSize)
	}
	if !bytes.Equal(serverSecret, clientSecret) {
		t.Error("server and client derived different secrets")
	}
}

func TestAsymmetricRepeatedHandshakeRotatesKey(t *testing.T) {
	server, _ := NewAsymmetric()
	client, _ := NewAsymmetric()

	if _, err := server.GenerateHandshake(client.PublicKeyHex()); err != nil {
		t.Fatalf("GenerateHandshake failed: %v", err)
	}
	first, _ := server.Secret()

	if _, err := server.GenerateHandshake(client.PublicKeyHex()); err != nil {
		t.Fatalf("second GenerateHandshake failed: %v", err)
	}
	second, _ := server.Secret()

	if bytes.Equal(first, second) {
		t.Error("repeated handshake with the same peer did not rotate the key")
	}
}

func TestAsymmetricFromPrivateKeyStableIdentity(t *testing.T) {
	original, err := NewAsymmetric()
	if err != nil {
		t.Fatalf("NewAsymmetric failed: %v", err)
	}

	restored, err := FromPrivateKey(original.PrivateKey())
	if err != nil {
		t.Fatalf("FromPrivateKey failed: %v", err)
	}

	if original.PublicKeyHex() != restored.PublicKeyHex() {
		t.Error("restored keypair has a different public key")
	}
}

func TestAsymmetricRejectsBadPublicKey(t *testing.T) {
	server, _ := NewAsymmetric()

	testCases := []struct {
		name string
		key  string
	}{
		{"not hex", "zzzz"},
		{"too short", "abcdef"},
		{"empty", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := server.GenerateHandshake(tc.key); !errors.Is(err, ErrInvalidPublicKey) {
				t.Errorf("expected ErrInvalidPublicKey, got %v", err)
			}
		})
	}
}

func TestSecretBeforeHandshake(t *testing.T) {
	server, _ := NewAsymmetric()
	if _, err := server.Secret(); !errors.Is(err, ErrNoSecret) {
		t.Errorf("expected ErrNoSecret, got %v", err)
	}
}

func TestPasswordBothSidesDeriveSameSecret(t *testing.T) {
	server, err := NewPassword("super secret", Responder)
	if err != nil {
		t.Fatalf("NewPassword failed: %v", err)
	}
	client, err := NewPassword("super secret", Initiator)
	if err != nil {
		t.Fatalf("NewPassword failed: %v", err)
	}

	clientEnvelope, _ := client.GenerateHandshake()
	serverEnvelope, _ := server.GenerateHandshake()

	if err := server.ReceiveHandshake(clientEnvelope); err != nil {
		t.Fatalf("server ReceiveHandshake failed: %v", err)
	}
	if err := client.ReceiveHandshake(serverEnvelope); err != nil {
		t.Fatalf("client ReceiveHandshake failed: %v", err)
	}

	serverSecret, err := server.Secret()
	if err != nil {
		t.Fatalf("server Secret failed: %v", err)
	}
	clientSecret, err := client.Secret()
	if err != nil {
		t.Fatalf("client Secret failed: %v", err)
	}

	if !bytes.Equal(serverSecret, clientSecret) {
		t.Error("password handshake derived different secrets")
	}
}

func TestPasswordDifferentPasswordsDiverge(t *testing.T) {
	server, _ := NewPassword("correct horse", Responder)
	client, _ := NewPassword("battery staple", Initiator)

	clientEnvelope, _ := client.GenerateHandshake()
	serverEnvelope, _ := server.GenerateHandshake()
	server.ReceiveHandshake(clientEnvelope)
	client.ReceiveHandshake(serverEnvelope)

	serverSecret, _ := server.Secret()
	clientSecret, _ := client.Secret()
	if bytes.Equal(serverSecret, clientSecret) {
		t.Error("different passwords derived the same secret")
	}
}

func TestPasswordEmptyRejected(t *testing.T) {
	if _, err := NewPassword("", Responder); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("expected ErrEmptyPassword, got %v", err)
	}
}

func TestPasswordMalformedEnvelope(t *testing.T) {
	server, _ := NewPassword("pw", Responder)

	testCases := []struct {
		name     string
		envelope string
	}{
		{"not base64", "!!!"},
		{"wrong length", "c2hvcnQ="},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := server.ReceiveHandshake(tc.envelope); !errors.Is(err, ErrMalformedEnvelope) {
				t.Errorf("expected ErrMalformedEnvelope, got %v", err)
			}
		})
	}
}
