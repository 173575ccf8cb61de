package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestEncryptJSONRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte(`{"msg_type":"bus","payload":{"type":"recognizer_loop:utterance"}}`)

	for _, c := range DefaultCiphers() {
		for _, e := range DefaultEncodings() {
			t.Run(c.String()+"/"+e.String(), func(t *testing.T) {
				frame, err := EncryptJSON(key, plaintext, c, e)
				if err != nil {
					t.Fatalf("EncryptJSON failed: %v", err)
				}
				if !IsEncryptedJSON(frame) {
					t.Error("frame not recognized as encrypted")
				}
				decrypted, err := DecryptJSON(key, frame, c, e)
				if err != nil {
					t.Fatalf("DecryptJSON failed: %v", err)
				}
				if !bytes.Equal(decrypted, plaintext) {
					t.Errorf("round trip mismatch: got %q, want %q", decrypted, plaintext)
				}
			})
		}
	}
}

func TestEncryptBinaryRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := make([]byte, 1024)
	if _, err := rand.Read(plaintext); err != nil {
		t.Fatalf("failed to generate plaintext: %v", err)
	}

	for _, c := range DefaultCiphers() {
		t.Run(c.String(), func(t *testing.T) {
			frame, err := EncryptBinary(key, plaintext, c)
			if err != nil {
				t.Fatalf("EncryptBinary failed: %v", err)
			}
			decrypted, err := DecryptBinary(key, frame, c)
			if err != nil {
				t.Fatalf("DecryptBinary failed: %v", err)
			}
			if !bytes.Equal(decrypted, plaintext) {
				t.Error("binary round trip mismatch")
			}
		})
	}
}

func TestInvalidKeyRejected(t *testing.T) {
	testCases := []struct {
		name string
		size int
	}{
		{"empty key", 0},
		{"short key", 8},
		{"long key", 32},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key := make([]byte, tc.size)
			_, err := EncryptJSON(key, []byte("x"), CipherAESGCM, EncodingB64)
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestTamperedTagFailsAuthentication(t *testing.T) {
	key := testKey(t)
	frame, err := EncryptBinary(key, []byte("secret payload"), CipherAESGCM)
	if err != nil {
		t.Fatalf("EncryptBinary failed: %v", err)
	}

	frame[len(frame)-1] ^= 0xff
	if _, err := DecryptBinary(key, frame, CipherAESGCM); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
}

func TestWrongKeyFailsAuthentication(t *testing.T) {
	frame, err := EncryptJSON(testKey(t), []byte("hello"), CipherChaCha20Poly1305, EncodingHex)
	if err != nil {
		t.Fatalf("EncryptJSON failed: %v", err)
	}
	if _, err := DecryptJSON(testKey(t), frame, CipherChaCha20Poly1305, EncodingHex); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
}

// Peers are allowed to append the tag to the ciphertext instead of
// carrying it in a separate field.
func TestDecryptJSONAcceptsAppendedTag(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("appended tag form")

	frame, err := EncryptJSON(key, plaintext, CipherAESGCM, EncodingB64)
	if err != nil {
		t.Fatalf("EncryptJSON failed: %v", err)
	}

	var env JSONEnvelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("failed to parse envelope: %v", err)
	}
	ciphertext, _ := EncodingB64.DecodeString(env.Ciphertext)
	tag, _ := EncodingB64.DecodeString(env.Tag)
	merged, err := EncodingB64.EncodeToString(append(ciphertext, tag...))
	if err != nil {
		t.Fatalf("failed to re-encode: %v", err)
	}
	env.Ciphertext = merged
	env.Tag = ""
	reframed, _ := json.Marshal(env)

	decrypted, err := DecryptJSON(key, reframed, CipherAESGCM, EncodingB64)
	if err != nil {
		t.Fatalf("DecryptJSON failed on appended tag form: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("appended tag round trip mismatch")
	}
}

func TestFreshNoncePerMessage(t *testing.T) {
	key := testKey(t)
	a, err := EncryptBinary(key, []byte("same plaintext"), CipherAESGCM)
	if err != nil {
		t.Fatalf("EncryptBinary failed: %v", err)
	}
	b, err := EncryptBinary(key, []byte("same plaintext"), CipherAESGCM)
	if err != nil {
		t.Fatalf("EncryptBinary failed: %v", err)
	}
	if bytes.Equal(a[:NonceSize], b[:NonceSize]) {
		t.Error("nonce reused across messages")
	}
}

func TestParseCipher(t *testing.T) {
	testCases := []struct {
		input    string
		expected Cipher
		wantErr  bool
	}{
		{"AES-GCM", CipherAESGCM, false},
		{"aes-gcm", CipherAESGCM, false},
		{"AES_GCM", CipherAESGCM, false},
		{"CHACHA20-POLY1305", CipherChaCha20Poly1305, false},
		{"chacha20_poly1305", CipherChaCha20Poly1305, false},
		{"DES", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseCipher(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("ParseCipher(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestParseEncoding(t *testing.T) {
	testCases := []struct {
		input    string
		expected Encoding
		wantErr  bool
	}{
		{"JSON-B64", EncodingB64, false},
		{"b64", EncodingB64, false},
		{"JSON-URLSAFE-B64", EncodingURLSafeB64, false},
		{"json-hex", EncodingHex, false},
		{"Z85P", EncodingZ85P, false},
		{"JSON-Z85B", EncodingZ85B, false},
		{"b91", EncodingB91, false},
		{"base85", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseEncoding(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("ParseEncoding(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestZ85ArbitraryLengths(t *testing.T) {
	for _, e := range []Encoding{EncodingZ85B, EncodingZ85P} {
		t.Run(e.String(), func(t *testing.T) {
			for size := 0; size < 20; size++ {
				data := make([]byte, size)
				rand.Read(data)
				encoded, err := e.EncodeToString(data)
				if err != nil {
					t.Fatalf("size %d: encode failed: %v", size, err)
				}
				decoded, err := e.DecodeString(encoded)
				if err != nil {
					t.Fatalf("size %d: decode failed: %v", size, err)
				}
				if !bytes.Equal(decoded, data) {
					t.Errorf("size %d: round trip mismatch", size)
				}
			}
		})
	}
}
