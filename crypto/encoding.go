package crypto

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mtraver/base91"
	"github.com/tilinna/z85"
)

// ErrUnsupportedEncoding indicates an unrecognized encoding name or value.
var ErrUnsupportedEncoding = errors.New("unsupported encoding")

// Encoding selects how ciphertext, tag and nonce are serialized inside
// JSON text frames.
type Encoding uint8

const (
	// EncodingB64 is standard base64.
	EncodingB64 Encoding = iota
	// EncodingURLSafeB64 is URL-safe base64.
	EncodingURLSafeB64
	// EncodingB91 is basE91.
	EncodingB91
	// EncodingZ85B is Z85 with the pad count carried in the trailing
	// byte of the frame.
	EncodingZ85B
	// EncodingZ85P is Z85 with the pad count carried in the leading
	// byte of the frame.
	EncodingZ85P
	// EncodingB32 is standard base32.
	EncodingB32
	// EncodingHex is lowercase hexadecimal.
	EncodingHex
)

// DefaultEncodings returns the recognized encodings in descending server
// preference order.
func DefaultEncodings() []Encoding {
	return []Encoding{
		EncodingB64,
		EncodingURLSafeB64,
		EncodingB91,
		EncodingZ85B,
		EncodingZ85P,
		EncodingB32,
		EncodingHex,
	}
}

// String returns the wire name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingB64:
		return "JSON-B64"
	case EncodingURLSafeB64:
		return "JSON-URLSAFE-B64"
	case EncodingB91:
		return "JSON-B91"
	case EncodingZ85B:
		return "JSON-Z85B"
	case EncodingZ85P:
		return "JSON-Z85P"
	case EncodingB32:
		return "JSON-B32"
	case EncodingHex:
		return "JSON-HEX"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(e))
	}
}

// ParseEncoding resolves a wire encoding name. Matching is
// case-insensitive and the "JSON-" prefix is optional.
func ParseEncoding(name string) (Encoding, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(name, "_", "-"))
	normalized = strings.TrimPrefix(normalized, "JSON-")
	switch normalized {
	case "B64", "BASE64":
		return EncodingB64, nil
	case "URLSAFE-B64", "URLSAFE-BASE64":
		return EncodingURLSafeB64, nil
	case "B91", "BASE91":
		return EncodingB91, nil
	case "Z85B":
		return EncodingZ85B, nil
	case "Z85P":
		return EncodingZ85P, nil
	case "B32", "BASE32":
		return EncodingB32, nil
	case "HEX":
		return EncodingHex, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
}

// EncodeToString serializes raw bytes with this encoding.
func (e Encoding) EncodeToString(data []byte) (string, error) {
	switch e {
	case EncodingB64:
		return base64.StdEncoding.EncodeToString(data), nil
	case EncodingURLSafeB64:
		return base64.URLEncoding.EncodeToString(data), nil
	case EncodingB91:
		return base91.StdEncoding.EncodeToString(data), nil
	case EncodingZ85B:
		return encodeZ85B(data), nil
	case EncodingZ85P:
		return encodeZ85P(data), nil
	case EncodingB32:
		return base32.StdEncoding.EncodeToString(data), nil
	case EncodingHex:
		return hex.EncodeToString(data), nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnsupportedEncoding, uint8(e))
	}
}

// DecodeString reverses EncodeToString.
func (e Encoding) DecodeString(data string) ([]byte, error) {
	switch e {
	case EncodingB64:
		return base64.StdEncoding.DecodeString(data)
	case EncodingURLSafeB64:
		return base64.URLEncoding.DecodeString(data)
	case EncodingB91:
		return base91.StdEncoding.DecodeString(data)
	case EncodingZ85B:
		return decodeZ85B(data)
	case EncodingZ85P:
		return decodeZ85P(data)
	case EncodingB32:
		return base32.StdEncoding.DecodeString(data)
	case EncodingHex:
		return hex.DecodeString(data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedEncoding, uint8(e))
	}
}

// encodeZ85B pads the payload with zero bytes, appends a trailing
// pad-count byte and applies plain Z85.
func encodeZ85B(data []byte) string {
	pad := (4 - (len(data)+1)%4) % 4
	framed := make([]byte, len(data)+pad+1)
	copy(framed, data)
	framed[len(framed)-1] = byte(pad)
	out := make([]byte, z85.EncodedLen(len(framed)))
	z85.Encode(out, framed)
	return string(out)
}

// decodeZ85B reverses encodeZ85B.
func decodeZ85B(data string) ([]byte, error) {
	if len(data)%5 != 0 {
		return nil, fmt.Errorf("z85b: input length %d not a multiple of 5", len(data))
	}
	out := make([]byte, z85.DecodedLen(len(data)))
	if _, err := z85.Decode(out, []byte(data)); err != nil {
		return nil, fmt.Errorf("z85b: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("z85b: empty frame")
	}
	pad := int(out[len(out)-1])
	if pad > len(out)-1 {
		return nil, fmt.Errorf("z85b: pad count %d exceeds frame", pad)
	}
	return out[:len(out)-1-pad], nil
}

// encodeZ85P prepends a pad-count byte, pads the frame with zero bytes
// to a multiple of 4 and applies plain Z85. The count byte makes the
// padding reversible for any payload.
func encodeZ85P(data []byte) string {
	pad := (4 - (len(data)+1)%4) % 4
	framed := make([]byte, 1+len(data)+pad)
	framed[0] = byte(pad)
	copy(framed[1:], data)
	out := make([]byte, z85.EncodedLen(len(framed)))
	z85.Encode(out, framed)
	return string(out)
}

// decodeZ85P reverses encodeZ85P.
func decodeZ85P(data string) ([]byte, error) {
	if len(data)%5 != 0 {
		return nil, fmt.Errorf("z85p: input length %d not a multiple of 5", len(data))
	}
	out := make([]byte, z85.DecodedLen(len(data)))
	if _, err := z85.Decode(out, []byte(data)); err != nil {
		return nil, fmt.Errorf("z85p: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("z85p: empty frame")
	}
	pad := int(out[0])
	if pad > len(out)-1 {
		return nil, fmt.Errorf("z85p: pad count %d exceeds frame", pad)
	}
	return out[1 : len(out)-pad], nil
}
