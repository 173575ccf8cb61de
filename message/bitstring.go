package message

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// bitstringVersion is the binary frame format version.
const bitstringVersion = 1

// maxMetadataSize bounds the metadata section of a binary frame.
const maxMetadataSize = 64 * 1024

// ErrBadBitstring indicates a binary frame that failed to parse.
var ErrBadBitstring = errors.New("malformed binary frame")

// EncodeBitstring renders an envelope as a length-tagged binary frame:
//
//	u8 version | u8 len | msg_type | u16 len | metadata JSON |
//	u8 len | bin_type | payload
//
// TypeBinary envelopes contribute their raw Binary bytes as the payload;
// every other type contributes its JSON payload.
func EncodeBitstring(m *Message) ([]byte, error) {
	if m == nil {
		return nil, ErrNilMessage
	}

	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if m.Metadata == nil {
		meta = []byte("{}")
	}
	if len(meta) > maxMetadataSize {
		return nil, fmt.Errorf("metadata too large: %d bytes", len(meta))
	}
	if len(m.Type) > 255 || len(m.BinaryType) > 255 {
		return nil, errors.New("type tag too long")
	}

	payload := []byte(m.Payload)
	if m.Type == TypeBinary {
		payload = m.Binary
	}

	frame := make([]byte, 0, 5+len(m.Type)+len(meta)+len(m.BinaryType)+len(payload))
	frame = append(frame, bitstringVersion)
	frame = append(frame, byte(len(m.Type)))
	frame = append(frame, m.Type...)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(meta)))
	frame = append(frame, meta...)
	frame = append(frame, byte(len(m.BinaryType)))
	frame = append(frame, m.BinaryType...)
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeBitstring reverses EncodeBitstring.
func DecodeBitstring(frame []byte) (*Message, error) {
	if len(frame) < 5 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadBitstring, len(frame))
	}
	if frame[0] != bitstringVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadBitstring, frame[0])
	}
	pos := 1

	typeLen := int(frame[pos])
	pos++
	if pos+typeLen > len(frame) {
		return nil, fmt.Errorf("%w: truncated msg_type", ErrBadBitstring)
	}
	msgType := Type(frame[pos : pos+typeLen])
	pos += typeLen

	if pos+2 > len(frame) {
		return nil, fmt.Errorf("%w: truncated metadata length", ErrBadBitstring)
	}
	metaLen := int(binary.BigEndian.Uint16(frame[pos : pos+2]))
	pos += 2
	if pos+metaLen > len(frame) {
		return nil, fmt.Errorf("%w: truncated metadata", ErrBadBitstring)
	}
	var metadata map[string]interface{}
	if metaLen > 0 {
		if err := json.Unmarshal(frame[pos:pos+metaLen], &metadata); err != nil {
			return nil, fmt.Errorf("%w: bad metadata: %v", ErrBadBitstring, err)
		}
	}
	pos += metaLen

	if pos+1 > len(frame) {
		return nil, fmt.Errorf("%w: truncated bin_type length", ErrBadBitstring)
	}
	binTypeLen := int(frame[pos])
	pos++
	if pos+binTypeLen > len(frame) {
		return nil, fmt.Errorf("%w: truncated bin_type", ErrBadBitstring)
	}
	binType := BinaryType(frame[pos : pos+binTypeLen])
	pos += binTypeLen

	m := &Message{
		Type:       msgType,
		Metadata:   metadata,
		BinaryType: binType,
	}

	payload := frame[pos:]
	if msgType == TypeBinary {
		m.Binary = make([]byte, len(payload))
		copy(m.Binary, payload)
	} else if len(payload) > 0 {
		m.Payload = json.RawMessage(append([]byte(nil), payload...))
	}
	return m, nil
}
