package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies the kind of envelope and therefore which listener
// handler processes it.
type Type string

const (
	// TypeHandshake negotiates or rotates session keys.
	TypeHandshake Type = "shake"
	// TypeHello announces identity, session and public key.
	TypeHello Type = "hello"
	// TypeBus injects an agent message into the listener's bus.
	TypeBus Type = "bus"
	// TypeSharedBus passively mirrors a remote node's bus traffic.
	TypeSharedBus Type = "shared_bus"
	// TypeBroadcast fans the inner envelope out to all downstream peers.
	TypeBroadcast Type = "broadcast"
	// TypePropagate fans out downstream and forwards upstream.
	TypePropagate Type = "propagate"
	// TypeEscalate forwards the inner envelope strictly upstream.
	TypeEscalate Type = "escalate"
	// TypeIntercom carries an opaque envelope addressed to a specific
	// node public key.
	TypeIntercom Type = "intercom"
	// TypeBinary carries type-tagged raw bytes.
	TypeBinary Type = "binary"

	// Reserved types, recognized but not dispatched by the listener.

	// TypePing is reserved for network mapping.
	TypePing Type = "ping"
	// TypeQuery is reserved for first-responder queries.
	TypeQuery Type = "query"
	// TypeCascade is reserved for all-nodes queries.
	TypeCascade Type = "cascade"
	// TypeRendezvous is reserved for rendezvous nodes.
	TypeRendezvous Type = "rendezvous"
	// TypeThirdParty is user-land; the listener never interprets it.
	TypeThirdParty Type = "3rdparty"
)

// BinaryType tags the payload of a TypeBinary envelope so the binary
// data dispatcher can route it.
type BinaryType string

const (
	BinaryUndefined     BinaryType = "undefined"
	BinaryRawAudio      BinaryType = "raw_audio"
	BinarySTTTranscribe BinaryType = "stt_audio_transcribe"
	BinarySTTHandle     BinaryType = "stt_audio_handle"
	BinaryTTSAudio      BinaryType = "tts_audio"
	BinaryFile          BinaryType = "file"
	BinaryNumpyImage    BinaryType = "numpy_image"
)

// Hop is one entry in an envelope's route history.
type Hop struct {
	Source  string   `json:"source"`
	Targets []string `json:"targets"`
}

// ErrNilMessage indicates a nil envelope where one was required.
var ErrNilMessage = errors.New("nil message")

// Message is a HiveMessage envelope. Route and peer metadata travel with
// the message and are updated at each hop; the payload is opaque JSON
// except for TypeBinary, where Binary holds the raw bytes instead.
type Message struct {
	Type            Type                   `json:"msg_type"`
	Payload         json.RawMessage        `json:"payload,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	BinaryType      BinaryType             `json:"bin_type,omitempty"`
	Route           []Hop                  `json:"route,omitempty"`
	Node            string                 `json:"node,omitempty"`
	SourcePeer      string                 `json:"source_peer,omitempty"`
	TargetPeers     []string               `json:"target_peers,omitempty"`
	TargetSiteID    string                 `json:"target_site_id,omitempty"`
	TargetPublicKey string                 `json:"target_pubkey,omitempty"`

	// Binary is the raw payload of a TypeBinary envelope. It is carried
	// by the bitstring frame codec, never by JSON.
	Binary []byte `json:"-"`
}

// New creates an envelope of the given type, marshaling payload to JSON.
// A nil payload produces an empty object.
func New(t Type, payload interface{}) (*Message, error) {
	m := &Message{Type: t}
	if payload == nil {
		m.Payload = json.RawMessage("{}")
		return m, nil
	}
	if err := m.SetPayload(payload); err != nil {
		return nil, err
	}
	return m, nil
}

// SetPayload replaces the envelope payload with the JSON form of v.
func (m *Message) SetPayload(v interface{}) error {
	switch p := v.(type) {
	case json.RawMessage:
		m.Payload = p
		return nil
	case []byte:
		m.Payload = json.RawMessage(p)
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	m.Payload = raw
	return nil
}

// Serialize renders the envelope as a JSON frame.
func (m *Message) Serialize() ([]byte, error) {
	return json.Marshal(m)
}

// Deserialize parses a JSON frame into an envelope. Unknown msg_type
// values are preserved so the listener can hand them to its extension
// hook.
func Deserialize(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse hive message: %w", err)
	}
	if m.Type == "" {
		return nil, errors.New("hive message missing msg_type")
	}
	return &m, nil
}

// PayloadEnvelope parses the payload as a nested envelope, the form the
// fan-out primitives carry.
func (m *Message) PayloadEnvelope() (*Message, error) {
	if len(m.Payload) == 0 {
		return nil, errors.New("empty payload")
	}
	return Deserialize(m.Payload)
}

// PayloadMap parses the payload as a generic JSON object.
func (m *Message) PayloadMap() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(m.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(m.Payload, &out); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	return out, nil
}

// PayloadType returns the "type" field of the inner payload, the
// application message type of BUS envelopes. Empty when absent.
func (m *Message) PayloadType() string {
	var probe struct {
		Type    string `json:"type"`
		MsgType Type   `json:"msg_type"`
	}
	if err := json.Unmarshal(m.Payload, &probe); err != nil {
		return ""
	}
	if probe.Type != "" {
		return probe.Type
	}
	return string(probe.MsgType)
}

// effectiveTargets is the target list recorded in hop data: explicit
// targets, else the source peer.
func (m *Message) effectiveTargets() []string {
	if len(m.TargetPeers) > 0 {
		return m.TargetPeers
	}
	if m.SourcePeer != "" {
		return []string{m.SourcePeer}
	}
	return nil
}

// UpdateHopData appends a hop for the current source peer unless the
// last recorded hop already came from it.
func (m *Message) UpdateHopData() {
	if len(m.Route) > 0 && m.Route[len(m.Route)-1].Source == m.SourcePeer {
		return
	}
	m.Route = append(m.Route, Hop{
		Source:  m.SourcePeer,
		Targets: m.effectiveTargets(),
	})
}

// ReplaceRoute overwrites the hop history, used when unpacking a nested
// envelope so it inherits the outer route.
func (m *Message) ReplaceRoute(route []Hop) {
	m.Route = route
}

// RouteContains reports whether a hop in the route already originated at
// the given peer. Used for loop prevention on fan-out.
func (m *Message) RouteContains(source string) bool {
	for _, hop := range m.Route {
		if hop.Source == source {
			return true
		}
	}
	return false
}

// UpdateSourcePeer stamps the envelope with the peer it is now
// travelling from.
func (m *Message) UpdateSourcePeer(peer string) {
	m.SourcePeer = peer
}

// AddTargetPeer appends a delivery target.
func (m *Message) AddTargetPeer(peer string) {
	m.TargetPeers = append(m.TargetPeers, peer)
}

// RemoveTargetPeer drops a delivery target, keeping a broadcast from
// bouncing back to its originator.
func (m *Message) RemoveTargetPeer(peer string) {
	filtered := m.TargetPeers[:0]
	for _, p := range m.TargetPeers {
		if p != peer {
			filtered = append(filtered, p)
		}
	}
	m.TargetPeers = filtered
}

// MetadataString returns a string metadata value, or fallback when the
// key is absent or not a string.
func (m *Message) MetadataString(key, fallback string) string {
	if v, ok := m.Metadata[key].(string); ok {
		return v
	}
	return fallback
}

// MetadataInt returns an integer metadata value, or fallback when the
// key is absent. JSON numbers arrive as float64.
func (m *Message) MetadataInt(key string, fallback int) int {
	switch v := m.Metadata[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
