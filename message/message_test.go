package message

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestSerializeRoundTrip(t *testing.T) {
	m, err := New(TypeBus, map[string]interface{}{
		"type": "recognizer_loop:utterance",
		"data": map[string]interface{}{"utterances": []string{"hello"}},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	m.SourcePeer = "terminal::1::alice::s1"
	m.TargetPeers = []string{"master"}
	m.Route = []Hop{{Source: "terminal::1::alice::s1", Targets: []string{"master"}}}

	frame, err := m.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	parsed, err := Deserialize(frame)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if parsed.Type != TypeBus {
		t.Errorf("Type = %q, want %q", parsed.Type, TypeBus)
	}
	if parsed.SourcePeer != m.SourcePeer {
		t.Errorf("SourcePeer = %q, want %q", parsed.SourcePeer, m.SourcePeer)
	}
	if parsed.PayloadType() != "recognizer_loop:utterance" {
		t.Errorf("PayloadType = %q", parsed.PayloadType())
	}
	if len(parsed.Route) != 1 || parsed.Route[0].Source != m.Route[0].Source {
		t.Errorf("route not preserved: %+v", parsed.Route)
	}
}

func TestDeserializeRejectsMissingType(t *testing.T) {
	if _, err := Deserialize([]byte(`{"payload":{}}`)); err == nil {
		t.Error("expected error for missing msg_type")
	}
	if _, err := Deserialize([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestDeserializeKeepsUnknownType(t *testing.T) {
	m, err := Deserialize([]byte(`{"msg_type":"experimental","payload":{}}`))
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if m.Type != Type("experimental") {
		t.Errorf("Type = %q", m.Type)
	}
}

func TestPayloadEnvelope(t *testing.T) {
	inner, _ := New(TypeBus, map[string]interface{}{"type": "test"})
	outer, err := New(TypeBroadcast, inner)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	unpacked, err := outer.PayloadEnvelope()
	if err != nil {
		t.Fatalf("PayloadEnvelope failed: %v", err)
	}
	if unpacked.Type != TypeBus {
		t.Errorf("inner Type = %q, want %q", unpacked.Type, TypeBus)
	}
	if unpacked.PayloadType() != "test" {
		t.Errorf("inner PayloadType = %q, want test", unpacked.PayloadType())
	}
}

func TestUpdateHopData(t *testing.T) {
	m, _ := New(TypeBroadcast, nil)
	m.SourcePeer = "node-a"
	m.TargetPeers = []string{"node-b", "node-c"}

	m.UpdateHopData()
	if len(m.Route) != 1 {
		t.Fatalf("route length = %d, want 1", len(m.Route))
	}
	if m.Route[0].Source != "node-a" {
		t.Errorf("hop source = %q", m.Route[0].Source)
	}
	if len(m.Route[0].Targets) != 2 {
		t.Errorf("hop targets = %v", m.Route[0].Targets)
	}

	// A second update from the same source must not duplicate the hop.
	m.UpdateHopData()
	if len(m.Route) != 1 {
		t.Errorf("route length after repeat = %d, want 1", len(m.Route))
	}

	m.UpdateSourcePeer("node-b")
	m.UpdateHopData()
	if len(m.Route) != 2 {
		t.Errorf("route length after new source = %d, want 2", len(m.Route))
	}
}

func TestHopTargetsFallBackToSource(t *testing.T) {
	m, _ := New(TypeEscalate, nil)
	m.SourcePeer = "node-a"
	m.UpdateHopData()
	if len(m.Route) != 1 || len(m.Route[0].Targets) != 1 || m.Route[0].Targets[0] != "node-a" {
		t.Errorf("unexpected hop: %+v", m.Route)
	}
}

func TestRouteContains(t *testing.T) {
	m, _ := New(TypeBroadcast, nil)
	m.ReplaceRoute([]Hop{{Source: "node-a", Targets: []string{"node-b"}}})
	if !m.RouteContains("node-a") {
		t.Error("expected route to contain node-a")
	}
	if m.RouteContains("node-z") {
		t.Error("did not expect route to contain node-z")
	}
}

func TestTargetPeerManagement(t *testing.T) {
	m, _ := New(TypeBroadcast, nil)
	m.AddTargetPeer("p1")
	m.AddTargetPeer("p2")
	m.AddTargetPeer("p1")
	m.RemoveTargetPeer("p1")
	if len(m.TargetPeers) != 1 || m.TargetPeers[0] != "p2" {
		t.Errorf("TargetPeers = %v, want [p2]", m.TargetPeers)
	}
	m.RemoveTargetPeer("absent")
	if len(m.TargetPeers) != 1 {
		t.Errorf("TargetPeers = %v", m.TargetPeers)
	}
}

func TestBitstringRoundTrip(t *testing.T) {
	m, _ := New(TypeBus, map[string]interface{}{"type": "speak"})
	m.Metadata = map[string]interface{}{"lang": "en-us", "sample_rate": 16000}

	frame, err := EncodeBitstring(m)
	if err != nil {
		t.Fatalf("EncodeBitstring failed: %v", err)
	}
	parsed, err := DecodeBitstring(frame)
	if err != nil {
		t.Fatalf("DecodeBitstring failed: %v", err)
	}
	if parsed.Type != TypeBus {
		t.Errorf("Type = %q", parsed.Type)
	}
	if parsed.MetadataString("lang", "") != "en-us" {
		t.Errorf("lang = %q", parsed.MetadataString("lang", ""))
	}
	if parsed.MetadataInt("sample_rate", 0) != 16000 {
		t.Errorf("sample_rate = %d", parsed.MetadataInt("sample_rate", 0))
	}
	if parsed.PayloadType() != "speak" {
		t.Errorf("PayloadType = %q", parsed.PayloadType())
	}
}

func TestBitstringBinaryPayload(t *testing.T) {
	audio := bytes.Repeat([]byte{0xAB, 0xCD}, 512)
	m := &Message{
		Type:       TypeBinary,
		BinaryType: BinaryRawAudio,
		Metadata:   map[string]interface{}{"sample_rate": 16000, "sample_width": 2},
		Binary:     audio,
	}

	frame, err := EncodeBitstring(m)
	if err != nil {
		t.Fatalf("EncodeBitstring failed: %v", err)
	}
	parsed, err := DecodeBitstring(frame)
	if err != nil {
		t.Fatalf("DecodeBitstring failed: %v", err)
	}
	if parsed.BinaryType != BinaryRawAudio {
		t.Errorf("BinaryType = %q", parsed.BinaryType)
	}
	if !bytes.Equal(parsed.Binary, audio) {
		t.Error("binary payload mismatch")
	}
}

func TestBitstringTruncated(t *testing.T) {
	m, _ := New(TypeBus, map[string]interface{}{"type": "test"})
	frame, _ := EncodeBitstring(m)

	for _, size := range []int{0, 1, 3, 5} {
		if size > len(frame) {
			continue
		}
		if _, err := DecodeBitstring(frame[:size]); err == nil {
			t.Errorf("expected error for %d-byte frame", size)
		}
	}
}

func TestSetPayloadRawForms(t *testing.T) {
	m, _ := New(TypeBus, nil)
	if err := m.SetPayload(json.RawMessage(`{"type":"a"}`)); err != nil {
		t.Fatalf("SetPayload raw failed: %v", err)
	}
	if m.PayloadType() != "a" {
		t.Errorf("PayloadType = %q", m.PayloadType())
	}
	if err := m.SetPayload([]byte(`{"type":"b"}`)); err != nil {
		t.Fatalf("SetPayload bytes failed: %v", err)
	}
	if m.PayloadType() != "b" {
		t.Errorf("PayloadType = %q", m.PayloadType())
	}
}
