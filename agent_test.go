package hivemind

import (
	"encoding/json"
	"testing"

	"github.com/opd-ai/hivemind/bus"
	"github.com/opd-ai/hivemind/crypto"
	"github.com/opd-ai/hivemind/database"
	"github.com/opd-ai/hivemind/message"
)

func decryptFrame(t *testing.T, key string, frame []byte) *message.Message {
	t.Helper()
	plaintext, err := crypto.DecryptJSON([]byte(key), frame, crypto.CipherAESGCM, crypto.EncodingB64)
	if err != nil {
		t.Fatalf("frame did not decrypt: %v", err)
	}
	m, err := message.Deserialize(plaintext)
	if err != nil {
		t.Fatalf("frame did not parse: %v", err)
	}
	return m
}

func TestDownstreamTargetedSend(t *testing.T) {
	h := newHarness(t)
	record := database.NewClient("satellite", "key-c")
	record.CryptoKey = "0123456789abcdef"
	h.addClient(t, record)

	cc, fc, _ := h.connect(t, "key-c")
	before := fc.textCount()

	payload := map[string]interface{}{
		"msg_type": "bus",
		"payload":  map[string]interface{}{"type": "speak", "data": map[string]interface{}{}},
	}
	h.emitter.Emit(bus.NewMessage(EventSendDownstream, map[string]interface{}{
		"payload":  payload,
		"peer":     cc.Peer(),
		"msg_type": "bus",
	}))

	if fc.textCount() != before+1 {
		t.Fatalf("targeted send wrote %d frames, want 1", fc.textCount()-before)
	}
	got := decryptFrame(t, record.CryptoKey, fc.lastText(t))
	if got.Type != message.TypeBus {
		t.Errorf("delivered type = %q", got.Type)
	}
}

func TestDownstreamUnknownPeerEmitsSendError(t *testing.T) {
	h := newHarness(t)
	sendErrors := h.collect(EventSendError)

	h.emitter.Emit(bus.NewMessage(EventSendDownstream, map[string]interface{}{
		"payload":  map[string]interface{}{"msg_type": "bus", "payload": map[string]interface{}{}},
		"peer":     "nobody::1::ghost::s0",
		"msg_type": "bus",
	}))

	if len(*sendErrors) != 1 {
		t.Fatalf("send.error emissions = %d, want 1", len(*sendErrors))
	}
	data := (*sendErrors)[0].Data
	if data["error"] != "That client is not connected" {
		t.Errorf("error = %v", data["error"])
	}
	if data["peer"] != "nobody::1::ghost::s0" {
		t.Errorf("peer = %v", data["peer"])
	}
}

func TestDownstreamBroadcastFansToAllPeers(t *testing.T) {
	h := newHarness(t)
	for _, key := range []string{"key-1", "key-2"} {
		record := database.NewClient("node-"+key, key)
		record.CryptoKey = "0123456789abcdef"
		h.addClient(t, record)
	}
	_, fc1, _ := h.connect(t, "key-1")
	_, fc2, _ := h.connect(t, "key-2")
	b1, b2 := fc1.textCount(), fc2.textCount()

	h.emitter.Emit(bus.NewMessage(EventSendDownstream, map[string]interface{}{
		"payload": map[string]interface{}{
			"msg_type": "broadcast",
			"payload":  map[string]interface{}{"msg_type": "bus", "payload": map[string]interface{}{}},
		},
		"msg_type": "broadcast",
	}))

	if fc1.textCount() != b1+1 || fc2.textCount() != b2+1 {
		t.Errorf("broadcast deliveries = %d, %d, want 1 each",
			fc1.textCount()-b1, fc2.textCount()-b2)
	}
}

func TestDownstreamEscalateIgnored(t *testing.T) {
	h := newHarness(t)
	record := database.NewClient("satellite", "key-c")
	record.CryptoKey = "0123456789abcdef"
	h.addClient(t, record)
	_, fc, _ := h.connect(t, "key-c")
	before := fc.textCount()

	h.emitter.Emit(bus.NewMessage(EventSendDownstream, map[string]interface{}{
		"payload":  map[string]interface{}{"msg_type": "escalate", "payload": map[string]interface{}{}},
		"msg_type": "escalate",
	}))

	if fc.textCount() != before {
		t.Error("escalation must never flow downstream")
	}
}

func TestReplyForwardedToDestinationPeer(t *testing.T) {
	h := newHarness(t)
	record := database.NewClient("satellite", "key-c")
	record.CryptoKey = "0123456789abcdef"
	h.addClient(t, record)
	bystander := database.NewClient("other", "key-d")
	bystander.CryptoKey = "fedcba9876543210"
	h.addClient(t, bystander)

	cc, fc, _ := h.connect(t, "key-c")
	_, fcOther, _ := h.connect(t, "key-d")
	before, beforeOther := fc.textCount(), fcOther.textCount()

	reply := bus.NewMessage("speak", map[string]interface{}{"utterance": "hi"})
	reply.Context["destination"] = cc.Peer()
	h.emitter.Emit(reply)

	if fc.textCount() != before+1 {
		t.Fatalf("reply deliveries = %d, want 1", fc.textCount()-before)
	}
	if fcOther.textCount() != beforeOther {
		t.Error("reply leaked to a peer outside its destination")
	}

	got := decryptFrame(t, record.CryptoKey, fc.lastText(t))
	if got.Type != message.TypeBus {
		t.Fatalf("delivered type = %q, want bus", got.Type)
	}
	var inner bus.Message
	if err := json.Unmarshal(got.Payload, &inner); err != nil {
		t.Fatalf("inner message did not parse: %v", err)
	}
	if inner.Type != "speak" {
		t.Errorf("inner type = %q", inner.Type)
	}
	if inner.Context["source"] != "hive" {
		t.Errorf("context.source = %v, want hive", inner.Context["source"])
	}
	if len(got.TargetPeers) != 1 || got.TargetPeers[0] != cc.Peer() {
		t.Errorf("target_peers = %v", got.TargetPeers)
	}
}

func TestInternalEventsNotRewrapped(t *testing.T) {
	h := newHarness(t)
	record := database.NewClient("satellite", "key-c")
	record.CryptoKey = "0123456789abcdef"
	h.addClient(t, record)
	cc, fc, _ := h.connect(t, "key-c")
	before := fc.textCount()

	control := bus.NewMessage(EventClientConnect, map[string]interface{}{"key": "key-c"})
	control.Context["destination"] = cc.Peer()
	h.emitter.Emit(control)

	if fc.textCount() != before {
		t.Error("hive control event was forwarded to a client")
	}
}

func TestEmitUpstreamShape(t *testing.T) {
	h := newHarness(t)
	upstream := h.collect(EventSendUpstream)

	inner, err := message.New(message.TypeBus, map[string]interface{}{"type": "test"})
	if err != nil {
		t.Fatal(err)
	}
	inner.SourcePeer = "master:127.0.0.1:5678"
	h.listener.agent.EmitUpstream(inner)

	if len(*upstream) != 1 {
		t.Fatalf("upstream emissions = %d, want 1", len(*upstream))
	}
	data := (*upstream)[0].Data
	if data["msg_type"] != "bus" {
		t.Errorf("msg_type = %v", data["msg_type"])
	}
	payload, ok := data["payload"].(map[string]interface{})
	if !ok {
		t.Fatalf("payload is %T, want object", data["payload"])
	}
	if payload["msg_type"] != "bus" {
		t.Errorf("payload.msg_type = %v", payload["msg_type"])
	}
	if payload["source_peer"] != "master:127.0.0.1:5678" {
		t.Errorf("payload.source_peer = %v", payload["source_peer"])
	}
}
