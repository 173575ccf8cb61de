package hivemind

import (
	"encoding/json"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hivemind/bus"
	"github.com/opd-ai/hivemind/message"
)

// Agent bus topics the listener consumes and produces.
const (
	EventSendDownstream   = "hive.send.downstream"
	EventSendUpstream     = "hive.send.upstream"
	EventClientConnect    = "hive.client.connect"
	EventClientDisconnect = "hive.client.disconnect"
	EventConnectionError  = "hive.client.connection.error"
	EventSendError        = "hive.client.send.error"
)

// AgentProtocol bridges the listener and the agent bus: it consumes
// send-downstream requests and reply messages addressed to known peers,
// and produces lifecycle and upstream events on the listener's behalf.
// The peer table is reached only through the injected accessors.
type AgentProtocol struct {
	bus    bus.Bus
	peers  func() []*ClientConnection
	lookup func(peer string) (*ClientConnection, bool)
}

func newAgentProtocol(b bus.Bus, peers func() []*ClientConnection,
	lookup func(string) (*ClientConnection, bool)) *AgentProtocol {
	return &AgentProtocol{bus: b, peers: peers, lookup: lookup}
}

// attach subscribes the adapter to its bus topics.
func (a *AgentProtocol) attach() {
	a.bus.On(EventSendDownstream, a.handleSendDownstream)
	a.bus.On(bus.CatchAll, a.handleReply)
}

// handleSendDownstream delivers a hive message requested by a local
// agent: fan-out types go to every connection, targeted sends to the
// named peer. Escalations are ignored, they only travel slave to master.
func (a *AgentProtocol) handleSendDownstream(m *bus.Message) {
	hiveMsg, err := downstreamPayload(m)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleSendDownstream",
			"error":    err.Error(),
		}).Warn("send.downstream carried no hive message")
		return
	}

	switch hiveMsg.Type {
	case message.TypeBroadcast, message.TypePropagate:
		for _, cc := range a.peers() {
			if err := cc.Send(hiveMsg); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "handleSendDownstream",
					"peer":     cc.Peer(),
					"error":    err.Error(),
				}).Warn("downstream fan-out delivery failed")
			}
		}
	case message.TypeEscalate:
		return
	default:
		peer := stringField(m.Data, "peer")
		cc, ok := a.lookup(peer)
		if !ok {
			a.bus.Emit(m.Forward(EventSendError, map[string]interface{}{
				"error": "That client is not connected",
				"peer":  peer,
			}))
			return
		}
		if err := cc.Send(hiveMsg); err != nil {
			a.EmitSendError(peer)
		}
	}
}

// downstreamPayload extracts the hive message of a send.downstream
// request; the payload may be an object or a JSON string, and the
// request's msg_type fills in when the payload carries none.
func downstreamPayload(m *bus.Message) (*message.Message, error) {
	var raw []byte
	switch v := m.Data["payload"].(type) {
	case string:
		raw = []byte(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}

	hiveMsg, err := message.Deserialize(raw)
	if err == nil {
		return hiveMsg, nil
	}
	if msgType := stringField(m.Data, "msg_type"); msgType != "" {
		return message.New(message.Type(msgType), json.RawMessage(raw))
	}
	return nil, err
}

// handleReply watches the catch-all stream for agent replies whose
// destination names a connected peer and forwards each inside a bus
// envelope. Internal hive.* control events are skipped.
func (a *AgentProtocol) handleReply(m *bus.Message) {
	if strings.HasPrefix(m.Type, "hive.") {
		return
	}
	destinations := m.Destinations()
	if len(destinations) == 0 {
		return
	}

	for _, cc := range a.peers() {
		peer := cc.Peer()
		if !containsPeer(destinations, peer) {
			continue
		}

		out := m.Forward(m.Type, m.Data)
		out.Context["source"] = "hive"
		raw, err := out.Serialize()
		if err != nil {
			continue
		}
		envelope, err := message.New(message.TypeBus, json.RawMessage(raw))
		if err != nil {
			continue
		}
		envelope.AddTargetPeer(peer)
		if err := cc.Send(envelope); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleReply",
				"peer":     peer,
				"error":    err.Error(),
			}).Warn("reply delivery failed")
		}
	}
}

func containsPeer(destinations []string, peer string) bool {
	for _, d := range destinations {
		if d == peer {
			return true
		}
	}
	return false
}

// EmitConnect announces a newly authenticated connection.
func (a *AgentProtocol) EmitConnect(apiKey, sessionID string) {
	a.bus.Emit(bus.NewMessage(EventClientConnect, map[string]interface{}{
		"key":        apiKey,
		"session_id": sessionID,
	}))
}

// EmitDisconnect announces a closed connection.
func (a *AgentProtocol) EmitDisconnect(apiKey string) {
	a.bus.Emit(bus.NewMessage(EventClientDisconnect, map[string]interface{}{
		"key": apiKey,
	}))
}

// EmitConnectionError announces a rejected or violated connection.
func (a *AgentProtocol) EmitConnectionError(errText, peer string) {
	a.bus.Emit(bus.NewMessage(EventConnectionError, map[string]interface{}{
		"error": errText,
		"peer":  peer,
	}))
}

// EmitSendError announces a delivery failure to a peer.
func (a *AgentProtocol) EmitSendError(peer string) {
	a.bus.Emit(bus.NewMessage(EventSendError, map[string]interface{}{
		"error": "That client is not connected",
		"peer":  peer,
	}))
}

// EmitUpstream forwards an unpacked envelope toward the parent node.
func (a *AgentProtocol) EmitUpstream(inner *message.Message) {
	raw, err := inner.Serialize()
	if err != nil {
		return
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	a.bus.Emit(bus.NewMessage(EventSendUpstream, map[string]interface{}{
		"payload":  payload,
		"msg_type": string(inner.Type),
	}))
}
