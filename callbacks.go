package hivemind

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hivemind/message"
)

// ClientCallbacks observe connection lifecycle and policy events. All
// fields are optional; callbacks run on the connection's reader
// goroutine, and a panic inside one is logged and swallowed so a
// misbehaving observer cannot take the connection down.
type ClientCallbacks struct {
	// OnConnect fires after a connection passed the credential check and
	// was greeted.
	OnConnect func(c *ClientConnection)
	// OnDisconnect fires once when a connection closes.
	OnDisconnect func(c *ClientConnection)
	// OnInvalidKey fires when a connection presented an unknown access
	// key and was rejected.
	OnInvalidKey func(userAgent, remoteAddr string)
	// OnInvalidProtocol fires when a connection violated the protocol
	// (no cipher or encoding intersection, crypto required without a
	// key path) and was closed.
	OnInvalidProtocol func(c *ClientConnection, reason string)
	// OnIllegalMessage fires when a client attempted a fan-out primitive
	// its record does not permit. The frame is dropped, the connection
	// stays open.
	OnIllegalMessage func(c *ClientConnection, m *message.Message)
	// OnSharedBus observes mirrored remote bus traffic. Metrics only;
	// shared bus envelopes are never forwarded.
	OnSharedBus func(c *ClientConnection, m *message.Message)
	// OnUnknownMessage receives envelope types the listener does not
	// dispatch, reserved and user-land types included.
	OnUnknownMessage func(c *ClientConnection, m *message.Message)
}

// invoke runs a callback, recovering panics.
func invoke(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "invoke",
				"callback": name,
				"panic":    r,
			}).Error("callback panicked")
		}
	}()
	fn()
}
