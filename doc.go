// Package hivemind implements the HiveMind listener: a mesh broker that
// federates voice-assistant nodes over authenticated, end-to-end
// encrypted connections.
//
// The listener accepts client connections from a transport, negotiates
// a session key per connection (X25519 or password-derived), and then
// relays framed messages between clients and a collocated agent bus.
// Four directional primitives move messages through the mesh:
//
//   - bus: inject an application message into this node's agent bus
//   - broadcast: fan an envelope out to all downstream peers
//   - propagate: fan out downstream and forward upstream
//   - escalate: forward strictly upstream
//
// plus intercom, an opaque envelope sealed to a specific node public
// key that traverses intermediate nodes unread.
//
// Basic usage:
//
//	opts := hivemind.DefaultOptions()
//	service, err := hivemind.NewService(opts)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer service.Close()
//	if err := service.Run(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//
// Client records, permissions and denylists live in the database
// package; the wire envelope model lives in the message package; the
// AEAD envelope and encodings live in the crypto package.
package hivemind
