// Package transport accepts client connections and moves opaque frames.
//
// The transport knows nothing about the protocol: it decodes the
// connection credentials from the request, hands every accepted
// connection to an Acceptor, and shuttles text and binary frames
// between the socket and the returned FrameHandler. The websocket
// implementation is the production transport; tests substitute
// in-memory connections behind the same interfaces.
package transport
