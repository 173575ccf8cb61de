// Package handshake implements the two key agreement schemes a HiveMind
// listener negotiates with connecting nodes.
//
// The asymmetric scheme performs an X25519 exchange: the listener
// advertises its public key in HELLO, the peer answers HANDSHAKE with
// its own public key, and both ends derive the same 16-byte session key
// without it ever crossing the wire. The password scheme derives the
// session key from a pre-shared password and a pair of random salts, one
// contributed by each side inside its handshake envelope.
//
// A peer may repeat either handshake at any time; the freshly derived
// key replaces the previous one atomically.
package handshake
