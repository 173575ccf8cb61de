package hivemind

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hivemind/crypto"
	"github.com/opd-ai/hivemind/database"
	"github.com/opd-ai/hivemind/handshake"
	"github.com/opd-ai/hivemind/message"
	"github.com/opd-ai/hivemind/transport"
)

// ErrEncryptedFrameExpected indicates a clear frame arrived on a
// connection that already holds a session key while crypto is required.
var ErrEncryptedFrameExpected = errors.New("unencrypted frame on encrypted connection")

// ClientConnection is the transient state of one accepted socket: the
// client record it authenticated as, its session, and the negotiated
// crypto parameters. The record, session key and negotiated parameters
// are guarded by a mutex so record refreshes and re-handshakes swap
// them atomically under concurrent sends.
type ClientConnection struct {
	conn      transport.Conn
	userAgent string

	asymmetric *handshake.Asymmetric
	password   *handshake.Password

	mu            sync.RWMutex
	client        *database.Client
	sessionID     string
	siteID        string
	peerPublicKey string
	cryptoKey     []byte
	cipher        crypto.Cipher
	encoding      crypto.Encoding
	binarize      bool
	requireCrypto bool
}

// Client returns the record this connection authenticated as.
func (c *ClientConnection) Client() *database.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// setRecord swaps in a freshly loaded client record.
func (c *ClientConnection) setRecord(record *database.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = record
}

// SessionID returns the connection's current session identifier.
func (c *ClientConnection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// SiteID returns the location tag the peer announced, if any.
func (c *ClientConnection) SiteID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.siteID
}

// Peer returns the connection's routable address inside the broker:
// {useragent}::{client_id}::{name}::{session_id}.
func (c *ClientConnection) Peer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s::%d::%s::%s",
		c.userAgent, c.client.ClientID, c.client.Name, c.sessionID)
}

// PeerPublicKey returns the public key the peer announced in HELLO or
// HANDSHAKE, empty until then.
func (c *ClientConnection) PeerPublicKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerPublicKey
}

// SetSessionKey installs a session key, replacing any previous one.
// Frames already decrypted under the old key are unaffected.
func (c *ClientConnection) SetSessionKey(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cryptoKey = append([]byte(nil), key...)
}

// HasSessionKey reports whether encryption is active.
func (c *ClientConnection) HasSessionKey() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cryptoKey != nil
}

// Authorize reports whether an inbound envelope passes the client's
// permission gate. Only bus envelopes are type-gated: their inner
// application message type must appear in allowed_types. Skill and
// intent denylists never block admission; they are merged into the
// forwarded session instead.
func (c *ClientConnection) Authorize(m *message.Message) bool {
	if m.Type != message.TypeBus {
		return true
	}
	payloadType := m.PayloadType()
	for _, allowed := range c.Client().AllowedTypes {
		if allowed == payloadType {
			return true
		}
	}
	return false
}

// Send serializes, gates and writes an envelope to the client.
//
// The outgoing gate drops bus envelopes whose inner message type is
// blacklisted for this client. With a session key active, everything
// except HELLO and HANDSHAKE is encrypted. Binary envelopes always
// travel as bitstring frames, everything else does too when binarize
// was negotiated; the rest goes as ciphertext JSON.
func (c *ClientConnection) Send(m *message.Message) error {
	c.mu.RLock()
	record := c.client
	key := c.cryptoKey
	cipherAlg := c.cipher
	encoding := c.encoding
	binarize := c.binarize
	c.mu.RUnlock()

	if m.Type == message.TypeBus {
		payloadType := m.PayloadType()
		for _, blocked := range record.MessageBlacklist {
			if blocked == payloadType {
				logrus.WithFields(logrus.Fields{
					"function": "Send",
					"peer":     c.Peer(),
					"type":     payloadType,
				}).Debug("message type blacklisted for client, dropping")
				return nil
			}
		}
	}

	encrypt := key != nil && m.Type != message.TypeHello && m.Type != message.TypeHandshake

	if m.Type == message.TypeBinary || binarize {
		frame, err := message.EncodeBitstring(m)
		if err != nil {
			return err
		}
		if encrypt {
			if frame, err = crypto.EncryptBinary(key, frame, cipherAlg); err != nil {
				return err
			}
		}
		return c.conn.SendBinary(frame)
	}

	frame, err := m.Serialize()
	if err != nil {
		return err
	}
	if encrypt {
		if frame, err = crypto.EncryptJSON(key, frame, cipherAlg, encoding); err != nil {
			return err
		}
	}
	return c.conn.SendText(frame)
}

// DecodeText parses an inbound text frame: a ciphertext JSON envelope
// when a key is active, or a clear HiveMessage. When crypto is required
// only HELLO and HANDSHAKE are legal in the clear; every other type is
// rejected until it arrives encrypted, key or no key yet.
func (c *ClientConnection) DecodeText(frame []byte) (*message.Message, error) {
	c.mu.RLock()
	key := c.cryptoKey
	cipherAlg := c.cipher
	encoding := c.encoding
	requireCrypto := c.requireCrypto
	c.mu.RUnlock()

	if key != nil && crypto.IsEncryptedJSON(frame) {
		plaintext, err := crypto.DecryptJSON(key, frame, cipherAlg, encoding)
		if err != nil {
			return nil, err
		}
		return message.Deserialize(plaintext)
	}

	m, err := message.Deserialize(frame)
	if err != nil {
		return nil, err
	}
	if requireCrypto &&
		m.Type != message.TypeHello && m.Type != message.TypeHandshake {
		return nil, ErrEncryptedFrameExpected
	}
	return m, nil
}

// DecodeBinary parses an inbound binary frame: an encrypted bitstring
// when a key is active, a clear bitstring otherwise.
func (c *ClientConnection) DecodeBinary(frame []byte) (*message.Message, error) {
	c.mu.RLock()
	key := c.cryptoKey
	cipherAlg := c.cipher
	c.mu.RUnlock()

	if key != nil {
		plaintext, err := crypto.DecryptBinary(key, frame, cipherAlg)
		if err != nil {
			return nil, err
		}
		return message.DecodeBitstring(plaintext)
	}
	return message.DecodeBitstring(frame)
}

// Close tears the underlying transport connection down.
func (c *ClientConnection) Close() error {
	return c.conn.Close()
}

func (c *ClientConnection) setSession(sessionID, siteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sessionID != "" {
		c.sessionID = sessionID
	}
	if siteID != "" {
		c.siteID = siteID
	}
}

func (c *ClientConnection) setPeerPublicKey(pub string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerPublicKey = pub
}

func (c *ClientConnection) setNegotiated(cipherAlg crypto.Cipher, encoding crypto.Encoding, binarize bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cipher = cipherAlg
	c.encoding = encoding
	c.binarize = binarize
}
