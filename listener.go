package hivemind

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hivemind/bus"
	"github.com/opd-ai/hivemind/crypto"
	"github.com/opd-ai/hivemind/database"
	"github.com/opd-ai/hivemind/handshake"
	"github.com/opd-ai/hivemind/message"
	"github.com/opd-ai/hivemind/transport"
)

// ErrInvalidAccessKey indicates a connection presented an access key no
// live client record matches.
var ErrInvalidAccessKey = errors.New("invalid access key")

// ErrProtocolRequirement indicates a connection that cannot satisfy the
// server's crypto requirements: no pre-shared key with the handshake
// disabled, or no cipher/encoding intersection.
var ErrProtocolRequirement = errors.New("protocol error")

// Listener is the broker core: it authenticates connections against the
// client record store, runs the per-connection protocol state machine,
// and relays envelopes between clients and the agent bus.
type Listener struct {
	opts     *Options
	identity *handshake.Asymmetric
	db       *database.ClientDB
	bus      bus.Bus
	agent    *AgentProtocol
	binary   BinaryDataHandler

	// Callbacks observe lifecycle and policy events; set before serving.
	Callbacks ClientCallbacks

	peersMu sync.RWMutex
	peers   map[string]*ClientConnection
	// peerKeys remembers the table key each connection registered under
	// so a session change re-keys instead of leaking the old entry.
	peerKeys map[*ClientConnection]string
}

// NewListener wires a listener from its collaborators. The binary
// handler defaults to log-and-discard; replace it with SetBinaryHandler
// before serving.
func NewListener(opts *Options, db *database.ClientDB, agentBus bus.Bus) (*Listener, error) {
	identity, err := LoadOrCreateIdentity(opts.IdentityPath)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		opts:     opts,
		identity: identity,
		db:       db,
		bus:      agentBus,
		binary:   DiscardBinaryHandler{},
		peers:    map[string]*ClientConnection{},
		peerKeys: map[*ClientConnection]string{},
	}
	l.agent = newAgentProtocol(agentBus, l.connectedPeers, l.lookupPeer)
	l.agent.attach()
	return l, nil
}

// SetBinaryHandler replaces the binary payload dispatcher.
func (l *Listener) SetBinaryHandler(h BinaryDataHandler) {
	if h != nil {
		l.binary = h
	}
}

// PublicKeyHex returns the node's announced public key.
func (l *Listener) PublicKeyHex() string {
	return l.identity.PublicKeyHex()
}

// PeerID is the listener's own source address in route metadata and
// upstream emissions.
func (l *Listener) PeerID() string {
	return fmt.Sprintf("master:%s:%d", l.opts.Host, l.opts.Port)
}

// NodeID identifies this node to connecting peers.
func (l *Listener) NodeID() string {
	return fmt.Sprintf("%s@%s:%d", l.identity.PublicKeyHex(), l.opts.Host, l.opts.Port)
}

// AcceptConnection authenticates an incoming connection, greets it with
// HELLO and a handshake request, and returns its frame handler. It
// implements transport.Acceptor.
func (l *Listener) AcceptConnection(conn transport.Conn, auth transport.AuthRequest) (transport.FrameHandler, error) {
	if err := l.db.Sync(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AcceptConnection",
			"error":    err.Error(),
		}).Error("client database sync failed")
	}

	record, ok := l.db.GetClientByAPIKey(auth.AccessKey)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":   "AcceptConnection",
			"user_agent": auth.UserAgent,
			"remote":     auth.RemoteAddr,
		}).Warn("rejecting connection with invalid access key")
		l.agent.EmitConnectionError("invalid access key", auth.UserAgent)
		cb := l.Callbacks.OnInvalidKey
		invoke("OnInvalidKey", func() {
			if cb != nil {
				cb(auth.UserAgent, auth.RemoteAddr)
			}
		})
		return nil, ErrInvalidAccessKey
	}

	if record.CryptoKey == "" && record.Password == "" &&
		l.opts.RequireCrypto && !l.opts.HandshakeEnabled {
		l.agent.EmitConnectionError("protocol error", auth.UserAgent)
		return nil, ErrProtocolRequirement
	}

	asym, err := handshake.FromPrivateKey(l.identity.PrivateKey())
	if err != nil {
		return nil, err
	}

	cc := &ClientConnection{
		conn:          conn,
		client:        record,
		userAgent:     auth.UserAgent,
		sessionID:     bus.DefaultSessionID,
		asymmetric:    asym,
		cipher:        crypto.CipherAESGCM,
		encoding:      crypto.EncodingB64,
		requireCrypto: l.opts.RequireCrypto,
	}
	if record.Password != "" {
		if cc.password, err = handshake.NewPassword(record.Password, handshake.Responder); err != nil {
			return nil, err
		}
	}
	if record.CryptoKey != "" {
		cc.SetSessionKey([]byte(record.CryptoKey))
		l.registerPeer(cc)
	}

	if err := l.greet(cc); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":  "AcceptConnection",
		"peer":      cc.Peer(),
		"client_id": record.ClientID,
	}).Info("client connected")
	l.agent.EmitConnect(record.APIKey, cc.SessionID())
	cb := l.Callbacks.OnConnect
	invoke("OnConnect", func() {
		if cb != nil {
			cb(cc)
		}
	})
	return &clientFrames{listener: l, cc: cc}, nil
}

// greet sends HELLO followed by the handshake request.
func (l *Listener) greet(cc *ClientConnection) error {
	record := cc.Client()
	hello, err := message.New(message.TypeHello, map[string]interface{}{
		"pubkey":     l.identity.PublicKeyHex(),
		"peer":       cc.Peer(),
		"node_id":    l.NodeID(),
		"session_id": cc.SessionID(),
	})
	if err != nil {
		return err
	}
	if err := cc.Send(hello); err != nil {
		return err
	}

	minVersion := 0
	if record.CryptoKey == "" && l.opts.RequireCrypto {
		minVersion = 1
	}
	request, err := message.New(message.TypeHandshake, map[string]interface{}{
		"handshake":            l.opts.HandshakeEnabled,
		"min_protocol_version": minVersion,
		"max_protocol_version": maxProtocolVersion,
		"binarize":             l.opts.Binarize,
		"preshared_key":        record.CryptoKey != "",
		"password":             record.Password != "",
		"crypto_required":      l.opts.RequireCrypto,
		"encodings":            encodingNames(l.opts.AllowedEncodings),
		"ciphers":              cipherNames(l.opts.AllowedCiphers),
	})
	if err != nil {
		return err
	}
	return cc.Send(request)
}

// clientFrames adapts one connection to the transport's frame handler.
type clientFrames struct {
	listener *Listener
	cc       *ClientConnection
}

func (f *clientFrames) HandleText(data []byte) {
	m, err := f.cc.DecodeText(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "HandleText",
			"peer":     f.cc.Peer(),
			"error":    err.Error(),
		}).Warn("dropping undecodable text frame")
		return
	}
	f.listener.HandleMessage(f.cc, m)
}

func (f *clientFrames) HandleBinary(data []byte) {
	m, err := f.cc.DecodeBinary(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "HandleBinary",
			"peer":     f.cc.Peer(),
			"error":    err.Error(),
		}).Warn("dropping undecodable binary frame")
		return
	}
	f.listener.HandleMessage(f.cc, m)
}

func (f *clientFrames) HandleDisconnect(err error) {
	f.listener.disconnect(f.cc, err)
}

// HandleMessage dispatches one decoded envelope for a connection.
// Frames from one connection arrive here strictly in order.
func (l *Listener) HandleMessage(cc *ClientConnection, m *message.Message) {
	defer l.refreshLastSeen(cc)

	switch m.Type {
	case message.TypeHello:
		l.handleHello(cc, m)
	case message.TypeHandshake:
		l.handleHandshake(cc, m)
	case message.TypeBus:
		l.handleBus(cc, m)
	case message.TypeSharedBus:
		l.handleSharedBus(cc, m)
	case message.TypeBroadcast:
		l.handleBroadcast(cc, m)
	case message.TypePropagate:
		l.handlePropagate(cc, m)
	case message.TypeEscalate:
		l.handleEscalate(cc, m)
	case message.TypeIntercom:
		l.handleIntercom(cc, m)
	case message.TypeBinary:
		l.handleBinary(cc, m)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "HandleMessage",
			"peer":     cc.Peer(),
			"type":     string(m.Type),
		}).Debug("undispatched message type")
		cb := l.Callbacks.OnUnknownMessage
		invoke("OnUnknownMessage", func() {
			if cb != nil {
				cb(cc, m)
			}
		})
	}
}

// handleHello accepts the peer's announced session, site and public key.
func (l *Listener) handleHello(cc *ClientConnection, m *message.Message) {
	payload, err := m.PayloadMap()
	if err != nil {
		return
	}
	if pub := stringField(payload, "pubkey"); pub != "" {
		cc.setPeerPublicKey(pub)
	}
	sessionID := stringField(payload, "session_id")
	if sessionID == bus.DefaultSessionID {
		sessionID = ""
	}
	cc.setSession(sessionID, stringField(payload, "site_id"))
	if sessionID != "" {
		l.registerPeer(cc)
	}
}

// handleHandshake completes key agreement. A pubkey payload runs the
// asymmetric exchange, an envelope payload the password exchange. A
// handshake on an authenticated connection rotates the session key.
func (l *Listener) handleHandshake(cc *ClientConnection, m *message.Message) {
	payload, err := m.PayloadMap()
	if err != nil {
		l.protocolViolation(cc, "malformed handshake payload")
		return
	}

	if sessionID := stringField(payload, "session_id"); sessionID != "" && sessionID != bus.DefaultSessionID {
		cc.setSession(sessionID, stringField(payload, "site_id"))
	}

	switch {
	case stringField(payload, "pubkey") != "":
		l.asymmetricHandshake(cc, stringField(payload, "pubkey"))
	case stringField(payload, "envelope") != "" && cc.password != nil:
		l.passwordHandshake(cc, payload)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleHandshake",
			"peer":     cc.Peer(),
		}).Warn("handshake carried neither pubkey nor envelope, closing")
		cc.Close()
	}
}

func (l *Listener) asymmetricHandshake(cc *ClientConnection, peerPubkey string) {
	envelope, err := cc.asymmetric.GenerateHandshake(peerPubkey)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "asymmetricHandshake",
			"peer":     cc.Peer(),
			"error":    err.Error(),
		}).Warn("asymmetric handshake failed, closing")
		cc.Close()
		return
	}
	secret, err := cc.asymmetric.Secret()
	if err != nil {
		cc.Close()
		return
	}

	reply, err := message.New(message.TypeHandshake, map[string]interface{}{
		"envelope": envelope,
	})
	if err != nil {
		return
	}
	if err := cc.Send(reply); err != nil {
		return
	}

	cc.setPeerPublicKey(peerPubkey)
	cc.SetSessionKey(secret)
	l.registerPeer(cc)
}

func (l *Listener) passwordHandshake(cc *ClientConnection, payload map[string]interface{}) {
	cipherAlg, encoding, err := l.negotiate(
		stringListField(payload, "ciphers"),
		stringListField(payload, "encodings"))
	if err != nil {
		l.protocolViolation(cc, err.Error())
		return
	}
	binarize := boolField(payload, "binarize") && l.opts.Binarize

	if err := cc.password.ReceiveHandshake(stringField(payload, "envelope")); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "passwordHandshake",
			"peer":     cc.Peer(),
			"error":    err.Error(),
		}).Warn("password handshake failed, closing")
		cc.Close()
		return
	}
	envelope, err := cc.password.GenerateHandshake()
	if err != nil {
		cc.Close()
		return
	}
	secret, err := cc.password.Secret()
	if err != nil {
		cc.Close()
		return
	}

	reply, err := message.New(message.TypeHandshake, map[string]interface{}{
		"envelope": envelope,
		"cipher":   cipherAlg.String(),
		"encoding": encoding.String(),
	})
	if err != nil {
		return
	}
	if err := cc.Send(reply); err != nil {
		return
	}

	// Parameters and key swap in together so the next frame in either
	// direction uses the negotiated set.
	cc.setNegotiated(cipherAlg, encoding, binarize)
	cc.SetSessionKey(secret)
	l.registerPeer(cc)

	logrus.WithFields(logrus.Fields{
		"function": "passwordHandshake",
		"peer":     cc.Peer(),
		"cipher":   cipherAlg.String(),
		"encoding": encoding.String(),
		"binarize": binarize,
	}).Info("password handshake complete")
}

// negotiate intersects peer preference vectors with the server
// allowlists, preserving peer order; the first survivor of each wins.
// Absent vectors fall back to the server defaults.
func (l *Listener) negotiate(peerCiphers, peerEncodings []string) (crypto.Cipher, crypto.Encoding, error) {
	cipherAlg := crypto.CipherAESGCM
	if len(peerCiphers) > 0 {
		chosen, ok := firstCipher(peerCiphers, l.opts.AllowedCiphers)
		if !ok {
			return 0, 0, errors.New("no cipher intersection")
		}
		cipherAlg = chosen
	}

	encoding := crypto.EncodingB64
	if len(peerEncodings) > 0 {
		chosen, ok := firstEncoding(peerEncodings, l.opts.AllowedEncodings)
		if !ok {
			return 0, 0, errors.New("no encoding intersection")
		}
		encoding = chosen
	}
	return cipherAlg, encoding, nil
}

// handleBus injects a client's application message into the agent bus
// after session synchronization and the authorization gate.
func (l *Listener) handleBus(cc *ClientConnection, m *message.Message) {
	inner, err := bus.Parse(m.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleBus",
			"peer":     cc.Peer(),
			"error":    err.Error(),
		}).Warn("bus envelope carried no parseable message")
		return
	}

	// A connection still on the default session adopts the client's
	// announced session, or a random one when the client never sent any.
	sess := inner.Session()
	if cc.SessionID() == bus.DefaultSessionID {
		assigned := sess.SessionID
		if assigned == bus.DefaultSessionID {
			assigned = uuid.NewString()
		}
		cc.setSession(assigned, sess.SiteID)
		l.registerPeer(cc)
	}
	if sess.SessionID == bus.DefaultSessionID {
		sess.SessionID = cc.SessionID()
	} else if sess.SessionID != cc.SessionID() {
		cc.setSession(sess.SessionID, sess.SiteID)
		l.registerPeer(cc)
	}
	if sess.SiteID == "" {
		sess.SiteID = cc.SiteID()
	}

	l.refreshRecord(cc)
	if !cc.Authorize(m) {
		logrus.WithFields(logrus.Fields{
			"function": "handleBus",
			"peer":     cc.Peer(),
			"type":     m.PayloadType(),
		}).Warn("client not authorized to inject message type")
		return
	}

	if inner.Type == "speak" {
		inner.Context["destination"] = []string{"audio"}
	} else if _, ok := inner.Context["destination"]; !ok {
		inner.Context["destination"] = "skills"
	}

	record := cc.Client()
	sess.MergeSkillBlacklist(record.SkillBlacklist)
	sess.MergeIntentBlacklist(record.IntentBlacklist)
	inner.SetSession(sess)

	peer := cc.Peer()
	inner.Context["peer"] = peer
	inner.Context["source"] = peer

	l.bus.Emit(inner)
}

// handleSharedBus observes mirrored remote bus traffic; it is never
// forwarded anywhere.
func (l *Listener) handleSharedBus(cc *ClientConnection, m *message.Message) {
	cb := l.Callbacks.OnSharedBus
	invoke("OnSharedBus", func() {
		if cb != nil {
			cb(cc, m)
		}
	})
}

func (l *Listener) handleBroadcast(cc *ClientConnection, m *message.Message) {
	if !cc.Client().IsAdmin {
		l.illegal(cc, m, "broadcast requires an admin client")
		return
	}
	inner, ok := l.unpack(cc, m)
	if !ok {
		return
	}
	if inner.Type == message.TypeIntercom && l.handleIntercom(cc, inner) {
		return
	}
	l.fanOut(cc, inner)
	l.deliverLocalSite(cc, inner)
}

// handlePropagate floods the mesh: the propagate envelope itself keeps
// travelling downstream so receiving nodes can continue the flood, and
// the unpacked payload goes upstream through the agent bus.
func (l *Listener) handlePropagate(cc *ClientConnection, m *message.Message) {
	if !cc.Client().CanPropagate {
		l.illegal(cc, m, "client may not propagate")
		return
	}
	inner, err := m.PayloadEnvelope()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handlePropagate",
			"peer":     cc.Peer(),
			"error":    err.Error(),
		}).Warn("propagate envelope carried no nested message")
		return
	}
	if m.RouteContains(l.PeerID()) {
		logrus.WithFields(logrus.Fields{
			"function": "handlePropagate",
			"peer":     cc.Peer(),
		}).Debug("route already contains this node, dropping")
		return
	}
	if inner.Type == message.TypeIntercom && l.handleIntercom(cc, inner) {
		return
	}
	m.UpdateSourcePeer(l.PeerID())
	m.RemoveTargetPeer(cc.Peer())
	l.fanOut(cc, m)

	inner.ReplaceRoute(m.Route)
	inner.UpdateSourcePeer(l.PeerID())
	l.agent.EmitUpstream(inner)
	l.deliverLocalSite(cc, inner)
}

func (l *Listener) handleEscalate(cc *ClientConnection, m *message.Message) {
	if !cc.Client().CanEscalate {
		l.illegal(cc, m, "client may not escalate")
		return
	}
	inner, ok := l.unpack(cc, m)
	if !ok {
		return
	}
	if inner.Type == message.TypeIntercom && l.handleIntercom(cc, inner) {
		return
	}
	l.agent.EmitUpstream(inner)
	l.deliverLocalSite(cc, inner)
}

// handleIntercom processes an opaque envelope addressed to a node public
// key. It reports false when the envelope targets a different node or
// does not open under this node's key, so callers can keep relaying it.
func (l *Listener) handleIntercom(cc *ClientConnection, m *message.Message) bool {
	if m.TargetPublicKey != "" && m.TargetPublicKey != l.identity.PublicKeyHex() {
		return false
	}

	recovered, err := l.openIntercom(m)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleIntercom",
			"peer":     cc.Peer(),
			"error":    err.Error(),
		}).Warn("failed to open intercom envelope")
		return false
	}

	switch recovered.Type {
	case message.TypeBus, message.TypeSharedBus, message.TypeBroadcast,
		message.TypePropagate, message.TypeEscalate, message.TypeBinary:
		l.HandleMessage(cc, recovered)
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"function": "handleIntercom",
			"peer":     cc.Peer(),
			"type":     string(recovered.Type),
		}).Warn("intercom recovered an undispatchable envelope")
		return false
	}
}

// handleBinary routes a type-tagged raw payload to the binary handler.
func (l *Listener) handleBinary(cc *ClientConnection, m *message.Message) {
	data := m.Binary
	switch m.BinaryType {
	case message.BinaryRawAudio:
		l.binary.Microphone(data,
			m.MetadataInt("sample_rate", 16000),
			m.MetadataInt("sample_width", 2), cc)
	case message.BinarySTTTranscribe:
		l.binary.STTTranscribe(data,
			m.MetadataInt("sample_rate", 16000),
			m.MetadataInt("sample_width", 2),
			m.MetadataString("lang", "en-us"), cc)
	case message.BinarySTTHandle:
		l.binary.STTHandle(data,
			m.MetadataInt("sample_rate", 16000),
			m.MetadataInt("sample_width", 2),
			m.MetadataString("lang", "en-us"), cc)
	case message.BinaryTTSAudio:
		l.binary.ReceiveTTS(data,
			m.MetadataString("utterance", ""),
			m.MetadataString("lang", "en-us"),
			m.MetadataString("file_name", ""), cc)
	case message.BinaryFile:
		l.binary.ReceiveFile(data, m.MetadataString("file_name", ""), cc)
	case message.BinaryNumpyImage:
		l.binary.Image(data, m.MetadataString("camera_id", ""), cc)
	default:
		logrus.WithFields(logrus.Fields{
			"function":    "handleBinary",
			"peer":        cc.Peer(),
			"binary_type": string(m.BinaryType),
		}).Warn("unknown binary type, payload dropped")
	}
}

// unpack extracts the nested envelope of a fan-out primitive, inherits
// the outer route, stamps this node as the source, and applies the loop
// guard: an envelope whose route already names this node is not
// re-fanned.
func (l *Listener) unpack(cc *ClientConnection, m *message.Message) (*message.Message, bool) {
	inner, err := m.PayloadEnvelope()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "unpack",
			"peer":     cc.Peer(),
			"error":    err.Error(),
		}).Warn("fan-out envelope carried no nested message")
		return nil, false
	}
	inner.ReplaceRoute(m.Route)
	if inner.RouteContains(l.PeerID()) {
		logrus.WithFields(logrus.Fields{
			"function": "unpack",
			"peer":     cc.Peer(),
		}).Debug("route already contains this node, dropping")
		return nil, false
	}
	inner.UpdateSourcePeer(l.PeerID())
	inner.RemoveTargetPeer(cc.Peer())
	return inner, true
}

// fanOut delivers an envelope to every registered peer except the
// originator, recording the recipients as a route hop first.
func (l *Listener) fanOut(origin *ClientConnection, inner *message.Message) {
	targets := l.connectedPeersExcept(origin)
	if len(targets) == 0 {
		return
	}

	inner.TargetPeers = nil
	for _, target := range targets {
		inner.AddTargetPeer(target.Peer())
	}
	inner.UpdateHopData()

	for _, target := range targets {
		if err := target.Send(inner); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "fanOut",
				"peer":     target.Peer(),
				"error":    err.Error(),
			}).Warn("fan-out delivery failed")
		}
	}
}

// deliverLocalSite dispatches a fanned envelope locally when it targets
// this node's own site and carries a bus payload.
func (l *Listener) deliverLocalSite(cc *ClientConnection, inner *message.Message) {
	if inner.TargetSiteID == "" || inner.TargetSiteID != l.opts.SiteID {
		return
	}
	if inner.Type == message.TypeBus {
		l.handleBus(cc, inner)
	}
}

func (l *Listener) illegal(cc *ClientConnection, m *message.Message, reason string) {
	logrus.WithFields(logrus.Fields{
		"function": "illegal",
		"peer":     cc.Peer(),
		"type":     string(m.Type),
		"reason":   reason,
	}).Warn("dropping illegal fan-out attempt")
	cb := l.Callbacks.OnIllegalMessage
	invoke("OnIllegalMessage", func() {
		if cb != nil {
			cb(cc, m)
		}
	})
}

func (l *Listener) protocolViolation(cc *ClientConnection, reason string) {
	logrus.WithFields(logrus.Fields{
		"function": "protocolViolation",
		"peer":     cc.Peer(),
		"reason":   reason,
	}).Warn("closing connection on protocol violation")
	l.agent.EmitConnectionError("protocol error", cc.Peer())
	cb := l.Callbacks.OnInvalidProtocol
	invoke("OnInvalidProtocol", func() {
		if cb != nil {
			cb(cc, reason)
		}
	})
	cc.Close()
}

// refreshRecord re-reads the client record from the store so admin
// edits to permissions and blacklists apply without a reconnect.
func (l *Listener) refreshRecord(cc *ClientConnection) {
	if err := l.db.Sync(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "refreshRecord",
			"peer":     cc.Peer(),
			"error":    err.Error(),
		}).Error("client database sync failed")
	}
	record, ok := l.db.GetClientByAPIKey(cc.Client().APIKey)
	if !ok {
		return
	}
	cc.setRecord(record)
}

func (l *Listener) refreshLastSeen(cc *ClientConnection) {
	record := cc.Client()
	record.Touch()
	if err := l.db.UpdateClient(record); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "refreshLastSeen",
			"peer":     cc.Peer(),
			"error":    err.Error(),
		}).Debug("failed to persist last seen")
	}
}

// registerPeer inserts the connection into the peer table under its
// current peer id, replacing any entry from a previous session id.
func (l *Listener) registerPeer(cc *ClientConnection) {
	peer := cc.Peer()
	l.peersMu.Lock()
	defer l.peersMu.Unlock()
	if old, ok := l.peerKeys[cc]; ok && old != peer {
		delete(l.peers, old)
	}
	l.peers[peer] = cc
	l.peerKeys[cc] = peer
}

func (l *Listener) unregisterPeer(cc *ClientConnection) {
	l.peersMu.Lock()
	defer l.peersMu.Unlock()
	if key, ok := l.peerKeys[cc]; ok {
		delete(l.peers, key)
		delete(l.peerKeys, cc)
	}
}

func (l *Listener) lookupPeer(peer string) (*ClientConnection, bool) {
	l.peersMu.RLock()
	defer l.peersMu.RUnlock()
	cc, ok := l.peers[peer]
	return cc, ok
}

func (l *Listener) connectedPeers() []*ClientConnection {
	l.peersMu.RLock()
	defer l.peersMu.RUnlock()
	out := make([]*ClientConnection, 0, len(l.peers))
	for _, cc := range l.peers {
		out = append(out, cc)
	}
	return out
}

func (l *Listener) connectedPeersExcept(origin *ClientConnection) []*ClientConnection {
	l.peersMu.RLock()
	defer l.peersMu.RUnlock()
	out := make([]*ClientConnection, 0, len(l.peers))
	for _, cc := range l.peers {
		if cc != origin {
			out = append(out, cc)
		}
	}
	return out
}

// disconnect tears a connection down once and announces it.
func (l *Listener) disconnect(cc *ClientConnection, err error) {
	l.unregisterPeer(cc)
	cc.Close()

	fields := logrus.Fields{
		"function": "disconnect",
		"peer":     cc.Peer(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Info("client disconnected")

	l.agent.EmitDisconnect(cc.Client().APIKey)
	cb := l.Callbacks.OnDisconnect
	invoke("OnDisconnect", func() {
		if cb != nil {
			cb(cc)
		}
	})
}

func encodingNames(encodings []crypto.Encoding) []string {
	out := make([]string, 0, len(encodings))
	for _, e := range encodings {
		out = append(out, e.String())
	}
	return out
}

func cipherNames(ciphers []crypto.Cipher) []string {
	out := make([]string, 0, len(ciphers))
	for _, c := range ciphers {
		out = append(out, c.String())
	}
	return out
}

// firstCipher returns the first peer-preferred cipher the server allows.
func firstCipher(peer []string, allowed []crypto.Cipher) (crypto.Cipher, bool) {
	for _, name := range peer {
		c, err := crypto.ParseCipher(name)
		if err != nil {
			continue
		}
		for _, a := range allowed {
			if a == c {
				return c, true
			}
		}
	}
	return 0, false
}

// firstEncoding returns the first peer-preferred encoding the server
// allows.
func firstEncoding(peer []string, allowed []crypto.Encoding) (crypto.Encoding, bool) {
	for _, name := range peer {
		e, err := crypto.ParseEncoding(name)
		if err != nil {
			continue
		}
		for _, a := range allowed {
			if a == e {
				return e, true
			}
		}
	}
	return 0, false
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolField(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

func stringListField(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
