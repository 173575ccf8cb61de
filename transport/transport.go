package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

// ErrMalformedAuth indicates the authorization value was not
// base64("useragent:access_key").
var ErrMalformedAuth = errors.New("malformed authorization value")

// AuthRequest carries the decoded credentials of an incoming connection.
type AuthRequest struct {
	UserAgent  string
	AccessKey  string
	RemoteAddr string
}

// Conn is one accepted client connection. Send methods are safe for
// concurrent use.
type Conn interface {
	// SendText writes a text frame (JSON or ciphertext JSON).
	SendText(data []byte) error
	// SendBinary writes a binary frame (encrypted bitstring).
	SendBinary(data []byte) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
	// RemoteAddr describes the peer for logging.
	RemoteAddr() string
}

// FrameHandler receives the frames and lifecycle events of one
// connection. Calls arrive from a single reader goroutine, in receive
// order, with HandleDisconnect last.
type FrameHandler interface {
	HandleText(data []byte)
	HandleBinary(data []byte)
	HandleDisconnect(err error)
}

// Acceptor decides the fate of incoming connections. Returning an error
// closes the connection; the acceptor emits its own diagnostics before
// rejecting.
type Acceptor interface {
	AcceptConnection(conn Conn, auth AuthRequest) (FrameHandler, error)
}

// NetworkProtocol binds an Acceptor to a listening socket.
type NetworkProtocol interface {
	// ListenAndServe blocks until the context is cancelled or the
	// listener fails.
	ListenAndServe(ctx context.Context) error
}

// DecodeAuth extracts credentials from the "authorization" query
// parameter, falling back to the Authorization header. The value is
// base64("useragent:access_key").
func DecodeAuth(r *http.Request) (AuthRequest, error) {
	value := r.URL.Query().Get("authorization")
	if value == "" {
		value = r.Header.Get("Authorization")
	}
	if value == "" {
		return AuthRequest{}, ErrMalformedAuth
	}

	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return AuthRequest{}, ErrMalformedAuth
	}
	userAgent, accessKey, found := strings.Cut(string(decoded), ":")
	if !found || accessKey == "" {
		return AuthRequest{}, ErrMalformedAuth
	}
	return AuthRequest{
		UserAgent:  userAgent,
		AccessKey:  accessKey,
		RemoteAddr: r.RemoteAddr,
	}, nil
}
