package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 10 * time.Second

// WebsocketServer serves the listener protocol over websockets. Clients
// connect to ws(s)://host:port/ with their credentials in the
// authorization query parameter.
type WebsocketServer struct {
	addr     string
	acceptor Acceptor
	tlsConf  *tls.Config

	upgrader websocket.Upgrader
}

// NewWebsocketServer builds a plaintext websocket server.
func NewWebsocketServer(addr string, acceptor Acceptor) *WebsocketServer {
	return &WebsocketServer{
		addr:     addr,
		acceptor: acceptor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Nodes connect from anywhere on the mesh, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// NewSecureWebsocketServer builds a wss server from certificate files,
// generating a self-signed pair when none exists.
func NewSecureWebsocketServer(addr string, acceptor Acceptor, certPath, keyPath string) (*WebsocketServer, error) {
	if err := EnsureCertificate(certPath, keyPath); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate pair: %w", err)
	}
	s := NewWebsocketServer(addr, acceptor)
	s.tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}}
	return s, nil
}

// ListenAndServe runs the server until the context is cancelled.
func (s *WebsocketServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:      s.addr,
		Handler:   http.HandlerFunc(s.handle),
		TLSConfig: s.tlsConf,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.tlsConf != nil {
			errCh <- srv.ListenAndServeTLS("", "")
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "ListenAndServe",
		"addr":     s.addr,
		"secure":   s.tlsConf != nil,
	}).Info("listener accepting connections")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *WebsocketServer) handle(w http.ResponseWriter, r *http.Request) {
	auth, err := DecodeAuth(r)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handle",
			"remote":   r.RemoteAddr,
		}).Warn("rejecting connection with malformed authorization")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handle",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Warn("websocket upgrade failed")
		return
	}

	conn := &wsConn{ws: ws}
	handler, err := s.acceptor.AcceptConnection(conn, auth)
	if err != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	go conn.readLoop(handler)
}

// wsConn adapts a gorilla connection to Conn. Gorilla permits one
// concurrent writer, so sends serialize on a mutex.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  sync.Once
}

func (c *wsConn) SendText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

func (c *wsConn) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closed.Do(func() { err = c.ws.Close() })
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

func (c *wsConn) readLoop(handler FrameHandler) {
	defer c.Close()
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			handler.HandleDisconnect(err)
			return
		}
		switch messageType {
		case websocket.TextMessage:
			handler.HandleText(data)
		case websocket.BinaryMessage:
			handler.HandleBinary(data)
		}
	}
}
