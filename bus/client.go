package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// writeTimeout bounds a single websocket write so one stuck bus
// connection cannot wedge the listener.
const writeTimeout = 10 * time.Second

// Client bridges to an external agent bus over a websocket connection.
// Messages are JSON text frames; received frames are re-dispatched to
// local handlers by type plus the catch-all, mirroring Emitter.
type Client struct {
	url     string
	conn    *websocket.Conn
	local   *Emitter
	writeMu sync.Mutex
	closed  chan struct{}
	once    sync.Once
}

// Connect dials the agent bus and starts the read loop.
func Connect(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to agent bus at %s: %w", url, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"url":      url,
	}).Info("connected to agent bus")

	c := &Client{
		url:    url,
		conn:   conn,
		local:  NewEmitter(),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// On registers a handler for an event type.
func (c *Client) On(event string, handler Handler) {
	c.local.On(event, handler)
}

// Emit serializes the message and writes it to the bus socket.
func (c *Client) Emit(m *Message) error {
	raw, err := m.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize bus message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to write to agent bus: %w", err)
	}
	return nil
}

// Close shuts the bus connection down and stops the read loop.
func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// readLoop dispatches incoming bus frames to local handlers until the
// connection closes.
func (c *Client) readLoop() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				logrus.WithFields(logrus.Fields{
					"function": "readLoop",
					"url":      c.url,
					"error":    err.Error(),
				}).Warn("agent bus connection lost")
			}
			return
		}

		m, err := Parse(raw)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"error":    err.Error(),
			}).Warn("dropping unparseable bus frame")
			continue
		}
		c.local.Emit(m)
	}
}
