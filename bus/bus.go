package bus

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// CatchAll is the event name that receives every emitted message in
// addition to its typed handlers.
const CatchAll = "message"

// Handler processes a bus message. Handlers for one event run in
// registration order.
type Handler func(*Message)

// Bus is the agent bus the listener emits into and subscribes on.
type Bus interface {
	// Emit publishes a message to its typed handlers and the catch-all.
	Emit(*Message) error
	// On registers a handler for an event type.
	On(event string, handler Handler)
	// Close releases the bus.
	Close() error
}

// Emitter is an in-process Bus. Dispatch is synchronous: Emit returns
// after every matching handler ran, which keeps per-sender ordering
// deterministic.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewEmitter creates an empty in-process bus.
func NewEmitter() *Emitter {
	return &Emitter{handlers: map[string][]Handler{}}
}

// On registers a handler for an event type.
func (e *Emitter) On(event string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Emit dispatches to the typed handlers for the message type, then to
// the catch-all handlers.
func (e *Emitter) Emit(m *Message) error {
	e.mu.RLock()
	typed := append([]Handler{}, e.handlers[m.Type]...)
	all := append([]Handler{}, e.handlers[CatchAll]...)
	e.mu.RUnlock()

	logrus.WithFields(logrus.Fields{
		"function": "Emit",
		"type":     m.Type,
		"handlers": len(typed) + len(all),
	}).Debug("dispatching bus message")

	for _, h := range typed {
		h(m)
	}
	for _, h := range all {
		h(m)
	}
	return nil
}

// Close clears all handlers.
func (e *Emitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = map[string][]Handler{}
	return nil
}
