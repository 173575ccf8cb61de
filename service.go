package hivemind

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hivemind/bus"
	"github.com/opd-ai/hivemind/database"
	"github.com/opd-ai/hivemind/transport"
)

// Service assembles a running listener from options: client database,
// agent bus, listener core and network transport.
type Service struct {
	opts     *Options
	db       *database.ClientDB
	bus      bus.Bus
	listener *Listener
	server   transport.NetworkProtocol
}

// NewService wires a service. Close releases its resources.
func NewService(opts *Options) (*Service, error) {
	db, err := database.Open(opts.Database.Module, opts.Database.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to open client database: %w", err)
	}

	agentBus, err := openAgentBus(opts.AgentProtocol)
	if err != nil {
		db.Close()
		return nil, err
	}

	listener, err := NewListener(opts, db, agentBus)
	if err != nil {
		agentBus.Close()
		db.Close()
		return nil, err
	}

	server, err := openNetwork(opts, listener)
	if err != nil {
		agentBus.Close()
		db.Close()
		return nil, err
	}

	return &Service{
		opts:     opts,
		db:       db,
		bus:      agentBus,
		listener: listener,
		server:   server,
	}, nil
}

// Listener exposes the protocol core, for binding callbacks and binary
// handlers before Run.
func (s *Service) Listener() *Listener {
	return s.listener
}

// DB exposes the client record store, for admin tooling.
func (s *Service) DB() *database.ClientDB {
	return s.db
}

// Run serves connections until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"node_id":  s.listener.NodeID(),
		"clients":  s.db.TotalClients(),
	}).Info("hivemind listener starting")
	return s.server.ListenAndServe(ctx)
}

// Close releases the bus and the database.
func (s *Service) Close() error {
	s.bus.Close()
	return s.db.Close()
}

func openAgentBus(opts BackendOptions) (bus.Bus, error) {
	switch opts.Module {
	case "", "local":
		return bus.NewEmitter(), nil
	case "websocket":
		url := "ws://127.0.0.1:8181/core"
		if v, ok := opts.Config["url"].(string); ok && v != "" {
			url = v
		}
		return bus.Connect(url)
	default:
		return nil, fmt.Errorf("unknown agent protocol module %q", opts.Module)
	}
}

func openNetwork(opts *Options, listener *Listener) (transport.NetworkProtocol, error) {
	switch opts.NetworkProtocol.Module {
	case "", "websocket":
		addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
		if !opts.SSL {
			return transport.NewWebsocketServer(addr, listener), nil
		}
		certPath := filepath.Join(opts.CertDir, opts.CertName+".crt")
		keyPath := filepath.Join(opts.CertDir, opts.CertName+".key")
		return transport.NewSecureWebsocketServer(addr, listener, certPath, keyPath)
	default:
		return nil, fmt.Errorf("unknown network protocol module %q", opts.NetworkProtocol.Module)
	}
}
