package database

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is the primitive backend contract. Backends persist records by
// client id; all search, id allocation and tombstoning policy lives in
// ClientDB.
type Store interface {
	// Put inserts or replaces the record with the same client id.
	Put(c *Client) error
	// List returns every record, live and tombstoned, ordered by
	// client id ascending (insertion order, since ids are monotonic).
	List() ([]*Client, error)
	// Sync reloads from the backing medium to pick up out-of-band
	// edits. A no-op for backends that always read live data.
	Sync() error
	// Commit flushes pending writes.
	Commit() error
	// Close releases the backend.
	Close() error
}

// Factory builds a Store from its module-specific configuration.
type Factory func(config map[string]interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// RegisterBackend adds a named store backend to the registry. Backends
// register themselves at init time; calling twice for one name panics,
// which surfaces wiring mistakes immediately.
func RegisterBackend(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("database backend %q registered twice", name))
	}
	registry[name] = factory
}

// OpenStore builds the named backend with its configuration.
func OpenStore(name string, config map[string]interface{}) (Store, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database backend %q, valid backends: %s",
			name, strings.Join(backendNames(), ", "))
	}
	return factory(config)
}

func backendNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stringOption reads a string config value with a fallback.
func stringOption(config map[string]interface{}, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// intOption reads an integer config value with a fallback. YAML and JSON
// decoders may deliver numbers as int or float64.
func intOption(config map[string]interface{}, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
