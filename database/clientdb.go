package database

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ClientDB is the client record store the listener consults. It wraps a
// backend Store with api-key and name lookup, monotonic id allocation,
// field-merge upserts and tombstoning. All operations serialize on an
// internal mutex; the backend only sees one call at a time.
type ClientDB struct {
	mu    sync.Mutex
	store Store
}

// New wraps an already-open backend store.
func New(store Store) *ClientDB {
	return &ClientDB{store: store}
}

// Open builds the named backend from the registry and wraps it.
func Open(backend string, config map[string]interface{}) (*ClientDB, error) {
	store, err := OpenStore(backend, config)
	if err != nil {
		return nil, err
	}
	return &ClientDB{store: store}, nil
}

// Sync reloads the backend so out-of-band admin edits apply without a
// restart. Called before every credential lookup, so backends keep it
// cheap.
func (db *ClientDB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.store.Sync()
}

// AddClient upserts a record. If a record with the same api key exists
// its fields are merged in place; otherwise a new client id one greater
// than the current maximum (tombstones included) is allocated. Returns
// true when a new record was created.
func (db *ClientDB) AddClient(c *Client) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	c.EnsureUtteranceAllowed()
	c.SetCryptoKey(c.CryptoKey)

	records, err := db.store.List()
	if err != nil {
		return false, err
	}

	if existing := findByAPIKey(records, c.APIKey); existing != nil {
		mergeClient(existing, c)
		if err := db.store.Put(existing); err != nil {
			return false, err
		}
		return false, db.store.Commit()
	}

	maxID := 0
	for _, r := range records {
		if r.ClientID > maxID {
			maxID = r.ClientID
		}
	}
	c.ClientID = maxID + 1
	if c.LastSeen == 0 {
		c.LastSeen = -1
	}

	logrus.WithFields(logrus.Fields{
		"function":  "AddClient",
		"client_id": c.ClientID,
		"name":      c.Name,
	}).Info("created client record")

	if err := db.store.Put(c.clone()); err != nil {
		return false, err
	}
	return true, db.store.Commit()
}

// GetClientByAPIKey returns the record for an api key, or false when no
// live record matches.
func (db *ClientDB) GetClientByAPIKey(apiKey string) (*Client, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	records, err := db.store.List()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "GetClientByAPIKey",
			"error":    err.Error(),
		}).Error("store list failed")
		return nil, false
	}
	if c := findByAPIKey(records, apiKey); c != nil {
		return c.clone(), true
	}
	return nil, false
}

// GetClientsByName returns every record with the given name.
func (db *ClientDB) GetClientsByName(name string) []*Client {
	db.mu.Lock()
	defer db.mu.Unlock()

	records, err := db.store.List()
	if err != nil {
		return nil
	}
	var out []*Client
	for _, r := range records {
		if r.Name == name {
			out = append(out, r.clone())
		}
	}
	return out
}

// UpdateClient writes back all fields of a record.
func (db *ClientDB) UpdateClient(c *Client) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c.ClientID < 1 {
		return fmt.Errorf("cannot update client without id: %q", c.Name)
	}
	if err := db.store.Put(c.clone()); err != nil {
		return err
	}
	return db.store.Commit()
}

// DeleteClient tombstones the record for an api key: the client id and
// name are preserved, credentials and permissions are cleared, and the
// api key becomes the revoked sentinel. Returns false when no live
// record matched.
func (db *ClientDB) DeleteClient(apiKey string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	records, err := db.store.List()
	if err != nil {
		return false
	}
	c := findByAPIKey(records, apiKey)
	if c == nil {
		return false
	}

	tombstone := &Client{
		ClientID: c.ClientID,
		APIKey:   RevokedKey,
		Name:     c.Name,
		LastSeen: c.LastSeen,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "DeleteClient",
		"client_id": c.ClientID,
		"name":      c.Name,
	}).Info("tombstoned client record")

	if err := db.store.Put(tombstone); err != nil {
		return false
	}
	return db.store.Commit() == nil
}

// List returns all records, live and tombstoned, in insertion order.
func (db *ClientDB) List() []*Client {
	db.mu.Lock()
	defer db.mu.Unlock()

	records, err := db.store.List()
	if err != nil {
		return nil
	}
	out := make([]*Client, 0, len(records))
	for _, r := range records {
		out = append(out, r.clone())
	}
	return out
}

// TotalClients counts all records including tombstones.
func (db *ClientDB) TotalClients() int {
	return len(db.List())
}

// Close releases the backend store.
func (db *ClientDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.store.Close()
}

func findByAPIKey(records []*Client, apiKey string) *Client {
	if apiKey == "" || apiKey == RevokedKey {
		return nil
	}
	for _, r := range records {
		if r.APIKey == apiKey {
			return r
		}
	}
	return nil
}

// mergeClient overlays the non-zero fields of src onto dst, the upsert
// semantics of record re-registration.
func mergeClient(dst, src *Client) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Description != "" {
		dst.Description = src.Description
	}
	if src.CryptoKey != "" {
		dst.CryptoKey = src.CryptoKey
	}
	if src.Password != "" {
		dst.Password = src.Password
	}
	if len(src.AllowedTypes) > 0 {
		dst.AllowedTypes = src.AllowedTypes
	}
	if len(src.MessageBlacklist) > 0 {
		dst.MessageBlacklist = src.MessageBlacklist
	}
	if len(src.SkillBlacklist) > 0 {
		dst.SkillBlacklist = src.SkillBlacklist
	}
	if len(src.IntentBlacklist) > 0 {
		dst.IntentBlacklist = src.IntentBlacklist
	}
	dst.IsAdmin = src.IsAdmin
	dst.CanBroadcast = src.CanBroadcast
	dst.CanEscalate = src.CanEscalate
	dst.CanPropagate = src.CanPropagate
	dst.EnsureUtteranceAllowed()
}
