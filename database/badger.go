package database

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

func init() {
	RegisterBackend("badger", func(config map[string]interface{}) (Store, error) {
		path := stringOption(config, "path", "")
		if path == "" {
			return nil, fmt.Errorf("badger backend requires a path")
		}
		return openBadgerStore(path)
	})
}

// badgerStore persists each record under "client:<id>" in an embedded
// badger database. Badger writes are durable per transaction, so Commit
// and Sync are no-ops.
type badgerStore struct {
	db *badger.DB
}

func openBadgerStore(path string) (Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return &badgerStore{db: db}, nil
}

func badgerKey(clientID int) []byte {
	return []byte(fmt.Sprintf("client:%010d", clientID))
}

func (s *badgerStore) Put(c *Client) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to serialize client record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(c.ClientID), data)
	})
}

func (s *badgerStore) List() ([]*Client, error) {
	var out []*Client
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("client:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var c Client
				if err := json.Unmarshal(val, &c); err != nil {
					return fmt.Errorf("corrupt client record %s: %w", it.Item().Key(), err)
				}
				out = append(out, &c)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *badgerStore) Sync() error {
	return nil
}

func (s *badgerStore) Commit() error {
	return nil
}

func (s *badgerStore) Close() error {
	return s.db.Close()
}
