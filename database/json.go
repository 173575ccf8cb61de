package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

func init() {
	RegisterBackend("json", func(config map[string]interface{}) (Store, error) {
		path := stringOption(config, "path", defaultJSONPath())
		return openJSONStore(path)
	})
}

func defaultJSONPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cache", "hivemind", "clients.json")
}

// jsonStore keeps all records in memory and persists them to a single
// JSON file. Writes go through a temp file and rename so a crash never
// leaves a half-written database, and Sync compares the file mtime so
// edits made by admin tooling while the listener runs are picked up.
type jsonStore struct {
	path    string
	records map[int]*Client
	loaded  time.Time
}

func openJSONStore(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	s := &jsonStore{path: path, records: map[int]*Client{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *jsonStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.records = map[int]*Client{}
		s.loaded = time.Now()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read client database: %w", err)
	}

	var clients []*Client
	if len(data) > 0 {
		if err := json.Unmarshal(data, &clients); err != nil {
			return fmt.Errorf("failed to parse client database %s: %w", s.path, err)
		}
	}
	s.records = make(map[int]*Client, len(clients))
	for _, c := range clients {
		s.records[c.ClientID] = c
	}
	if info, err := os.Stat(s.path); err == nil {
		s.loaded = info.ModTime()
	}
	return nil
}

func (s *jsonStore) Put(c *Client) error {
	s.records[c.ClientID] = c
	return nil
}

func (s *jsonStore) List() ([]*Client, error) {
	out := make([]*Client, 0, len(s.records))
	for _, c := range s.records {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (s *jsonStore) Sync() error {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.ModTime().After(s.loaded) {
		return nil
	}
	logrus.WithFields(logrus.Fields{
		"function": "Sync",
		"path":     s.path,
	}).Debug("client database changed on disk, reloading")
	return s.load()
}

func (s *jsonStore) Commit() error {
	clients, _ := s.List()
	data, err := json.MarshalIndent(clients, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize client database: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".clients-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp database file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write client database: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace client database: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.loaded = info.ModTime()
	}
	return nil
}

func (s *jsonStore) Close() error {
	return s.Commit()
}
