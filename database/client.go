package database

import (
	"time"
)

// RevokedKey is the api key sentinel a tombstoned record carries.
const RevokedKey = "revoked"

// UtteranceType is the application message type every client is allowed
// to inject.
const UtteranceType = "recognizer_loop:utterance"

// cryptoKeySize is the pre-shared key length stored on a record. Longer
// admin-supplied material is truncated at record creation; everywhere
// else wrong-sized keys are rejected.
const cryptoKeySize = 16

// Client is one persisted client record.
type Client struct {
	ClientID         int      `json:"client_id"`
	APIKey           string   `json:"api_key"`
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	IsAdmin          bool     `json:"is_admin"`
	LastSeen         int64    `json:"last_seen"`
	CryptoKey        string   `json:"crypto_key,omitempty"`
	Password         string   `json:"password,omitempty"`
	AllowedTypes     []string `json:"allowed_types"`
	MessageBlacklist []string `json:"message_blacklist"`
	SkillBlacklist   []string `json:"skill_blacklist"`
	IntentBlacklist  []string `json:"intent_blacklist"`
	CanBroadcast     bool     `json:"can_broadcast"`
	CanEscalate      bool     `json:"can_escalate"`
	CanPropagate     bool     `json:"can_propagate"`
}

// NewClient creates a record with the capability defaults. The allowed
// types always include the utterance type, and a supplied crypto key is
// truncated to 16 bytes the way the original admin tooling behaves.
func NewClient(name, apiKey string) *Client {
	return &Client{
		APIKey:       apiKey,
		Name:         name,
		LastSeen:     -1,
		AllowedTypes: []string{UtteranceType},
		CanBroadcast: true,
		CanEscalate:  true,
		CanPropagate: true,
	}
}

// SetCryptoKey stores a pre-shared key, truncating longer material.
func (c *Client) SetCryptoKey(key string) {
	if len(key) > cryptoKeySize {
		key = key[:cryptoKeySize]
	}
	c.CryptoKey = key
}

// EnsureUtteranceAllowed guarantees the utterance type is present in the
// allowed types list.
func (c *Client) EnsureUtteranceAllowed() {
	for _, t := range c.AllowedTypes {
		if t == UtteranceType {
			return
		}
	}
	c.AllowedTypes = append(c.AllowedTypes, UtteranceType)
}

// IsRevoked reports whether the record is a tombstone.
func (c *Client) IsRevoked() bool {
	return c.APIKey == RevokedKey
}

// Touch refreshes the last seen timestamp to now.
func (c *Client) Touch() {
	c.LastSeen = time.Now().Unix()
}

// clone returns a copy of the record so callers cannot mutate stored
// state behind the store's back.
func (c *Client) clone() *Client {
	out := *c
	out.AllowedTypes = append([]string(nil), c.AllowedTypes...)
	out.MessageBlacklist = append([]string(nil), c.MessageBlacklist...)
	out.SkillBlacklist = append([]string(nil), c.SkillBlacklist...)
	out.IntentBlacklist = append([]string(nil), c.IntentBlacklist...)
	return &out
}
