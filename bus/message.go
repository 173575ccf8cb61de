package bus

import (
	"encoding/json"
	"fmt"
)

// DefaultSessionID is the placeholder session identifier a connection
// holds until its peer negotiates a real one.
const DefaultSessionID = "default"

// Session is the per-connection context slice the broker reads and
// writes inside a bus message.
type Session struct {
	SessionID          string   `json:"session_id"`
	SiteID             string   `json:"site_id,omitempty"`
	BlacklistedSkills  []string `json:"blacklisted_skills"`
	BlacklistedIntents []string `json:"blacklisted_intents"`
}

// NewSession creates a placeholder session.
func NewSession() *Session {
	return &Session{
		SessionID:          DefaultSessionID,
		BlacklistedSkills:  []string{},
		BlacklistedIntents: []string{},
	}
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	out.BlacklistedSkills = append([]string{}, s.BlacklistedSkills...)
	out.BlacklistedIntents = append([]string{}, s.BlacklistedIntents...)
	return &out
}

// MergeSkillBlacklist unions additional skill ids into the session,
// preserving order and skipping duplicates.
func (s *Session) MergeSkillBlacklist(skills []string) {
	s.BlacklistedSkills = union(s.BlacklistedSkills, skills)
}

// MergeIntentBlacklist unions additional intent ids into the session.
func (s *Session) MergeIntentBlacklist(intents []string) {
	s.BlacklistedIntents = union(s.BlacklistedIntents, intents)
}

func union(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, v := range base {
		seen[v] = struct{}{}
	}
	for _, v := range extra {
		if _, ok := seen[v]; !ok {
			base = append(base, v)
			seen[v] = struct{}{}
		}
	}
	return base
}

// Message is an agent bus message.
type Message struct {
	Type    string                 `json:"type"`
	Data    map[string]interface{} `json:"data"`
	Context map[string]interface{} `json:"context"`
}

// NewMessage creates a bus message with non-nil data and context maps.
func NewMessage(msgType string, data map[string]interface{}) *Message {
	if data == nil {
		data = map[string]interface{}{}
	}
	return &Message{
		Type:    msgType,
		Data:    data,
		Context: map[string]interface{}{},
	}
}

// Parse deserializes a bus message from JSON.
func Parse(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse bus message: %w", err)
	}
	if m.Data == nil {
		m.Data = map[string]interface{}{}
	}
	if m.Context == nil {
		m.Context = map[string]interface{}{}
	}
	return &m, nil
}

// Serialize renders the message as JSON.
func (m *Message) Serialize() ([]byte, error) {
	return json.Marshal(m)
}

// Session extracts the session slice of the message context. A missing
// or malformed session yields a fresh placeholder.
func (m *Message) Session() *Session {
	raw, ok := m.Context["session"]
	if !ok {
		return NewSession()
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return NewSession()
	}
	sess := NewSession()
	if err := json.Unmarshal(encoded, sess); err != nil {
		return NewSession()
	}
	if sess.SessionID == "" {
		sess.SessionID = DefaultSessionID
	}
	if sess.BlacklistedSkills == nil {
		sess.BlacklistedSkills = []string{}
	}
	if sess.BlacklistedIntents == nil {
		sess.BlacklistedIntents = []string{}
	}
	return sess
}

// SetSession writes the session back into the message context.
func (m *Message) SetSession(s *Session) {
	if m.Context == nil {
		m.Context = map[string]interface{}{}
	}
	m.Context["session"] = map[string]interface{}{
		"session_id":          s.SessionID,
		"site_id":             s.SiteID,
		"blacklisted_skills":  s.BlacklistedSkills,
		"blacklisted_intents": s.BlacklistedIntents,
	}
}

// Destinations returns context.destination normalized to a list; the
// field may be a single string or a list of strings.
func (m *Message) Destinations() []string {
	switch v := m.Context["destination"].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Forward creates a reply-style message that keeps this message's
// context.
func (m *Message) Forward(msgType string, data map[string]interface{}) *Message {
	if data == nil {
		data = map[string]interface{}{}
	}
	ctx := make(map[string]interface{}, len(m.Context))
	for k, v := range m.Context {
		ctx[k] = v
	}
	return &Message{Type: msgType, Data: data, Context: ctx}
}
