package bus

import (
	"reflect"
	"testing"
)

func TestEmitterTypedAndCatchAll(t *testing.T) {
	e := NewEmitter()

	var typed, all []string
	e.On("speak", func(m *Message) { typed = append(typed, m.Type) })
	e.On(CatchAll, func(m *Message) { all = append(all, m.Type) })

	e.Emit(NewMessage("speak", nil))
	e.Emit(NewMessage("recognizer_loop:utterance", nil))

	if len(typed) != 1 || typed[0] != "speak" {
		t.Errorf("typed handler calls = %v", typed)
	}
	if len(all) != 2 {
		t.Errorf("catch-all handler calls = %v", all)
	}
}

func TestEmitterHandlerOrder(t *testing.T) {
	e := NewEmitter()
	var order []int
	e.On("x", func(*Message) { order = append(order, 1) })
	e.On("x", func(*Message) { order = append(order, 2) })
	e.Emit(NewMessage("x", nil))
	if !reflect.DeepEqual(order, []int{1, 2}) {
		t.Errorf("handler order = %v", order)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	m := NewMessage("recognizer_loop:utterance", map[string]interface{}{
		"utterances": []string{"hello"},
	})
	sess := NewSession()
	sess.SessionID = "s1"
	sess.SiteID = "kitchen"
	sess.MergeSkillBlacklist([]string{"skill-a"})
	m.SetSession(sess)

	got := m.Session()
	if got.SessionID != "s1" {
		t.Errorf("SessionID = %q", got.SessionID)
	}
	if got.SiteID != "kitchen" {
		t.Errorf("SiteID = %q", got.SiteID)
	}
	if !reflect.DeepEqual(got.BlacklistedSkills, []string{"skill-a"}) {
		t.Errorf("BlacklistedSkills = %v", got.BlacklistedSkills)
	}
}

func TestSessionMissingYieldsDefault(t *testing.T) {
	m := NewMessage("test", nil)
	sess := m.Session()
	if sess.SessionID != DefaultSessionID {
		t.Errorf("SessionID = %q, want %q", sess.SessionID, DefaultSessionID)
	}
	if sess.BlacklistedSkills == nil || sess.BlacklistedIntents == nil {
		t.Error("blacklists must be non-nil")
	}
}

func TestMergeBlacklistsNoDuplicates(t *testing.T) {
	sess := NewSession()
	sess.MergeSkillBlacklist([]string{"a", "b"})
	sess.MergeSkillBlacklist([]string{"b", "c"})
	if !reflect.DeepEqual(sess.BlacklistedSkills, []string{"a", "b", "c"}) {
		t.Errorf("BlacklistedSkills = %v", sess.BlacklistedSkills)
	}

	sess.MergeIntentBlacklist([]string{"x:y"})
	sess.MergeIntentBlacklist([]string{"x:y"})
	if !reflect.DeepEqual(sess.BlacklistedIntents, []string{"x:y"}) {
		t.Errorf("BlacklistedIntents = %v", sess.BlacklistedIntents)
	}
}

func TestDestinations(t *testing.T) {
	testCases := []struct {
		name     string
		value    interface{}
		expected []string
	}{
		{"missing", nil, nil},
		{"string", "skills", []string{"skills"}},
		{"list", []interface{}{"audio", "skills"}, []string{"audio", "skills"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMessage("test", nil)
			if tc.value != nil {
				m.Context["destination"] = tc.value
			}
			if got := m.Destinations(); !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("Destinations() = %v, want %v", got, tc.expected)
			}
		})
	}
}

func TestParseDefaultsMaps(t *testing.T) {
	m, err := Parse([]byte(`{"type":"test"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Data == nil || m.Context == nil {
		t.Error("Parse must default data and context maps")
	}
}

func TestForwardKeepsContext(t *testing.T) {
	m := NewMessage("hive.send.downstream", nil)
	m.Context["source"] = "peer-1"

	fwd := m.Forward("hive.client.send.error", map[string]interface{}{"error": "x"})
	if fwd.Context["source"] != "peer-1" {
		t.Error("forwarded message lost context")
	}
	if fwd.Type != "hive.client.send.error" {
		t.Errorf("Type = %q", fwd.Type)
	}
}
