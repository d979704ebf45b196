package leads

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// AppendTurn adds t to the end of the lead history and bumps UpdatedAt.
// A zero At is stamped with now.
func (l *Lead) AppendTurn(t Turn, now time.Time) {
	if t.At.IsZero() {
		t.At = now
	}
	l.History = append(l.History, t)
	l.UpdatedAt = now
}

// LastTurn returns the most recent turn, if any.
func (l *Lead) LastTurn() (Turn, bool) {
	if l == nil || len(l.History) == 0 {
		return Turn{}, false
	}
	return l.History[len(l.History)-1], true
}

// storedTurn is the permissive on-disk shape. Older rows used "type" instead
// of "kind" and "ai" instead of "assistant".
type storedTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Kind    string `json:"kind"`
	Type    string `json:"type"`
	At      string `json:"at"`
}

// DecodeHistory parses a stored conversation history. Anything that is not a
// JSON array decodes to an empty history; malformed entries are skipped.
func DecodeHistory(raw []byte) []Turn {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return []Turn{}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []Turn{}
	}
	history := make([]Turn, 0, len(items))
	for _, item := range items {
		var st storedTurn
		if err := json.Unmarshal(item, &st); err != nil {
			continue
		}
		if strings.TrimSpace(st.Content) == "" {
			continue
		}
		turn := Turn{
			Role:    NormalizeRole(st.Role),
			Content: st.Content,
			Kind:    st.Kind,
		}
		if turn.Kind == "" {
			turn.Kind = st.Type
		}
		if st.At != "" {
			if at, err := time.Parse(time.RFC3339Nano, st.At); err == nil {
				turn.At = at
			}
		}
		history = append(history, turn)
	}
	return history
}

// EncodeHistory serializes the history; a nil history encodes as [].
func EncodeHistory(history []Turn) ([]byte, error) {
	if history == nil {
		history = []Turn{}
	}
	return json.Marshal(history)
}

// NormalizeRole maps stored role tags onto the canonical three roles.
// Anything that is not user or system was written by the assistant side.
func NormalizeRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(RoleUser):
		return RoleUser
	case string(RoleSystem):
		return RoleSystem
	default:
		return RoleAssistant
	}
}
