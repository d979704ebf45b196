package leads

import (
	"strings"
	"time"
)

// Status is the coarse pipeline position of a lead.
type Status string

const (
	StatusNew            Status = "new"
	StatusInDiscussion   Status = "in_discussion"
	StatusSMSSent        Status = "sms_sent"
	StatusAppointmentSet Status = "appointment_set"
)

var statusLabels = map[Status]string{
	StatusNew:            "Nouveau",
	StatusInDiscussion:   "En Discussion",
	StatusSMSSent:        "SMS Envoyé",
	StatusAppointmentSet: "RDV Pris",
}

// Label returns the dashboard label for the status.
func (s Status) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// legacyLabels covers labels written by the CSV import and the old dashboard.
var legacyLabels = map[string]Status{
	"contacté":      StatusSMSSent,
	"contacte":      StatusSMSSent,
	"sms envoye":    StatusSMSSent,
	"réponse reçue": StatusInDiscussion,
	"reponse recue": StatusInDiscussion,
}

// ParseStatus accepts enum values and the legacy French labels stored by the
// first version of the dashboard. Unknown values map to StatusNew.
func ParseStatus(raw string) Status {
	value := strings.TrimSpace(raw)
	if s := Status(strings.ToLower(value)); s.Valid() {
		return s
	}
	for status, label := range statusLabels {
		if strings.EqualFold(label, value) {
			return status
		}
	}
	if status, ok := legacyLabels[strings.ToLower(value)]; ok {
		return status
	}
	return StatusNew
}

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn kinds. Kind is informational; only Role drives behaviour.
const (
	KindAI         = "ai"
	KindManual     = "manual"
	KindWelcome    = "welcome"
	KindMissedCall = "missed_call"
)

// Turn is one message of a lead conversation. Turns are never edited once appended.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Kind    string    `json:"kind,omitempty"`
	At      time.Time `json:"at,omitempty"`
}

// Lead is a prospect tracked through the SMS qualification conversation.
type Lead struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Status    Status    `json:"status"`
	Source    string    `json:"source"`
	History   []Turn    `json:"conversation_history"`
	AIPaused  bool      `json:"ai_paused"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers never share the history backing array.
func (l *Lead) Clone() *Lead {
	if l == nil {
		return nil
	}
	cp := *l
	if l.History != nil {
		cp.History = make([]Turn, len(l.History))
		copy(cp.History, l.History)
	}
	return &cp
}

// ListFilter narrows lead listings.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
