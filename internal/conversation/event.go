package conversation

// Event is one of LeadCreated, InboundMessage or MissedCall.
type Event interface {
	EventName() string
}

// LeadCreated announces a lead submitted through the API or an import.
type LeadCreated struct {
	Name    string
	Phone   string
	Source  string
	EventID string
}

// InboundMessage is an SMS received from a prospect.
type InboundMessage struct {
	FromPhone string
	Body      string
	EventID   string
}

// MissedCall is an unanswered voice call.
type MissedCall struct {
	FromPhone string
	ToPhone   string
	EventID   string
}

func (LeadCreated) EventName() string    { return "lead_created" }
func (InboundMessage) EventName() string { return "inbound_message" }
func (MissedCall) EventName() string     { return "missed_call" }

// ErrorKind classifies why an event did not fully succeed.
type ErrorKind string

const (
	ErrorNone               ErrorKind = ""
	ErrorNotFound           ErrorKind = "not_found"
	ErrorValidation         ErrorKind = "validation_error"
	ErrorUpstreamFailure    ErrorKind = "upstream_failure"
	ErrorPersistenceFailure ErrorKind = "persistence_failure"
)

// Outcome reports what happened to one event.
type Outcome struct {
	Success   bool
	LeadID    string
	// SentReply is the SMS body delivered for this event, empty when nothing went out.
	SentReply string
	Error     ErrorKind
	// Persisted is true once the inbound unit (the lead row with the
	// triggering turn) was written, even if later steps failed.
	Persisted bool
	Duplicate bool
	Created   bool
	Err       error
}

func (o Outcome) label() string {
	switch {
	case o.Duplicate:
		return "duplicate"
	case o.Error != ErrorNone:
		return string(o.Error)
	default:
		return "success"
	}
}

func failed(kind ErrorKind, err error) Outcome {
	return Outcome{Error: kind, Err: err}
}
