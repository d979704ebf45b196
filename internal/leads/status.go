package leads

// Signal is an event that may move a lead's status.
type Signal int

const (
	// SignalInboundMessage fires when the prospect's text is appended.
	SignalInboundMessage Signal = iota + 1
	// SignalInitialOutbound fires after the first outbound SMS of a new lead
	// (welcome message or missed-call text-back) was delivered.
	SignalInitialOutbound
	// SignalAppointmentConfirmed is raised only by an operator action.
	SignalAppointmentConfirmed
)

func (s Signal) String() string {
	switch s {
	case SignalInboundMessage:
		return "inbound_message"
	case SignalInitialOutbound:
		return "initial_outbound"
	case SignalAppointmentConfirmed:
		return "appointment_confirmed"
	default:
		return "unknown"
	}
}

// Transition returns the status that follows current after sig.
// AppointmentSet is terminal and unknown pairs leave the status unchanged,
// so status never regresses. Automated replies have no signal at all.
func Transition(current Status, sig Signal) Status {
	if current == StatusAppointmentSet {
		return current
	}
	switch sig {
	case SignalInboundMessage:
		if current == StatusNew {
			return StatusInDiscussion
		}
	case SignalInitialOutbound:
		if current == StatusNew {
			return StatusSMSSent
		}
	case SignalAppointmentConfirmed:
		return StatusAppointmentSet
	}
	return current
}

// Apply advances the lead status and reports whether it changed.
func (l *Lead) Apply(sig Signal) bool {
	next := Transition(l.Status, sig)
	if next == l.Status {
		return false
	}
	l.Status = next
	return true
}
