package conversation

import (
	"strings"

	"github.com/wolfman30/leadrelay/internal/leads"
)

// ShouldReply decides whether an automated reply follows an inbound message.
// A paused lead or a blank message never gets one.
func ShouldReply(lead *leads.Lead, inbound string) bool {
	if lead == nil || lead.AIPaused {
		return false
	}
	return strings.TrimSpace(inbound) != ""
}
