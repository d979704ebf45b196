package conversation

import "context"

// ReplyMessenger delivers outbound SMS and returns the provider message id.
type ReplyMessenger interface {
	SendReply(ctx context.Context, reply OutboundReply) (string, error)
}

// OutboundReply carries the data required to push a message to the lead.
type OutboundReply struct {
	LeadID string
	To     string
	From   string
	Body   string
	// Kind mirrors the turn kind the message will be recorded under.
	Kind string
}
