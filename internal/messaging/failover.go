package messaging

import (
	"context"
	"errors"

	"github.com/wolfman30/leadrelay/internal/conversation"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

// FailoverMessenger attempts a primary send, then falls back to a secondary provider on error.
type FailoverMessenger struct {
	primary       conversation.ReplyMessenger
	secondary     conversation.ReplyMessenger
	primaryName   string
	secondaryName string
	logger        *logging.Logger
}

// NewFailoverMessenger builds a failover messenger with named providers.
func NewFailoverMessenger(primary conversation.ReplyMessenger, primaryName string, secondary conversation.ReplyMessenger, secondaryName string, logger *logging.Logger) *FailoverMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverMessenger{
		primary:       primary,
		secondary:     secondary,
		primaryName:   primaryName,
		secondaryName: secondaryName,
		logger:        logger,
	}
}

var _ conversation.ReplyMessenger = (*FailoverMessenger)(nil)

// SendReply tries the primary provider first, then falls back to the secondary provider on failure.
func (f *FailoverMessenger) SendReply(ctx context.Context, reply conversation.OutboundReply) (string, error) {
	if f == nil || f.primary == nil {
		return "", errors.New("messaging: failover primary sender not configured")
	}
	id, err := f.primary.SendReply(ctx, reply)
	if err == nil || f.secondary == nil {
		return id, err
	}
	if ctx.Err() != nil {
		return "", err
	}

	f.logger.Warn("primary sms send failed; attempting fallback",
		"provider", f.primaryName,
		"fallback", f.secondaryName,
		"error", err,
		"lead_id", reply.LeadID,
	)
	id, fallbackErr := f.secondary.SendReply(ctx, reply)
	if fallbackErr != nil {
		f.logger.Error("fallback sms send failed",
			"provider", f.secondaryName,
			"error", fallbackErr,
			"lead_id", reply.LeadID,
		)
		return "", fallbackErr
	}
	return id, nil
}
