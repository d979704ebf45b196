package bootstrap

import (
	appconfig "github.com/wolfman30/leadrelay/internal/config"
	"github.com/wolfman30/leadrelay/internal/conversation"
	"github.com/wolfman30/leadrelay/internal/messaging"
	"github.com/wolfman30/leadrelay/internal/observability/metrics"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

// BuildOutboundMessenger creates the SMS dispatch adapter from config.
// It returns the messenger, the selected provider and, when nil, the reason.
func BuildOutboundMessenger(cfg *appconfig.Config, m *metrics.MessagingMetrics, logger *logging.Logger) (conversation.ReplyMessenger, string, string) {
	if cfg == nil {
		return nil, "", "missing config"
	}
	return messaging.BuildReplyMessenger(messaging.ProviderSelectionConfig{
		Preference:       cfg.SMSProvider,
		TelnyxAPIKey:     cfg.TelnyxAPIKey,
		TelnyxProfileID:  cfg.TelnyxMessagingProfileID,
		TelnyxFromNumber: cfg.TelnyxFromNumber,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFromNumber: cfg.TwilioFromNumber,
		Metrics:          m,
	}, logger)
}

