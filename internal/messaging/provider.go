package messaging

import (
	"fmt"
	"strings"

	"github.com/wolfman30/leadrelay/internal/conversation"
	"github.com/wolfman30/leadrelay/internal/observability/metrics"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

const (
	// SMSProviderAuto uses Telnyx with Twilio as failover when both are set up.
	SMSProviderAuto   = "auto"
	SMSProviderTelnyx = "telnyx"
	SMSProviderTwilio = "twilio"
)

// ProviderSelectionConfig carries the credentials and sender numbers of both providers.
type ProviderSelectionConfig struct {
	Preference       string
	TelnyxAPIKey     string
	TelnyxProfileID  string
	TelnyxFromNumber string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	Metrics          *metrics.MessagingMetrics
}

// missingSettings lists the unset env keys among key/value pairs.
func missingSettings(pairs ...string) string {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i]+" missing")
		}
	}
	return strings.Join(missing, ", ")
}

// BuildReplyMessenger returns the messenger for the preferred provider, the
// provider label, and a reason when nothing usable is configured. A provider
// counts as configured only with its credentials and its sender number, since
// the orchestrator leaves OutboundReply.From empty.
func BuildReplyMessenger(cfg ProviderSelectionConfig, logger *logging.Logger) (conversation.ReplyMessenger, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = SMSProviderAuto
	}

	telnyxMissing := missingSettings(
		"TELNYX_API_KEY", cfg.TelnyxAPIKey,
		"TELNYX_MESSAGING_PROFILE_ID", cfg.TelnyxProfileID,
		"TELNYX_FROM_NUMBER", cfg.TelnyxFromNumber,
	)
	twilioMissing := missingSettings(
		"TWILIO_ACCOUNT_SID", cfg.TwilioAccountSID,
		"TWILIO_AUTH_TOKEN", cfg.TwilioAuthToken,
		"TWILIO_FROM_NUMBER", cfg.TwilioFromNumber,
	)

	var telnyx, twilio conversation.ReplyMessenger
	if telnyxMissing == "" {
		telnyx = NewTelnyxSender(cfg.TelnyxAPIKey, cfg.TelnyxProfileID, cfg.TelnyxFromNumber, logger).WithMetrics(cfg.Metrics)
	}
	if twilioMissing == "" {
		twilio = NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, logger).WithMetrics(cfg.Metrics)
	}

	switch preference {
	case SMSProviderTelnyx:
		if telnyx == nil {
			return nil, "", "telnyx: " + telnyxMissing
		}
		return telnyx, SMSProviderTelnyx, ""
	case SMSProviderTwilio:
		if twilio == nil {
			return nil, "", "twilio: " + twilioMissing
		}
		return twilio, SMSProviderTwilio, ""
	case SMSProviderAuto:
	default:
		return nil, "", fmt.Sprintf("unknown SMS provider %q", preference)
	}

	switch {
	case telnyx != nil && twilio != nil:
		return NewFailoverMessenger(telnyx, SMSProviderTelnyx, twilio, SMSProviderTwilio, logger), SMSProviderTelnyx + "+" + SMSProviderTwilio, ""
	case telnyx != nil:
		return telnyx, SMSProviderTelnyx, ""
	case twilio != nil:
		return twilio, SMSProviderTwilio, ""
	}
	return nil, "", fmt.Sprintf("telnyx: %s; twilio: %s", telnyxMissing, twilioMissing)
}
