package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/leadrelay/internal/conversation"
	"github.com/wolfman30/leadrelay/internal/observability/metrics"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

const defaultTelnyxBaseURL = "https://api.telnyx.com"

var telnyxSendTracer = otel.Tracer("leadrelay.internal.messaging.telnyx_send")

// TelnyxSender posts SMS messages using Telnyx's V2 API.
type TelnyxSender struct {
	apiKey             string
	messagingProfileID string
	from               string
	baseURL            string
	httpClient         *http.Client
	metrics            *metrics.MessagingMetrics
	logger             *logging.Logger
}

// NewTelnyxSender builds a sender for Telnyx V2 API.
func NewTelnyxSender(apiKey, messagingProfileID, defaultFrom string, logger *logging.Logger) *TelnyxSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSender{
		apiKey:             apiKey,
		messagingProfileID: messagingProfileID,
		from:               defaultFrom,
		baseURL:            defaultTelnyxBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// WithMetrics records per-send outcomes.
func (s *TelnyxSender) WithMetrics(m *metrics.MessagingMetrics) *TelnyxSender {
	s.metrics = m
	return s
}

var _ conversation.ReplyMessenger = (*TelnyxSender)(nil)

// SendReply dispatches a single SMS via Telnyx and returns the message id.
func (s *TelnyxSender) SendReply(ctx context.Context, msg conversation.OutboundReply) (string, error) {
	if s.apiKey == "" {
		return "", errors.New("messaging: telnyx api key missing")
	}
	if msg.To == "" {
		return "", errors.New("messaging: to required")
	}
	if msg.From == "" {
		msg.From = s.from
	}
	if msg.From == "" {
		return "", errors.New("messaging: from required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return "", errors.New("messaging: body required")
	}

	ctx, span := telnyxSendTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("lead.id", msg.LeadID),
		attribute.String("message.kind", msg.Kind),
	)

	payload := map[string]string{
		"from": msg.From,
		"to":   msg.To,
		"text": msg.Body,
	}
	if s.messagingProfileID != "" {
		payload["messaging_profile_id"] = s.messagingProfileID
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("messaging: failed to marshal telnyx payload: %w", err)
	}
	endpoint := strings.TrimRight(s.baseURL, "/") + "/v2/messages"

	body, err := doWithRetry(ctx, s.httpClient, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, formatTelnyxError)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveOutbound(SMSProviderTelnyx, "failed")
		s.logger.Error("failed to send telnyx sms", "error", err, "lead_id", msg.LeadID)
		return "", err
	}

	var parsed struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_ = json.Unmarshal(body, &parsed)
	s.metrics.ObserveOutbound(SMSProviderTelnyx, "sent")
	s.logger.Info("telnyx sms sent", "lead_id", msg.LeadID, "message_id", parsed.Data.ID)
	return parsed.Data.ID, nil
}

func formatTelnyxError(status int, body []byte) string {
	var parsed struct {
		Errors []struct {
			Code   string `json:"code"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Errors) > 0 {
		e := parsed.Errors[0]
		return fmt.Sprintf("telnyx send failed: status %d code %s: %s", status, e.Code, strings.TrimSpace(e.Title+" "+e.Detail))
	}
	return fmt.Sprintf("telnyx send failed: status %d", status)
}
