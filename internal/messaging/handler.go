package messaging

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/leadrelay/internal/conversation"
	"github.com/wolfman30/leadrelay/internal/observability/metrics"
	"github.com/wolfman30/leadrelay/internal/phone"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

var webhookTracer = otel.Tracer("leadrelay.internal.messaging.webhook")

const (
	routeIncomingLead  = "incoming_lead"
	routeIncomingSMS   = "incoming_sms"
	routeIncomingVoice = "incoming_voice"

	voiceGreeting = "Bonjour, nous sommes actuellement sur un chantier. Nous vous envoyons un SMS tout de suite."
)

// EventHandler is the orchestrator surface the webhooks feed.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev conversation.Event) conversation.Outcome
}

// Handler serves the gateway webhooks: lead intake, inbound SMS and inbound calls.
type Handler struct {
	events        EventHandler
	webhookSecret string
	publicBaseURL string
	normalizer    phone.Normalizer
	validate      *validator.Validate
	metrics       *metrics.MessagingMetrics
	logger        *logging.Logger
}

// HandlerConfig carries the webhook settings.
type HandlerConfig struct {
	// WebhookSecret enables Twilio signature checks on the SMS and voice routes when set.
	WebhookSecret string
	PublicBaseURL string
	Normalizer    phone.Normalizer
	Metrics       *metrics.MessagingMetrics
}

// NewHandler creates a webhook handler.
func NewHandler(events EventHandler, cfg HandlerConfig, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		events:        events,
		webhookSecret: cfg.WebhookSecret,
		publicBaseURL: cfg.PublicBaseURL,
		normalizer:    cfg.Normalizer,
		validate:      validator.New(),
		metrics:       cfg.Metrics,
		logger:        logger,
	}
}

type incomingLeadRequest struct {
	Name   string `json:"name" validate:"required"`
	Phone  string `json:"phone" validate:"required"`
	Source string `json:"source"`
}

type webhookResponse struct {
	Success bool   `json:"success"`
	LeadID  string `json:"leadId,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// IncomingLead handles POST /api/incoming-lead.
func (h *Handler) IncomingLead(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "messaging.webhook.incoming_lead")
	defer span.End()

	var req incomingLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, routeIncomingLead, start, http.StatusBadRequest, webhookResponse{Error: "Invalid JSON body"})
		span.RecordError(err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)
	if err := h.validate.Struct(req); err != nil {
		h.respond(w, routeIncomingLead, start, http.StatusBadRequest, webhookResponse{Error: "Phone and name are required"})
		span.RecordError(err)
		return
	}
	span.SetAttributes(attribute.String("leadrelay.phone", h.normalizer.Normalize(req.Phone)))

	out := h.events.HandleEvent(ctx, conversation.LeadCreated{
		Name:    req.Name,
		Phone:   req.Phone,
		Source:  strings.TrimSpace(req.Source),
		EventID: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if out.Err != nil {
		span.RecordError(out.Err)
	}

	switch out.Error {
	case conversation.ErrorValidation:
		h.respond(w, routeIncomingLead, start, http.StatusBadRequest, webhookResponse{Error: "Invalid phone number"})
		return
	case conversation.ErrorPersistenceFailure:
		h.logger.Error("incoming lead not persisted", "error", out.Err)
		h.respond(w, routeIncomingLead, start, http.StatusInternalServerError, webhookResponse{Error: "Failed to save lead"})
		return
	}
	h.respond(w, routeIncomingLead, start, http.StatusOK, webhookResponse{Success: true, LeadID: out.LeadID})
}

// IncomingSMS handles POST /api/incoming-sms from the SMS gateway.
func (h *Handler) IncomingSMS(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "messaging.webhook.incoming_sms")
	defer span.End()

	if !h.verifySignature(w, r, routeIncomingSMS, start) {
		span.RecordError(errors.New("invalid twilio signature"))
		return
	}

	webhook, err := ParseTwilioSMSWebhook(r)
	if err != nil {
		h.respond(w, routeIncomingSMS, start, http.StatusBadRequest, webhookResponse{Error: "Bad Request"})
		span.RecordError(err)
		return
	}
	if err := h.validate.Struct(webhook); err != nil {
		h.respond(w, routeIncomingSMS, start, http.StatusBadRequest, webhookResponse{Error: "From and Body are required"})
		span.RecordError(err)
		return
	}
	span.SetAttributes(
		attribute.String("leadrelay.twilio.message_sid", webhook.MessageSid),
		attribute.String("leadrelay.phone", h.normalizer.Normalize(webhook.From)),
	)

	out := h.events.HandleEvent(ctx, conversation.InboundMessage{
		FromPhone: webhook.From,
		Body:      webhook.Body,
		EventID:   webhook.MessageSid,
	})
	if out.Err != nil {
		span.RecordError(out.Err)
	}

	switch {
	case out.Error == conversation.ErrorNotFound:
		h.respond(w, routeIncomingSMS, start, http.StatusOK, webhookResponse{Success: true, Message: "lead not found"})
	case out.Error == conversation.ErrorValidation:
		h.respond(w, routeIncomingSMS, start, http.StatusBadRequest, webhookResponse{Error: "Empty message"})
	case out.Error == conversation.ErrorPersistenceFailure && !out.Persisted:
		h.logger.Error("inbound sms not persisted", "error", out.Err, "message_sid", webhook.MessageSid)
		h.respond(w, routeIncomingSMS, start, http.StatusInternalServerError, webhookResponse{Error: "Failed to save message"})
	default:
		h.respond(w, routeIncomingSMS, start, http.StatusOK, webhookResponse{Success: true, LeadID: out.LeadID})
	}
}

type twimlSay struct {
	Voice    string `xml:"voice,attr"`
	Language string `xml:"language,attr"`
	Text     string `xml:",chardata"`
}

type twimlResponse struct {
	XMLName xml.Name  `xml:"Response"`
	Say     *twimlSay `xml:"Say,omitempty"`
	Hangup  *struct{} `xml:"Hangup,omitempty"`
}

// IncomingVoice handles POST /api/incoming-voice. The caller always hears the
// greeting; the missed-call text-back runs through the orchestrator.
func (h *Handler) IncomingVoice(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := webhookTracer.Start(r.Context(), "messaging.webhook.incoming_voice")
	defer span.End()

	if !h.verifySignature(w, r, routeIncomingVoice, start) {
		span.RecordError(errors.New("invalid twilio voice signature"))
		return
	}

	webhook, err := ParseTwilioVoiceWebhook(r)
	if err != nil {
		h.respond(w, routeIncomingVoice, start, http.StatusBadRequest, webhookResponse{Error: "Bad Request"})
		span.RecordError(err)
		return
	}
	span.SetAttributes(
		attribute.String("leadrelay.twilio.call_sid", webhook.CallSid),
		attribute.String("leadrelay.twilio.call_status", webhook.CallStatus),
	)

	if err := h.validate.Struct(webhook); err != nil {
		h.logger.Warn("voice webhook without caller", "call_sid", webhook.CallSid)
		span.RecordError(err)
		h.writeVoiceResponse(w, start)
		return
	}

	out := h.events.HandleEvent(ctx, conversation.MissedCall{
		FromPhone: webhook.From,
		ToPhone:   webhook.To,
		EventID:   webhook.CallSid,
	})
	if out.Err != nil {
		span.RecordError(out.Err)
	}
	if out.Error == conversation.ErrorPersistenceFailure && !out.Persisted {
		h.logger.Error("missed call not persisted", "error", out.Err, "call_sid", webhook.CallSid)
		h.respond(w, routeIncomingVoice, start, http.StatusInternalServerError, webhookResponse{Error: "Failed to save call"})
		return
	}
	h.writeVoiceResponse(w, start)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) verifySignature(w http.ResponseWriter, r *http.Request, route string, start time.Time) bool {
	if h.webhookSecret == "" {
		return true
	}
	if ValidateTwilioSignature(r, h.webhookSecret, webhookURL(r, h.publicBaseURL)) {
		return true
	}
	h.logger.Warn("invalid twilio signature", "route", route)
	h.metrics.ObserveInbound(route, strconv.Itoa(http.StatusUnauthorized))
	h.metrics.ObserveWebhookLatency(route, time.Since(start).Seconds())
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

func (h *Handler) writeVoiceResponse(w http.ResponseWriter, start time.Time) {
	resp := twimlResponse{
		Say:    &twimlSay{Voice: "alice", Language: "fr-FR", Text: voiceGreeting},
		Hangup: &struct{}{},
	}
	body, err := xml.Marshal(resp)
	if err != nil {
		h.logger.Error("failed to encode voice response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveInbound(routeIncomingVoice, strconv.Itoa(http.StatusOK))
	h.metrics.ObserveWebhookLatency(routeIncomingVoice, time.Since(start).Seconds())
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(body)
}

func (h *Handler) respond(w http.ResponseWriter, route string, start time.Time, status int, body webhookResponse) {
	h.metrics.ObserveInbound(route, strconv.Itoa(status))
	h.metrics.ObserveWebhookLatency(route, time.Since(start).Seconds())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
