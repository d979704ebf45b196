package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadrelay/internal/events"
	"github.com/wolfman30/leadrelay/internal/leads"
	"github.com/wolfman30/leadrelay/internal/observability/metrics"
	"github.com/wolfman30/leadrelay/internal/phone"
	"github.com/wolfman30/leadrelay/internal/profile"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

const (
	defaultSource          = "API"
	missedCallLabel        = "Appel Manqué"
	defaultDispatchTimeout = 10 * time.Second
	defaultPersistTimeout  = 10 * time.Second
	duplicateProviderLead  = "lead"
	duplicateProviderSMS   = "sms"
	duplicateProviderVoice = "voice"
)

// ProfileSource returns the tenant profile; it must never fail.
type ProfileSource interface {
	Resolve(ctx context.Context) profile.Config
}

// Orchestrator applies lead events one at a time per lead. The per-lead lock
// is held for the whole event, completion and dispatch included.
type Orchestrator struct {
	leads     leads.Repository
	replies   ReplyGenerator
	messenger ReplyMessenger
	profiles  ProfileSource
	logger    *logging.Logger
	tracer    trace.Tracer

	cfg orchestratorConfig
}

type orchestratorConfig struct {
	locker          Locker
	duplicates      events.DuplicateGuard
	metrics         *metrics.ConversationMetrics
	phones          phone.Normalizer
	fromNumber      string
	dispatchTimeout time.Duration
	persistTimeout  time.Duration
	now             func() time.Time
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*orchestratorConfig)

// WithLocker overrides the in-process keyed mutex.
func WithLocker(l Locker) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		if l != nil {
			cfg.locker = l
		}
	}
}

// WithDuplicateGuard enables webhook replay suppression.
func WithDuplicateGuard(g events.DuplicateGuard) OrchestratorOption {
	return func(cfg *orchestratorConfig) { cfg.duplicates = g }
}

// WithMetrics records event and reply counters.
func WithMetrics(m *metrics.ConversationMetrics) OrchestratorOption {
	return func(cfg *orchestratorConfig) { cfg.metrics = m }
}

// WithPhoneNormalizer sets the region used to parse national numbers.
func WithPhoneNormalizer(n phone.Normalizer) OrchestratorOption {
	return func(cfg *orchestratorConfig) { cfg.phones = n }
}

// WithFromNumber sets the sender number put on outbound SMS.
func WithFromNumber(number string) OrchestratorOption {
	return func(cfg *orchestratorConfig) { cfg.fromNumber = strings.TrimSpace(number) }
}

// WithDispatchTimeout bounds a single SMS send.
func WithDispatchTimeout(d time.Duration) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		if d > 0 {
			cfg.dispatchTimeout = d
		}
	}
}

// WithClock overrides time.Now for turn timestamps.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(cfg *orchestratorConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// NewOrchestrator wires the orchestrator around its stores and adapters.
func NewOrchestrator(repo leads.Repository, replies ReplyGenerator, messenger ReplyMessenger, profiles ProfileSource, logger *logging.Logger, opts ...OrchestratorOption) *Orchestrator {
	if repo == nil {
		panic("conversation: lead repository cannot be nil")
	}
	if replies == nil {
		panic("conversation: reply generator cannot be nil")
	}
	if messenger == nil {
		panic("conversation: reply messenger cannot be nil")
	}
	if profiles == nil {
		profiles = profile.NewResolver(nil, profile.DefaultConfig(), logger)
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := orchestratorConfig{
		locker:          NewKeyedMutex(),
		phones:          phone.NewNormalizer(""),
		dispatchTimeout: defaultDispatchTimeout,
		persistTimeout:  defaultPersistTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Orchestrator{
		leads:     repo,
		replies:   replies,
		messenger: messenger,
		profiles:  profiles,
		logger:    logger,
		tracer:    otel.Tracer("leadrelay.internal.conversation"),
		cfg:       cfg,
	}
}

// HandleEvent applies one lead event and reports the outcome. It never panics
// on bad input; every failure is classified in Outcome.Error.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev Event) Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	name := "unknown"
	if ev != nil {
		name = ev.EventName()
	}

	ctx, span := o.tracer.Start(ctx, "conversation.handle_event", trace.WithAttributes(attribute.String("conversation.event", name)))
	defer span.End()

	var out Outcome
	switch e := ev.(type) {
	case LeadCreated:
		out = o.handleLeadCreated(ctx, e)
	case InboundMessage:
		out = o.handleInbound(ctx, e)
	case MissedCall:
		out = o.handleMissedCall(ctx, e)
	default:
		out = failed(ErrorValidation, fmt.Errorf("conversation: unsupported event %T", ev))
	}

	if out.Err != nil {
		span.RecordError(out.Err)
	}
	span.SetAttributes(
		attribute.String("conversation.outcome", out.label()),
		attribute.String("lead.id", out.LeadID),
	)
	o.cfg.metrics.ObserveEvent(name, out.label(), time.Since(start).Seconds())
	return out
}

func (o *Orchestrator) handleLeadCreated(ctx context.Context, ev LeadCreated) Outcome {
	number, err := o.cfg.phones.Parse(ev.Phone)
	if err != nil {
		return failed(ErrorValidation, err)
	}
	name := strings.TrimSpace(ev.Name)
	if name == "" {
		name = defaultLeadName
	}
	source := strings.TrimSpace(ev.Source)
	if source == "" {
		source = defaultSource
	}

	unlock, err := o.cfg.locker.Lock(ctx, number)
	if err != nil {
		return failed(ErrorPersistenceFailure, err)
	}
	defer unlock()

	existing, err := o.leads.GetByPhone(ctx, number)
	switch {
	case err == nil:
		o.logger.Info("lead already exists, skipping welcome", "lead_id", existing.ID)
		return Outcome{Success: true, LeadID: existing.ID, Persisted: true}
	case !errors.Is(err, leads.ErrLeadNotFound):
		return failed(ErrorPersistenceFailure, fmt.Errorf("conversation: lookup lead: %w", err))
	}
	if o.isDuplicate(ctx, duplicateProviderLead, ev.EventID) {
		return Outcome{Success: true, Duplicate: true}
	}

	lead := &leads.Lead{Name: name, Phone: number, Source: source, Status: leads.StatusNew}
	if err := o.persist(ctx, func(pctx context.Context) error { return o.leads.Create(pctx, lead) }); err != nil {
		if errors.Is(err, leads.ErrDuplicatePhone) {
			if winner, getErr := o.leads.GetByPhone(ctx, number); getErr == nil {
				return Outcome{Success: true, LeadID: winner.ID, Persisted: true}
			}
		}
		return failed(ErrorPersistenceFailure, fmt.Errorf("conversation: create lead: %w", err))
	}
	o.markProcessed(ctx, duplicateProviderLead, ev.EventID)

	out := Outcome{Success: true, LeadID: lead.ID, Persisted: true, Created: true}
	cfg := o.profiles.Resolve(ctx)

	body, err := Preview(ctx, o.replies, cfg, lead)
	if err != nil {
		o.logger.Warn("welcome generation failed, using template", "lead_id", lead.ID, "error", err)
		body = welcomeTemplate(cfg, lead)
	}
	return o.sendAndRecord(ctx, lead, body, leads.KindWelcome, true, out)
}

func (o *Orchestrator) handleInbound(ctx context.Context, ev InboundMessage) Outcome {
	if strings.TrimSpace(ev.FromPhone) == "" {
		return failed(ErrorValidation, phone.ErrMissingPhone)
	}
	body := strings.TrimSpace(ev.Body)
	if body == "" {
		return failed(ErrorValidation, errors.New("conversation: message body required"))
	}
	number := o.cfg.phones.Normalize(ev.FromPhone)

	unlock, err := o.cfg.locker.Lock(ctx, number)
	if err != nil {
		return failed(ErrorPersistenceFailure, err)
	}
	defer unlock()

	lead, err := o.leads.GetByPhone(ctx, number)
	if err != nil {
		if errors.Is(err, leads.ErrLeadNotFound) {
			o.logger.Info("inbound sms from unknown number", "phone", number)
			return failed(ErrorNotFound, err)
		}
		return failed(ErrorPersistenceFailure, fmt.Errorf("conversation: lookup lead: %w", err))
	}
	if o.isDuplicate(ctx, duplicateProviderSMS, ev.EventID) {
		return Outcome{Success: true, LeadID: lead.ID, Duplicate: true, Persisted: true}
	}

	lead.AppendTurn(leads.Turn{Role: leads.RoleUser, Content: body}, o.cfg.now())
	lead.Apply(leads.SignalInboundMessage)
	if err := o.persist(ctx, func(pctx context.Context) error { return o.leads.Update(pctx, lead) }); err != nil {
		out := failed(ErrorPersistenceFailure, fmt.Errorf("conversation: save inbound turn: %w", err))
		out.LeadID = lead.ID
		return out
	}
	o.markProcessed(ctx, duplicateProviderSMS, ev.EventID)

	out := Outcome{Success: true, LeadID: lead.ID, Persisted: true}
	if !ShouldReply(lead, body) {
		o.logger.Info("automated reply skipped", "lead_id", lead.ID, "ai_paused", lead.AIPaused)
		return out
	}

	cfg := o.profiles.Resolve(ctx)
	reply, err := Preview(ctx, o.replies, cfg, lead)
	if err != nil {
		o.logger.Error("reply generation failed", "lead_id", lead.ID, "error", err)
		o.cfg.metrics.ObserveReply(leads.KindAI, "generation_failed")
		out.Error = ErrorUpstreamFailure
		out.Err = err
		return out
	}
	return o.sendAndRecord(ctx, lead, reply, leads.KindAI, false, out)
}

func (o *Orchestrator) handleMissedCall(ctx context.Context, ev MissedCall) Outcome {
	if strings.TrimSpace(ev.FromPhone) == "" {
		return failed(ErrorValidation, phone.ErrMissingPhone)
	}
	number := o.cfg.phones.Normalize(ev.FromPhone)

	unlock, err := o.cfg.locker.Lock(ctx, number)
	if err != nil {
		return failed(ErrorPersistenceFailure, err)
	}
	defer unlock()

	lead, err := o.leads.GetByPhone(ctx, number)
	created := false
	switch {
	case errors.Is(err, leads.ErrLeadNotFound):
		lead = &leads.Lead{Name: missedCallLabel, Phone: number, Source: missedCallLabel, Status: leads.StatusNew}
		created = true
	case err != nil:
		return failed(ErrorPersistenceFailure, fmt.Errorf("conversation: lookup lead: %w", err))
	}
	if o.isDuplicate(ctx, duplicateProviderVoice, ev.EventID) {
		return Outcome{Success: true, LeadID: lead.ID, Duplicate: true, Persisted: !created}
	}

	lead.AppendTurn(leads.Turn{Role: leads.RoleSystem, Content: missedCallAnnotation, Kind: leads.KindMissedCall}, o.cfg.now())
	save := func(pctx context.Context) error { return o.leads.Update(pctx, lead) }
	if created {
		save = func(pctx context.Context) error { return o.leads.Create(pctx, lead) }
	}
	if err := o.persist(ctx, save); err != nil {
		return failed(ErrorPersistenceFailure, fmt.Errorf("conversation: save missed call: %w", err))
	}
	o.markProcessed(ctx, duplicateProviderVoice, ev.EventID)

	out := Outcome{Success: true, LeadID: lead.ID, Persisted: true, Created: created}
	if lead.AIPaused {
		o.logger.Info("missed call callback skipped, lead paused", "lead_id", lead.ID)
		return out
	}
	cfg := o.profiles.Resolve(ctx)
	return o.sendAndRecord(ctx, lead, missedCallTemplate(cfg), leads.KindMissedCall, true, out)
}

// sendAndRecord dispatches body and, only when delivery succeeded, appends the
// assistant turn and persists it. initial applies SignalInitialOutbound.
func (o *Orchestrator) sendAndRecord(ctx context.Context, lead *leads.Lead, body, kind string, initial bool, out Outcome) Outcome {
	if _, err := o.dispatch(ctx, lead, body, kind); err != nil {
		o.logger.Error("sms dispatch failed", "lead_id", lead.ID, "kind", kind, "error", err)
		out.Error = ErrorUpstreamFailure
		out.Err = err
		return out
	}
	out.SentReply = body

	lead.AppendTurn(leads.Turn{Role: leads.RoleAssistant, Content: body, Kind: kind}, o.cfg.now())
	if initial {
		lead.Apply(leads.SignalInitialOutbound)
	}
	if err := o.persist(ctx, func(pctx context.Context) error { return o.leads.Update(pctx, lead) }); err != nil {
		o.logger.Error("failed to save outbound turn", "lead_id", lead.ID, "kind", kind, "error", err)
		out.Success = false
		out.Error = ErrorPersistenceFailure
		out.Err = fmt.Errorf("conversation: save outbound turn: %w", err)
	}
	return out
}

func (o *Orchestrator) dispatch(ctx context.Context, lead *leads.Lead, body, kind string) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, o.cfg.dispatchTimeout)
	defer cancel()

	ctx, span := o.tracer.Start(sendCtx, "conversation.dispatch", trace.WithAttributes(attribute.String("message.kind", kind)))
	defer span.End()

	id, err := o.messenger.SendReply(ctx, OutboundReply{
		LeadID: lead.ID,
		To:     lead.Phone,
		From:   o.cfg.fromNumber,
		Body:   body,
		Kind:   kind,
	})
	if err != nil {
		span.RecordError(err)
		o.cfg.metrics.ObserveReply(kind, "failed")
		return "", err
	}
	o.cfg.metrics.ObserveReply(kind, "sent")
	o.logger.Info("sms sent", "lead_id", lead.ID, "kind", kind, "message_id", id)
	return id, nil
}

// persist runs fn on a context that survives caller cancellation, so a
// webhook client hanging up never discards an applied mutation.
func (o *Orchestrator) persist(ctx context.Context, fn func(context.Context) error) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.persistTimeout)
	defer cancel()
	return fn(pctx)
}

// isDuplicate fails open: a guard error lets the event through.
func (o *Orchestrator) isDuplicate(ctx context.Context, provider, eventID string) bool {
	if o.cfg.duplicates == nil || strings.TrimSpace(eventID) == "" {
		return false
	}
	seen, err := o.cfg.duplicates.AlreadyProcessed(ctx, provider, eventID)
	if err != nil {
		o.logger.Warn("duplicate check failed", "provider", provider, "event_id", eventID, "error", err)
		return false
	}
	if seen {
		o.logger.Info("duplicate event ignored", "provider", provider, "event_id", eventID)
	}
	return seen
}

func (o *Orchestrator) markProcessed(ctx context.Context, provider, eventID string) {
	if o.cfg.duplicates == nil || strings.TrimSpace(eventID) == "" {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.persistTimeout)
	defer cancel()
	if _, err := o.cfg.duplicates.MarkProcessed(pctx, provider, eventID); err != nil {
		o.logger.Warn("failed to mark event processed", "provider", provider, "event_id", eventID, "error", err)
	}
}
