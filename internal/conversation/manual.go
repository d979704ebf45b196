package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/leadrelay/internal/leads"
)

// ErrEmptyMessage is returned for a blank operator message.
var ErrEmptyMessage = errors.New("conversation: message required")

// SendManual delivers an operator-written SMS and pauses automation for the
// lead. The pause is applied even when the send fails; the turn is recorded
// only when the provider accepted the message.
func (o *Orchestrator) SendManual(ctx context.Context, leadID, message string) Outcome {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "conversation.send_manual", trace.WithAttributes(attribute.String("lead.id", leadID)))
	defer span.End()

	out := o.withLeadByID(ctx, leadID, func(lead *leads.Lead) Outcome {
		body := strings.TrimSpace(message)
		if body == "" {
			return failed(ErrorValidation, ErrEmptyMessage)
		}

		out := Outcome{LeadID: lead.ID}
		_, sendErr := o.dispatch(ctx, lead, body, leads.KindManual)
		if sendErr == nil {
			out.SentReply = body
			lead.AppendTurn(leads.Turn{Role: leads.RoleAssistant, Content: body, Kind: leads.KindManual}, o.cfg.now())
		}
		lead.AIPaused = true

		if err := o.persist(ctx, func(pctx context.Context) error { return o.leads.Update(pctx, lead) }); err != nil {
			out.Error = ErrorPersistenceFailure
			out.Err = fmt.Errorf("conversation: save manual message: %w", err)
			return out
		}
		out.Persisted = true
		if sendErr != nil {
			out.Error = ErrorUpstreamFailure
			out.Err = sendErr
			return out
		}
		out.Success = true
		return out
	})

	if out.Err != nil {
		span.RecordError(out.Err)
	}
	o.cfg.metrics.ObserveEvent("manual_send", out.label(), time.Since(start).Seconds())
	return out
}

// ResumeAutomation clears the manual-override flag. It is only ever invoked
// by an operator.
func (o *Orchestrator) ResumeAutomation(ctx context.Context, leadID string) Outcome {
	return o.withLeadByID(ctx, leadID, func(lead *leads.Lead) Outcome {
		if !lead.AIPaused {
			return Outcome{Success: true, LeadID: lead.ID, Persisted: true}
		}
		lead.AIPaused = false
		return o.save(ctx, lead)
	})
}

// MarkAppointmentSet records an operator-confirmed appointment.
func (o *Orchestrator) MarkAppointmentSet(ctx context.Context, leadID string) Outcome {
	return o.withLeadByID(ctx, leadID, func(lead *leads.Lead) Outcome {
		if !lead.Apply(leads.SignalAppointmentConfirmed) {
			return Outcome{Success: true, LeadID: lead.ID, Persisted: true}
		}
		return o.save(ctx, lead)
	})
}

func (o *Orchestrator) save(ctx context.Context, lead *leads.Lead) Outcome {
	if err := o.persist(ctx, func(pctx context.Context) error { return o.leads.Update(pctx, lead) }); err != nil {
		out := failed(ErrorPersistenceFailure, fmt.Errorf("conversation: save lead: %w", err))
		out.LeadID = lead.ID
		return out
	}
	return Outcome{Success: true, LeadID: lead.ID, Persisted: true}
}

// withLeadByID resolves the lead's phone, takes the same per-lead lock the
// webhook events use and hands fn a freshly loaded copy.
func (o *Orchestrator) withLeadByID(ctx context.Context, leadID string, fn func(*leads.Lead) Outcome) Outcome {
	leadID = strings.TrimSpace(leadID)
	if leadID == "" {
		return failed(ErrorValidation, leads.ErrMissingID)
	}

	lead, err := o.leads.GetByID(ctx, leadID)
	if err != nil {
		return classifyLookup(err)
	}

	unlock, err := o.cfg.locker.Lock(ctx, lead.Phone)
	if err != nil {
		return failed(ErrorPersistenceFailure, err)
	}
	defer unlock()

	lead, err = o.leads.GetByID(ctx, leadID)
	if err != nil {
		return classifyLookup(err)
	}
	return fn(lead)
}

func classifyLookup(err error) Outcome {
	if errors.Is(err, leads.ErrLeadNotFound) {
		return failed(ErrorNotFound, err)
	}
	return failed(ErrorPersistenceFailure, fmt.Errorf("conversation: load lead: %w", err))
}
