package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/leadrelay/internal/conversation"
	"github.com/wolfman30/leadrelay/internal/http/middleware"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

// Operator-facing error strings shown in the dashboard.
const (
	errMessageRequired = "Identifiant du lead et message requis"
	errMessageEmpty    = "Le message ne peut pas être vide"
	errLeadIDRequired  = "Identifiant du lead requis"
	errLeadNotFound    = "Lead introuvable"
	errSendFailed      = "Échec de l'envoi du SMS"
	errUpdateFailed    = "Échec de la mise à jour du lead"
)

// LeadOperator is the set of operator actions the orchestrator exposes.
type LeadOperator interface {
	SendManual(ctx context.Context, leadID, message string) conversation.Outcome
	ResumeAutomation(ctx context.Context, leadID string) conversation.Outcome
	MarkAppointmentSet(ctx context.Context, leadID string) conversation.Outcome
}

// AdminLeadsHandler handles the operator actions on a single lead.
type AdminLeadsHandler struct {
	ops      LeadOperator
	validate *validator.Validate
	logger   *logging.Logger
}

// NewAdminLeadsHandler creates a new admin leads handler.
func NewAdminLeadsHandler(ops LeadOperator, logger *logging.Logger) *AdminLeadsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminLeadsHandler{
		ops:      ops,
		validate: validator.New(),
		logger:   logger,
	}
}

// ManualSendRequest is the body of POST /admin/manual-send.
type ManualSendRequest struct {
	LeadID  string `json:"leadId" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// ActionResponse is returned by every operator action.
type ActionResponse struct {
	Success     bool   `json:"success"`
	LeadID      string `json:"leadId,omitempty"`
	SentMessage string `json:"sentMessage,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ManualSend handles POST /admin/manual-send. A sent message pauses
// automation for the lead.
func (h *AdminLeadsHandler) ManualSend(w http.ResponseWriter, r *http.Request) {
	var req ManualSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ActionResponse{Error: errMessageRequired})
		return
	}
	req.LeadID = strings.TrimSpace(req.LeadID)
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ActionResponse{Error: errMessageRequired})
		return
	}

	out := h.ops.SendManual(r.Context(), req.LeadID, req.Message)
	h.logAction(r, "manual_send", req.LeadID, out)
	h.writeOutcome(w, out, errMessageEmpty)
}

// MarkAppointment handles POST /admin/leads/{leadID}/appointment.
func (h *AdminLeadsHandler) MarkAppointment(w http.ResponseWriter, r *http.Request) {
	leadID := strings.TrimSpace(chi.URLParam(r, "leadID"))
	out := h.ops.MarkAppointmentSet(r.Context(), leadID)
	h.logAction(r, "appointment_set", leadID, out)
	h.writeOutcome(w, out, errLeadIDRequired)
}

// Resume handles POST /admin/leads/{leadID}/resume.
func (h *AdminLeadsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	leadID := strings.TrimSpace(chi.URLParam(r, "leadID"))
	out := h.ops.ResumeAutomation(r.Context(), leadID)
	h.logAction(r, "resume_automation", leadID, out)
	h.writeOutcome(w, out, errLeadIDRequired)
}

// writeOutcome maps an outcome to a status. invalidMsg is the action's own
// validation error string.
func (h *AdminLeadsHandler) writeOutcome(w http.ResponseWriter, out conversation.Outcome, invalidMsg string) {
	switch out.Error {
	case conversation.ErrorNone:
		writeJSON(w, http.StatusOK, ActionResponse{Success: true, LeadID: out.LeadID, SentMessage: out.SentReply})
	case conversation.ErrorNotFound:
		writeJSON(w, http.StatusNotFound, ActionResponse{Error: errLeadNotFound})
	case conversation.ErrorValidation:
		writeJSON(w, http.StatusBadRequest, ActionResponse{Error: invalidMsg})
	case conversation.ErrorUpstreamFailure:
		writeJSON(w, http.StatusBadGateway, ActionResponse{LeadID: out.LeadID, Error: errSendFailed})
	default:
		writeJSON(w, http.StatusInternalServerError, ActionResponse{LeadID: out.LeadID, Error: errUpdateFailed})
	}
}

func (h *AdminLeadsHandler) logAction(r *http.Request, action, leadID string, out conversation.Outcome) {
	operator := ""
	if claims, ok := middleware.AdminClaimsFromContext(r.Context()); ok {
		operator = claims.Subject
	}
	if out.Error == conversation.ErrorNone {
		h.logger.Info("operator action applied", "action", action, "lead_id", leadID, "operator", operator)
		return
	}
	h.logger.Warn("operator action failed", "action", action, "lead_id", leadID, "operator", operator,
		"error_kind", string(out.Error), "error", out.Err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
