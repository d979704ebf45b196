package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/leadrelay/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/leadrelay/internal/http/middleware"
	"github.com/wolfman30/leadrelay/internal/leads"
	"github.com/wolfman30/leadrelay/internal/messaging"
	"github.com/wolfman30/leadrelay/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	MessagingHandler   *messaging.Handler
	LeadsHandler       *leads.Handler
	AdminLeads         *handlers.AdminLeadsHandler
	AdminAuthSecret    string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// WebhookLimiter throttles the public /api routes per client IP when set.
	WebhookLimiter *httpmiddleware.IPRateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Get("/health", cfg.MessagingHandler.HealthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.WebhookLimiter != nil {
			api.Use(cfg.WebhookLimiter.Middleware)
		}
		api.Post("/incoming-lead", cfg.MessagingHandler.IncomingLead)
		api.Post("/incoming-sms", cfg.MessagingHandler.IncomingSMS)
		api.Post("/incoming-voice", cfg.MessagingHandler.IncomingVoice)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
		if cfg.LeadsHandler != nil {
			admin.Get("/leads", cfg.LeadsHandler.ListLeads)
			admin.Get("/leads/{leadID}", cfg.LeadsHandler.GetLead)
		}
		if cfg.AdminLeads != nil {
			admin.Post("/manual-send", cfg.AdminLeads.ManualSend)
			admin.Post("/leads/{leadID}/appointment", cfg.AdminLeads.MarkAppointment)
			admin.Post("/leads/{leadID}/resume", cfg.AdminLeads.Resume)
		}
	})

	return r
}
