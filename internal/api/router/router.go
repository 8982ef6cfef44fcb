package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Systemsaholic/call-helm-sub003/internal/billing"
	"github.com/Systemsaholic/call-helm-sub003/internal/calls"
	"github.com/Systemsaholic/call-helm-sub003/internal/http/handlers"
	httpmiddleware "github.com/Systemsaholic/call-helm-sub003/internal/http/middleware"
	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	SMSWebhooks    *handlers.SMSWebhookHandler
	VoiceWebhooks  *calls.WebhookHandler
	BillingWebhook *billing.WebhookHandler
	Transcribe     *handlers.TranscribeHandler
	AdminOps       *handlers.AdminOpsHandler
	MetricsHandler http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string

	// Requests per second allowed on the webhook routes, per client IP.
	// Zero disables rate limiting.
	WebhookRateLimit float64
	WebhookRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handlers.HealthHandler)
	r.Head("/health", handlers.HealthHandler)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Provider webhooks. Each provider verifies its own signature inside
	// the handler, so these stay public.
	r.Group(func(public chi.Router) {
		if cfg.WebhookRateLimit > 0 {
			burst := cfg.WebhookRateBurst
			if burst <= 0 {
				burst = int(cfg.WebhookRateLimit) * 2
			}
			public.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, burst))
		}
		public.Route("/webhooks", func(wh chi.Router) {
			if cfg.SMSWebhooks != nil {
				wh.Post("/sms/telnyx", cfg.SMSWebhooks.HandleTelnyx)
				wh.Post("/sms/twilio", cfg.SMSWebhooks.HandleTwilio)
			}
			if cfg.VoiceWebhooks != nil {
				wh.Post("/voice", cfg.VoiceWebhooks.Handle)
			}
			if cfg.BillingWebhook != nil {
				wh.Post("/billing", cfg.BillingWebhook.Handle)
			}
		})
	})

	// Internal API, called by our own services.
	if cfg.Transcribe != nil {
		r.Post("/api/calls/{attemptID}/transcribe", cfg.Transcribe.Handle)
	}

	// Operator endpoints behind admin JWT auth.
	if cfg.AdminOps != nil && cfg.AdminAuthSecret != "" {
		r.Group(func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Post("/admin/calls/cleanup", cfg.AdminOps.HandleCleanupStaleCalls)
		})
	}

	return r
}
