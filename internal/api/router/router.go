package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mhire/triage-assistant/internal/conversation"
	"github.com/mhire/triage-assistant/internal/http/handlers"
	httpmiddleware "github.com/mhire/triage-assistant/internal/http/middleware"
	"github.com/mhire/triage-assistant/internal/messaging"
	"github.com/mhire/triage-assistant/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	SystemHandler       *handlers.SystemHandler
	ConversationHandler *conversation.Handler
	MessagingHandler    *messaging.Handler
	MetricsHandler      http.Handler
	CORSAllowedOrigins  []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	system := cfg.SystemHandler
	if system == nil {
		system = handlers.NewSystemHandler(cfg.Logger.Ring(), cfg.Logger)
	}
	r.Group(system.Routes)

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.MessagingHandler != nil {
		r.Route("/messaging", func(r chi.Router) {
			r.Post("/twilio/webhook", cfg.MessagingHandler.TwilioWebhook)
		})
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.ConversationHandler != nil {
			cfg.ConversationHandler.Routes(api)
		}
		if cfg.MessagingHandler != nil {
			cfg.MessagingHandler.Routes(api)
		}
	})

	return r
}
