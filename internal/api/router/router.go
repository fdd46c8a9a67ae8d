// Package router assembles the HTTP surface of the assistant service.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alimlabs/edu-assistant/internal/http/handlers"
	httpmiddleware "github.com/alimlabs/edu-assistant/internal/http/middleware"
	"github.com/alimlabs/edu-assistant/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	ChatHandler    *handlers.ChatHandler
	StatusHandler  *handlers.StatusHandler
	MetricsHandler http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.CallerIdentity())
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/assistant", func(api chi.Router) {
		api.Post("/chat", cfg.ChatHandler.Handle)
		api.Get("/status", cfg.StatusHandler.Handle)
	})

	return r
}
