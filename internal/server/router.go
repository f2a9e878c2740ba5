package server

import (
	"net/http"

	"github.com/cloo-solutions/creditrust/internal/api"
	"github.com/cloo-solutions/creditrust/internal/api/handlers"
	"github.com/cloo-solutions/creditrust/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	AskHandler *handlers.AskHandler
	Logger     zerolog.Logger
	// Collection tags request traces.
	Collection string
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.Sentry(cfg.Collection))
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/ask", cfg.AskHandler.Ask)
	r.Get("/products", cfg.AskHandler.Products)
	r.Get("/stats", cfg.AskHandler.Stats)

	return r
}
