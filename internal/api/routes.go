package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/pixelrelay/internal/config"
)

// SetupRoutes configures the ingestion, disguised, pixel, cookie-sync,
// health and metrics routes.
func SetupRoutes(h *Handlers, hc *HealthChecker, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	// Beacons arrive from every site a channel is installed on; the channel
	// allow-list is enforced by the admission gate.
	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Request-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if hc != nil {
		r.Get("/health", hc.HandleHealth)
		r.Get("/health/live", hc.HandleLiveness)
		r.Get("/health/ready", hc.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimit.Requests > 0 {
		limit = httprate.LimitByIP(cfg.RateLimit.Requests, cfg.RateLimit.Window())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limit)
		r.Post("/events", h.HandleEvents)
		r.Get("/pixel.gif", h.HandlePixel)
		r.Post("/cookie-sync", h.HandleCookieSync)
	})

	prefix := "/" + strings.Trim(cfg.Server.DisguisePrefix, "/")
	r.Route(prefix, func(r chi.Router) {
		r.Use(limit)
		r.Post("/collect", h.HandleCollect)
		r.Get("/p.gif", h.HandlePixel)
	})

	return r
}
