// Package http wires the licensing API's HTTP surface: routing,
// request validation, and the JSON envelopes desktop clients consume.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracecut/internal/config"
	"tracecut/internal/entitlement"
	"tracecut/internal/middleware"
	"tracecut/internal/ratelimit"
	"tracecut/internal/store"
)

// RouterConfig carries everything the router needs
type RouterConfig struct {
	Engine   *entitlement.Engine
	Store    store.Store
	Limiter  *ratelimit.Limiter
	Registry *prometheus.Registry
	Config   *config.Config
	Version  string
	Logger   *slog.Logger
}

// NewRouter builds the service's HTTP routes
func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.StructuredLogger(rc.Logger))
	r.Use(middleware.Recoverer(rc.Logger))
	r.Use(chimiddleware.Timeout(rc.Config.Server.RequestTimeout))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	health := NewHealthHandler(rc.Store, rc.Version, rc.Config.Keygen.Configured(), rc.Logger)
	r.Get("/healthz", health.Healthz)

	if rc.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(rc.Registry, promhttp.HandlerOpts{}))
	}

	entitlementHandler := NewEntitlementHandler(rc.Engine, rc.Logger)
	licenseHandler := NewLicenseHandler(rc.Engine, rc.Logger)
	trialHandler := NewTrialHandler(rc.Engine, rc.Logger)

	r.Group(func(api chi.Router) {
		if rc.Limiter != nil && rc.Config.RateLimit.Enabled {
			api.Use(middleware.RateLimit(rc.Limiter, "api", rc.Logger))
		}

		api.Get("/entitlement-status", entitlementHandler.GetStatus)
		api.Get("/license-status", entitlementHandler.GetLicenseStatus)
		api.Post("/license-activate", licenseHandler.Activate)
		api.Post("/trial-start", trialHandler.Start)
		api.Get("/trial-status", trialHandler.GetStatus)
	})

	return r
}
