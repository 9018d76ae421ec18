package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"tracecut/internal/store"
)

// HealthHandler reports process and dependency health
type HealthHandler struct {
	store              store.Store
	logger             *slog.Logger
	version            string
	providerConfigured bool
	started            time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(st store.Store, version string, providerConfigured bool, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:              st,
		logger:             logger.With(slog.String("handler", "health")),
		version:            version,
		providerConfigured: providerConfigured,
		started:            time.Now().UTC(),
	}
}

// Healthz handles GET /healthz. The store is the only hard dependency;
// the validation provider being down degrades decisions but does not make
// the service unhealthy.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeStatus := "ok"
	healthy := true
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WarnContext(r.Context(), "store health check failed",
			slog.String("error", err.Error()))
		storeStatus = "unavailable"
		healthy = false
	}

	if !healthy {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, map[string]any{
		"ok":                  healthy,
		"version":             h.version,
		"uptime_seconds":      int64(time.Since(h.started).Seconds()),
		"provider_configured": h.providerConfigured,
		"checks": map[string]string{
			"store": storeStatus,
		},
	})
}
