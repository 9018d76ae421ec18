package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tracecut/internal/config"
	"tracecut/internal/entitlement"
	apierrors "tracecut/internal/errors"
)

var deviceIDRe = regexp.MustCompile(config.DeviceIDPattern)

// EntitlementHandler serves the status endpoints desktop clients poll
type EntitlementHandler struct {
	engine *entitlement.Engine
	logger *slog.Logger
}

// NewEntitlementHandler creates a new entitlement handler
func NewEntitlementHandler(engine *entitlement.Engine, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		engine: engine,
		logger: logger.With(slog.String("handler", "entitlement")),
	}
}

// GetStatus handles GET /entitlement-status
func (h *EntitlementHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	tracer := otel.Tracer("entitlement-handler")
	ctx, span := tracer.Start(r.Context(), "handler.entitlement_status",
		trace.WithAttributes(attribute.String("http.method", r.Method)))
	defer span.End()
	r = r.WithContext(ctx)

	deviceID, apiErr := deviceIDParam(r)
	if apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}

	status, err := h.engine.GetStatus(ctx, deviceID, statusOptions(r))
	if err != nil {
		h.renderEngineError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("private, max-age=%d", cacheMaxAge(status.Validation.TTLSeconds)))
	render.JSON(w, r, status)
}

// GetLicenseStatus handles GET /license-status. It is the license
// subset of the full status, kept for clients that only render license UI.
func (h *EntitlementHandler) GetLicenseStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, apiErr := deviceIDParam(r)
	if apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}

	status, err := h.engine.GetStatus(r.Context(), deviceID, statusOptions(r))
	if err != nil {
		h.renderEngineError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]any{
		"ok":          true,
		"device_id":   status.DeviceID,
		"server_time": status.ServerTime,
		"license":     status.License,
		"validation":  status.Validation,
	})
}

func (h *EntitlementHandler) renderEngineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, entitlement.ErrStore) {
		h.logger.ErrorContext(r.Context(), "status request failed",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrStoreUnavailable)
		return
	}
	h.logger.ErrorContext(r.Context(), "status request failed",
		slog.String("error", err.Error()))
	render.Render(w, r, apierrors.ErrInternal)
}

// statusOptions reads the shared status query knobs
func statusOptions(r *http.Request) entitlement.StatusOptions {
	force := r.URL.Query().Get("force")
	return entitlement.StatusOptions{
		AppVersion:    r.URL.Query().Get("app_version"),
		ForceValidate: force == "true" || force == "1",
	}
}

// deviceIDParam extracts and validates the device_id query parameter.
// Validation happens before any store access.
func deviceIDParam(r *http.Request) (string, *apierrors.APIError) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		return "", apierrors.MissingParameter("device_id")
	}
	if !deviceIDRe.MatchString(deviceID) {
		return "", apierrors.ErrInvalidDeviceID
	}
	return deviceID, nil
}

// cacheMaxAge clamps the poll TTL into a small client cache window
func cacheMaxAge(ttlSeconds int64) int64 {
	const (
		floor   = 5
		ceiling = 60
	)
	if ttlSeconds < floor {
		return floor
	}
	if ttlSeconds > ceiling {
		return ceiling
	}
	return ttlSeconds
}
