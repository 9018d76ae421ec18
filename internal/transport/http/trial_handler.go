package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"tracecut/internal/entitlement"
	apierrors "tracecut/internal/errors"
)

// TrialHandler handles trial lifecycle requests
type TrialHandler struct {
	engine *entitlement.Engine
	logger *slog.Logger
}

// NewTrialHandler creates a new trial handler
func NewTrialHandler(engine *entitlement.Engine, logger *slog.Logger) *TrialHandler {
	return &TrialHandler{
		engine: engine,
		logger: logger.With(slog.String("handler", "trial")),
	}
}

// TrialStartRequest is the POST /trial-start payload
type TrialStartRequest struct {
	DeviceID   string `json:"device_id" validate:"required"`
	AppVersion string `json:"app_version,omitempty" validate:"omitempty,max=64"`
}

// Bind implements the render.Binder interface
func (t *TrialStartRequest) Bind(r *http.Request) error {
	return validate.Struct(t)
}

// Start handles POST /trial-start
func (h *TrialHandler) Start(w http.ResponseWriter, r *http.Request) {
	req := &TrialStartRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.InvalidRequest(err.Error()))
		return
	}
	if !deviceIDRe.MatchString(req.DeviceID) {
		render.Render(w, r, apierrors.ErrInvalidDeviceID)
		return
	}

	rec, created, err := h.engine.StartTrial(r.Context(), req.DeviceID, req.AppVersion)
	if err != nil {
		h.renderTrialError(w, r, err)
		return
	}

	if created {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, map[string]any{
		"ok":         true,
		"device_id":  rec.DeviceID,
		"created":    created,
		"started_at": rec.StartedAt,
		"expires_at": rec.ExpiresAt,
	})
}

// GetStatus handles GET /trial-status
func (h *TrialHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	deviceID, apiErr := deviceIDParam(r)
	if apiErr != nil {
		render.Render(w, r, apiErr)
		return
	}

	status, err := h.engine.GetTrial(r.Context(), deviceID)
	if err != nil {
		h.renderTrialError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]any{
		"ok":        true,
		"device_id": deviceID,
		"trial":     status,
	})
}

func (h *TrialHandler) renderTrialError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.ErrorContext(r.Context(), "trial request failed",
		slog.String("error", err.Error()))
	if errors.Is(err, entitlement.ErrStore) {
		render.Render(w, r, apierrors.ErrStoreUnavailable)
		return
	}
	render.Render(w, r, apierrors.ErrInternal)
}
