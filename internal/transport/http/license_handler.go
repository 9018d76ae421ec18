package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"tracecut/internal/entitlement"
	apierrors "tracecut/internal/errors"
)

var validate = validator.New()

// LicenseHandler handles license activation requests
type LicenseHandler struct {
	engine *entitlement.Engine
	logger *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(engine *entitlement.Engine, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		engine: engine,
		logger: logger.With(slog.String("handler", "license")),
	}
}

// ActivationRequest is the POST /license-activate payload
type ActivationRequest struct {
	DeviceID   string `json:"device_id" validate:"required"`
	LicenseKey string `json:"license_key" validate:"required,min=8,max=256"`
	AppVersion string `json:"app_version,omitempty" validate:"omitempty,max=64"`
}

// Bind implements the render.Binder interface
func (a *ActivationRequest) Bind(r *http.Request) error {
	return validate.Struct(a)
}

// Activate handles POST /license-activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	req := &ActivationRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, apierrors.InvalidRequest(err.Error()))
		return
	}
	if !deviceIDRe.MatchString(req.DeviceID) {
		render.Render(w, r, apierrors.ErrInvalidDeviceID)
		return
	}

	res, err := h.engine.Activate(r.Context(), req.DeviceID, req.LicenseKey, req.AppVersion)
	if err != nil {
		h.renderActivationError(w, r, req.DeviceID, err)
		return
	}

	h.logger.InfoContext(r.Context(), "activation succeeded",
		slog.String("device_id", req.DeviceID),
		slog.String("license_last4", res.LicenseLast4))

	render.JSON(w, r, map[string]any{
		"ok":         true,
		"device_id":  req.DeviceID,
		"activation": res,
	})
}

func (h *LicenseHandler) renderActivationError(w http.ResponseWriter, r *http.Request, deviceID string, err error) {
	ctx := r.Context()

	switch {
	case errors.Is(err, entitlement.ErrLicenseInvalid):
		h.logger.InfoContext(ctx, "activation rejected",
			slog.String("device_id", deviceID),
			slog.String("reason", "invalid_key"))
		render.Render(w, r, apierrors.ErrLicenseNotFound)

	case errors.Is(err, entitlement.ErrLicenseSuspended):
		h.logger.WarnContext(ctx, "activation rejected",
			slog.String("device_id", deviceID),
			slog.String("reason", "suspended"))
		render.Render(w, r, apierrors.New(http.StatusForbidden,
			apierrors.CodeProviderRejected, "This license has been suspended"))

	case errors.Is(err, entitlement.ErrDeviceLimit):
		h.logger.InfoContext(ctx, "activation rejected",
			slog.String("device_id", deviceID),
			slog.String("reason", "device_limit"))
		render.Render(w, r, apierrors.ErrDeviceLimit)

	case errors.Is(err, entitlement.ErrProviderUnavailable):
		h.logger.ErrorContext(ctx, "activation failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.New(http.StatusBadGateway,
			apierrors.CodeValidationFailure,
			"License validation is temporarily unavailable. Please try again."))

	case errors.Is(err, entitlement.ErrStore):
		h.logger.ErrorContext(ctx, "activation failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrStoreUnavailable)

	default:
		h.logger.ErrorContext(ctx, "activation failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrInternal)
	}
}
