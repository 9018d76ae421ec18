package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracecut/internal/config"
	"tracecut/internal/entitlement"
	"tracecut/internal/ratelimit"
	"tracecut/internal/store"
)

const testLicenseKey = "TRACE-AAAA-BBBB-CCCC-ZZ99"

func newTestRouter(t *testing.T) (http.Handler, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()

	policy := entitlement.PolicyFromConfig(cfg.Licensing, false)
	engine := entitlement.NewEngine(st, nil, policy, nil,
		[]string{entitlement.HashLicenseKey(testLicenseKey)}, 2, logger)

	router := NewRouter(RouterConfig{
		Engine:  engine,
		Store:   st,
		Limiter: ratelimit.New(st, cfg.RateLimit),
		Config:  cfg,
		Version: "test",
		Logger:  logger,
	})
	return router, st
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.9:51000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "test", body["version"])
}

func TestEntitlementStatusMissingDeviceID(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/entitlement-status", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_parameter", decodeBody(t, rec)["error"])
}

func TestEntitlementStatusRejectsMalformedDeviceID(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/entitlement-status?device_id=bad/id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_device_id", decodeBody(t, rec)["error"])
}

func TestEntitlementStatusUnknownDevice(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/entitlement-status?device_id=device-abc-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Cache-Control"))

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	ent := body["entitlement"].(map[string]any)
	assert.Equal(t, "inactive", ent["state"])
	assert.Equal(t, "no_entitlement", ent["reason"])
	assert.Equal(t, false, ent["can_export"])
}

func TestTrialLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/trial-start",
		map[string]string{"device_id": "device-abc-0001", "app_version": "1.4.0"})
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeBody(t, rec)
	assert.Equal(t, true, first["created"])

	// Repeat call keeps the original window.
	rec = doJSON(t, router, http.MethodPost, "/trial-start",
		map[string]string{"device_id": "device-abc-0001"})
	require.Equal(t, http.StatusOK, rec.Code)
	second := decodeBody(t, rec)
	assert.Equal(t, false, second["created"])
	assert.Equal(t, first["expires_at"], second["expires_at"])

	rec = doJSON(t, router, http.MethodGet, "/trial-status?device_id=device-abc-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trial := decodeBody(t, rec)["trial"].(map[string]any)
	assert.Equal(t, "active", trial["state"])

	rec = doJSON(t, router, http.MethodGet, "/entitlement-status?device_id=device-abc-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ent := decodeBody(t, rec)["entitlement"].(map[string]any)
	assert.Equal(t, "trial", ent["state"])
	assert.Equal(t, true, ent["can_export"])
}

func TestTrialStartRejectsMissingDeviceID(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/trial-start",
		map[string]string{"app_version": "1.4.0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeBody(t, rec)["error"])
}

func TestActivateAllowlistedKey(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/license-activate",
		map[string]string{"device_id": "device-abc-0001", "license_key": testLicenseKey})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	activation := body["activation"].(map[string]any)
	assert.Equal(t, "active", activation["license_status"])
	assert.Equal(t, "ZZ99", activation["license_last4"])

	rec = doJSON(t, router, http.MethodGet, "/license-status?device_id=device-abc-0001", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	lic := decodeBody(t, rec)["license"].(map[string]any)
	assert.Equal(t, "active", lic["state"])
	assert.Equal(t, "allowlist", lic["source"])
}

func TestActivateUnknownKey(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/license-activate",
		map[string]string{"device_id": "device-abc-0001", "license_key": "TRACE-NOT-A-REAL-KEY"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "license_not_found", decodeBody(t, rec)["error"])
}

func TestActivateDeviceLimit(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, device := range []string{"device-abc-0001", "device-abc-0002"} {
		rec := doJSON(t, router, http.MethodPost, "/license-activate",
			map[string]string{"device_id": device, "license_key": testLicenseKey})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, router, http.MethodPost, "/license-activate",
		map[string]string{"device_id": "device-abc-0003", "license_key": testLicenseKey})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "device_limit", decodeBody(t, rec)["error"])
}

func TestRateLimitOnAPIRoutes(t *testing.T) {
	st := store.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.RateLimit.Limit = 2
	cfg.RateLimit.Window = time.Minute

	policy := entitlement.PolicyFromConfig(cfg.Licensing, false)
	engine := entitlement.NewEngine(st, nil, policy, nil, nil, 2, logger)
	router := NewRouter(RouterConfig{
		Engine:  engine,
		Store:   st,
		Limiter: ratelimit.New(st, cfg.RateLimit),
		Config:  cfg,
		Version: "test",
		Logger:  logger,
	})

	for i := 0; i < 2; i++ {
		rec := doJSON(t, router, http.MethodGet, "/entitlement-status?device_id=device-abc-0001", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/entitlement-status?device_id=device-abc-0001", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Health stays reachable regardless of API budgets.
	rec = doJSON(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
