package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracecut/internal/config"
	"tracecut/internal/infrastructure"
	"tracecut/internal/ratelimit"
	"tracecut/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequestIDGeneratesAndPropagates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetReqID(r.Context())
		assert.Equal(t, seen, infrastructure.GetTraceID(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDHonorsIncomingHeader(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "client-supplied-id", GetReqID(r.Context()))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-supplied-id")
	handler.ServeHTTP(httptest.NewRecorder(), req)
}

func TestRecovererReturnsErrorEnvelope(t *testing.T) {
	handler := Recoverer(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"internal_error"`)
	assert.Contains(t, rec.Body.String(), `"ok":false`)
}

func TestRateLimitAllowsWithinBudget(t *testing.T) {
	limiter := ratelimit.New(store.NewMemoryStore(), config.RateLimitConfig{
		Window: time.Minute,
		Limit:  2,
	})
	handler := RateLimit(limiter, "status", discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/entitlement-status?device_id=device-abc-0001", nil)
		req.RemoteAddr = "203.0.113.9:51000"
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitRejectsOverBudget(t *testing.T) {
	limiter := ratelimit.New(store.NewMemoryStore(), config.RateLimitConfig{
		Window: time.Minute,
		Limit:  1,
	})
	handler := RateLimit(limiter, "status", discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/entitlement-status?device_id=device-abc-0001", nil)
	req.RemoteAddr = "203.0.113.9:51000"
	handler.ServeHTTP(first, req)
	require.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/entitlement-status?device_id=device-abc-0001", nil)
	req.RemoteAddr = "203.0.113.9:51001"
	handler.ServeHTTP(second, req)

	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), `"rate_limited"`)
}

func TestRateLimitIsolatesCallers(t *testing.T) {
	limiter := ratelimit.New(store.NewMemoryStore(), config.RateLimitConfig{
		Window: time.Minute,
		Limit:  1,
	})
	handler := RateLimit(limiter, "status", discardLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/entitlement-status?device_id=device-abc-0001", nil)
	req.RemoteAddr = "203.0.113.9:51000"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	other := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/entitlement-status?device_id=device-abc-0001", nil)
	req.RemoteAddr = "198.51.100.4:51000"
	handler.ServeHTTP(other, req)

	assert.Equal(t, http.StatusOK, other.Code)
}
