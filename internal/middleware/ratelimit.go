package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apierrors "tracecut/internal/errors"
	"tracecut/internal/ratelimit"
)

// RateLimit enforces the per-(caller, device) fixed-window budget on a
// route group. The caller identity is a hash of the client IP so raw
// addresses never reach the store. A store failure fails the request
// closed with a 503 rather than silently waving traffic through.
func RateLimit(limiter *ratelimit.Limiter, scope string, logger *slog.Logger) func(next http.Handler) http.Handler {
	meter := otel.Meter("tracecut/middleware")
	limited, _ := meter.Int64Counter("rate_limited_requests_total",
		metric.WithDescription("Requests rejected by the fixed-window limiter"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			caller := callerHash(r)
			deviceID := r.URL.Query().Get("device_id")

			res, err := limiter.Allow(ctx, scope, caller, deviceID)
			if err != nil {
				logger.ErrorContext(ctx, "rate limit check failed",
					"scope", scope,
					"error", err.Error(),
				)
				render.Render(w, r, apierrors.ErrStoreUnavailable)
				return
			}

			if !res.Allowed {
				retryAfter := int(res.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				limited.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
				logger.WarnContext(ctx, "rate limit exceeded",
					"scope", scope,
					"path", r.URL.Path,
					"retry_after", retryAfter,
				)
				render.Render(w, r, apierrors.RateLimited(retryAfter))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// callerHash reduces the client address to a stable anonymous identity
func callerHash(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:8])
}
