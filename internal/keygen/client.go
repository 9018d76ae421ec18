// Package keygen is the client for the license validation provider. It is
// the only component allowed to decide what the provider "currently says";
// callers translate transport failures into the stale/grace policy.
package keygen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tracecut/internal/config"
)

// Provider status values as we normalize them
const (
	StatusActive    = "ACTIVE"
	StatusInactive  = "INACTIVE"
	StatusExpired   = "EXPIRED"
	StatusSuspended = "SUSPENDED"
	StatusBanned    = "BANNED"
)

var (
	// ErrNotFound means the provider definitively does not know the license.
	ErrNotFound = errors.New("keygen: license not found")
	// ErrUnavailable wraps transient transport or server-side failures.
	ErrUnavailable = errors.New("keygen: provider unavailable")
)

// LicenseSnapshot is the provider's current view of one license
type LicenseSnapshot struct {
	ID        string
	Status    string
	Suspended bool
	Expiry    *time.Time
	KeyLast4  string
}

// KeyValidation is the outcome of validating a raw license key
type KeyValidation struct {
	Valid     bool
	Code      string
	LicenseID string
	Status    string
	Suspended bool
	Expiry    *time.Time
	KeyLast4  string
}

// Acceptable reports whether the key itself is good, regardless of machine
// scoping. Device registration is enforced by our own device index, so
// machine-scope validation codes do not reject an activation.
func (v *KeyValidation) Acceptable() bool {
	if v.Valid {
		return true
	}
	switch v.Code {
	case "NO_MACHINE", "NO_MACHINES", "FINGERPRINT_SCOPE_MISMATCH":
		return true
	}
	return false
}

// Client talks to the Keygen account API
type Client struct {
	baseURL   string
	accountID string
	token     string
	httpc     *http.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewClient creates a provider client, or nil when the provider is not
// configured. Callers treat a nil client as "provider absent".
func NewClient(cfg config.KeygenConfig, logger *slog.Logger) *Client {
	if !cfg.Configured() {
		return nil
	}
	rps := cfg.MaxCallsPerSecond
	if rps <= 0 {
		rps = 10
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accountID: cfg.AccountID,
		token:     cfg.Token,
		httpc:     &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		logger:    logger.With(slog.String("component", "keygen")),
	}
}

// GetLicense fetches the provider's current truth for a license id.
func (c *Client) GetLicense(ctx context.Context, licenseID string) (*LicenseSnapshot, error) {
	url := fmt.Sprintf("%s/accounts/%s/licenses/%s", c.baseURL, c.accountID, licenseID)

	body, status, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, ErrNotFound
	case status != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}

	var resp licenseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	return &LicenseSnapshot{
		ID:        resp.Data.ID,
		Status:    strings.ToUpper(resp.Data.Attributes.Status),
		Suspended: resp.Data.Attributes.Suspended || isSuspendedStatus(resp.Data.Attributes.Status),
		Expiry:    parseExpiry(resp.Data.Attributes.Expiry),
		KeyLast4:  last4(resp.Data.Attributes.Key),
	}, nil
}

// ValidateKey validates a raw license key, optionally scoped to a device
// fingerprint.
func (c *Client) ValidateKey(ctx context.Context, key, fingerprint string) (*KeyValidation, error) {
	url := fmt.Sprintf("%s/accounts/%s/licenses/actions/validate-key", c.baseURL, c.accountID)

	req := validateKeyRequest{Meta: validateKeyMeta{Key: key}}
	if fingerprint != "" {
		req.Meta.Scope = &fingerprintScope{Fingerprint: fingerprint}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal validate-key request: %w", err)
	}

	body, status, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, status)
	}

	var resp validateKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	v := &KeyValidation{
		Valid:     resp.Meta.Valid,
		Code:      resp.Meta.Code,
		LicenseID: resp.Data.ID,
		Status:    strings.ToUpper(resp.Data.Attributes.Status),
		Suspended: resp.Data.Attributes.Suspended || isSuspendedStatus(resp.Data.Attributes.Status),
		Expiry:    parseExpiry(resp.Data.Attributes.Expiry),
		KeyLast4:  last4(key),
	}
	if v.Code == "NOT_FOUND" {
		return nil, ErrNotFound
	}
	return v, nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.api+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "Tracecut-License-Client/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/vnd.api+json")
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "provider request failed",
			slog.String("method", method),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		c.logger.WarnContext(ctx, "provider returned server error",
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)),
		)
		return nil, 0, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	return data, resp.StatusCode, nil
}

func isSuspendedStatus(status string) bool {
	switch strings.ToUpper(status) {
	case StatusSuspended, StatusBanned:
		return true
	}
	return false
}

func parseExpiry(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func last4(key string) string {
	if len(key) < 4 {
		return key
	}
	return key[len(key)-4:]
}
