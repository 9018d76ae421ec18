package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"tracecut/internal/keygen"
	"tracecut/internal/store"
	"tracecut/internal/token"
)

// Sentinel errors surfaced to the transport layer
var (
	// ErrStore means the key-value backend failed; there is no fallback.
	ErrStore = errors.New("entitlement: store unavailable")
	// ErrLicenseInvalid means the key was rejected definitively.
	ErrLicenseInvalid = errors.New("entitlement: license key invalid")
	// ErrLicenseSuspended means the key exists but is suspended.
	ErrLicenseSuspended = errors.New("entitlement: license suspended")
	// ErrDeviceLimit means the per-license device cap is reached.
	ErrDeviceLimit = errors.New("entitlement: device limit reached")
	// ErrProviderUnavailable means activation could not be verified and
	// no fallback exists for it.
	ErrProviderUnavailable = errors.New("entitlement: validation provider unavailable")
)

// Provider is the slice of the validation provider the engine needs
type Provider interface {
	GetLicense(ctx context.Context, licenseID string) (*keygen.LicenseSnapshot, error)
	ValidateKey(ctx context.Context, key, fingerprint string) (*keygen.KeyValidation, error)
}

// StatusOptions are the per-request knobs of a status call
type StatusOptions struct {
	AppVersion    string
	ForceValidate bool
}

// Engine produces entitlement decisions for devices. It is stateless;
// all shared state lives in the store.
type Engine struct {
	store    store.Store
	provider Provider // nil when no provider is configured
	policy   Policy
	signer   *token.Signer // nil when signing is disabled
	logger   *slog.Logger

	allowedKeyHashes map[string]struct{}
	deviceLimit      int

	decisions   metric.Int64Counter
	validations metric.Int64Counter
}

// NewEngine wires an engine. provider and signer may be nil.
func NewEngine(st store.Store, provider Provider, policy Policy, signer *token.Signer, allowedKeys []string, deviceLimit int, logger *slog.Logger) *Engine {
	meter := otel.Meter("tracecut/entitlement")
	decisions, _ := meter.Int64Counter("entitlement_decisions_total",
		metric.WithDescription("Entitlement decisions by merged state"))
	validations, _ := meter.Int64Counter("provider_validations_total",
		metric.WithDescription("Provider validation calls by result"))

	allowed := make(map[string]struct{}, len(allowedKeys))
	for _, h := range allowedKeys {
		allowed[h] = struct{}{}
	}
	if deviceLimit <= 0 {
		deviceLimit = 2
	}

	return &Engine{
		store:            st,
		provider:         provider,
		policy:           policy,
		signer:           signer,
		logger:           logger.With(slog.String("component", "entitlement")),
		allowedKeyHashes: allowed,
		deviceLimit:      deviceLimit,
		decisions:        decisions,
		validations:      validations,
	}
}

// Policy exposes the engine's reconciliation policy
func (e *Engine) Policy() Policy { return e.policy }

// GetStatus computes the authoritative entitlement decision for a device.
// Provider failures degrade per the grace policy; only store failures on the
// record loads return an error (wrapped in ErrStore).
func (e *Engine) GetStatus(ctx context.Context, deviceID string, opts StatusOptions) (*EntitlementStatus, error) {
	tracer := otel.Tracer("entitlement-engine")
	ctx, span := tracer.Start(ctx, "entitlement.get_status",
		trace.WithAttributes(attribute.String("device_id", deviceID)))
	defer span.End()

	now := time.Now().UTC()

	// Step 1: heartbeat, best-effort.
	e.touchHeartbeat(ctx, deviceID, opts.AppVersion, now)

	trial, err := e.loadTrial(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	lic, err := e.loadLicense(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	var outcome *ProviderOutcome
	if e.provider != nil && lic != nil && lic.KeygenLicenseID != "" && e.revalidationDue(lic, now, opts.ForceValidate) {
		outcome = e.validateRemote(ctx, lic)
	}

	dec := Reconcile(Input{
		DeviceID: deviceID,
		Now:      now,
		Trial:    trial,
		License:  lic,
		Outcome:  outcome,
		Policy:   e.policy,
	})

	e.persistAfterDecision(ctx, trial, lic, dec.UpdatedLicense, opts.AppVersion, now)

	status := dec.Status
	e.attachToken(ctx, &status)

	e.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(status.Entitlement.State)),
		attribute.String("reason", status.Entitlement.Reason),
	))
	span.SetAttributes(
		attribute.String("entitlement.state", string(status.Entitlement.State)),
		attribute.String("entitlement.reason", status.Entitlement.Reason),
		attribute.Bool("provider.contacted", outcome != nil),
	)

	return &status, nil
}

// revalidationDue applies the cached schedule: due when forced, never
// scheduled, or the schedule has elapsed.
func (e *Engine) revalidationDue(lic *LicenseRecord, now time.Time, force bool) bool {
	if force {
		return true
	}
	if lic.NextCheckAfter == nil {
		return true
	}
	return !now.Before(*lic.NextCheckAfter)
}

// validateRemote asks the provider for current truth. All failures are
// folded into the outcome; nothing here aborts the request.
func (e *Engine) validateRemote(ctx context.Context, lic *LicenseRecord) *ProviderOutcome {
	snap, err := e.provider.GetLicense(ctx, lic.KeygenLicenseID)
	if err != nil {
		e.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		e.logger.WarnContext(ctx, "provider validation failed",
			slog.String("device_id", lic.DeviceID),
			slog.String("keygen_license_id", lic.KeygenLicenseID),
			slog.String("error", err.Error()),
		)
		return &ProviderOutcome{Err: err}
	}

	e.validations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	return &ProviderOutcome{
		Suspended: snap.Suspended,
		Expiry:    snap.Expiry,
	}
}

// persistAfterDecision refreshes last-seen bookkeeping and writes back any
// cached validation fields the reconciliation changed. The decision is
// already made, so failures here are logged, never surfaced.
func (e *Engine) persistAfterDecision(ctx context.Context, trial *TrialRecord, lic, updated *LicenseRecord, appVersion string, now time.Time) {
	if trial != nil {
		cp := *trial
		cp.LastSeenAt = now
		if appVersion != "" {
			cp.AppVersion = appVersion
		}
		if err := e.store.PutJSON(ctx, store.TrialKey(cp.DeviceID), cp); err != nil {
			e.logger.WarnContext(ctx, "failed to refresh trial record",
				slog.String("device_id", cp.DeviceID),
				slog.String("error", err.Error()))
		}
	}

	rec := updated
	if rec == nil && lic != nil {
		cp := *lic
		rec = &cp
	}
	if rec != nil {
		rec.LastSeenAt = now
		if appVersion != "" {
			rec.AppVersion = appVersion
		}
		if err := e.store.PutJSON(ctx, store.LicenseKey(rec.DeviceID), rec); err != nil {
			e.logger.WarnContext(ctx, "failed to persist license record",
				slog.String("device_id", rec.DeviceID),
				slog.String("error", err.Error()))
		}
	}
}

// attachToken signs the decision for client-side caching when signing is
// enabled. Best-effort: a signing failure only loses the token.
func (e *Engine) attachToken(ctx context.Context, status *EntitlementStatus) {
	if e.signer == nil || status.Validation.NextCheckAfter == nil {
		return
	}
	tok, expires, err := e.signer.Sign(status.DeviceID,
		string(status.Entitlement.State),
		status.Entitlement.CanExport,
		*status.Validation.NextCheckAfter)
	if err != nil {
		e.logger.WarnContext(ctx, "failed to sign entitlement token",
			slog.String("device_id", status.DeviceID),
			slog.String("error", err.Error()))
		return
	}
	status.Token = tok
	status.TokenExpiresAt = &expires
}

func (e *Engine) touchHeartbeat(ctx context.Context, deviceID, appVersion string, now time.Time) {
	hb := Heartbeat{DeviceID: deviceID, LastSeenAt: now, AppVersion: appVersion}
	if err := e.store.PutJSON(ctx, store.HeartbeatKey(deviceID), hb); err != nil {
		e.logger.DebugContext(ctx, "heartbeat write failed",
			slog.String("device_id", deviceID),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) loadTrial(ctx context.Context, deviceID string) (*TrialRecord, error) {
	var rec TrialRecord
	err := e.store.GetJSON(ctx, store.TrialKey(deviceID), &rec)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load trial: %v", ErrStore, err)
	}
	return &rec, nil
}

func (e *Engine) loadLicense(ctx context.Context, deviceID string) (*LicenseRecord, error) {
	var rec LicenseRecord
	err := e.store.GetJSON(ctx, store.LicenseKey(deviceID), &rec)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load license: %v", ErrStore, err)
	}
	return &rec, nil
}
