package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tracecut/internal/store"
)

// StartTrial creates a device's trial window, or returns the existing one.
// Creation is idempotent: the original window is never reset, so repeated
// installs cannot extend a trial.
func (e *Engine) StartTrial(ctx context.Context, deviceID, appVersion string) (*TrialRecord, bool, error) {
	now := time.Now().UTC()

	existing, err := e.loadTrial(ctx, deviceID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		cp := *existing
		cp.LastSeenAt = now
		if appVersion != "" {
			cp.AppVersion = appVersion
		}
		if err := e.store.PutJSON(ctx, store.TrialKey(deviceID), cp); err != nil {
			e.logger.WarnContext(ctx, "failed to refresh trial record",
				slog.String("device_id", deviceID),
				slog.String("error", err.Error()))
		}
		return &cp, false, nil
	}

	rec := TrialRecord{
		DeviceID:   deviceID,
		StartedAt:  now,
		ExpiresAt:  now.Add(e.policy.TrialDuration),
		LastSeenAt: now,
		AppVersion: appVersion,
	}
	if err := e.store.PutJSON(ctx, store.TrialKey(deviceID), rec); err != nil {
		return nil, false, fmt.Errorf("%w: create trial: %v", ErrStore, err)
	}

	e.logger.InfoContext(ctx, "trial started",
		slog.String("device_id", deviceID),
		slog.Time("expires_at", rec.ExpiresAt))

	return &rec, true, nil
}

// GetTrial returns the device's trial window, classified against now, or a
// TrialNone status when no trial exists.
func (e *Engine) GetTrial(ctx context.Context, deviceID string) (TrialStatus, error) {
	rec, err := e.loadTrial(ctx, deviceID)
	if err != nil {
		return TrialStatus{}, err
	}
	return classifyTrial(rec, time.Now().UTC()), nil
}
