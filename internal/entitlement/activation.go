package entitlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tracecut/internal/keygen"
	"tracecut/internal/store"
)

// ActivationResult is the outcome of a successful activation
type ActivationResult struct {
	LicenseStatus    LicenseState `json:"license_status"`
	LicenseExpiresAt *time.Time   `json:"license_expires_at,omitempty"`
	LicenseLast4     string       `json:"license_last4,omitempty"`
	Reactivated      bool         `json:"reactivated"`
	Token            string       `json:"token,omitempty"`
	TokenExpiresAt   *time.Time   `json:"token_expires_at,omitempty"`
}

// Activate validates a license key and binds the device to it. The per-key
// device cap is enforced against the device index; re-activating an already
// registered device is idempotent and never grows the set.
func (e *Engine) Activate(ctx context.Context, deviceID, licenseKey, appVersion string) (*ActivationResult, error) {
	now := time.Now().UTC()
	keyHash := HashLicenseKey(licenseKey)

	rec := LicenseRecord{
		DeviceID:       deviceID,
		LicenseKeyHash: keyHash,
		LicenseLast4:   last4(licenseKey),
		ActivatedAt:    now,
		LastSeenAt:     now,
		AppVersion:     appVersion,
	}

	if e.provider != nil {
		v, err := e.provider.ValidateKey(ctx, licenseKey, deviceID)
		if err != nil {
			if errors.Is(err, keygen.ErrNotFound) {
				return nil, ErrLicenseInvalid
			}
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		if v.Suspended {
			return nil, ErrLicenseSuspended
		}
		if !v.Acceptable() {
			return nil, ErrLicenseInvalid
		}

		rec.KeygenLicenseID = v.LicenseID
		rec.LicenseExpiresAt = v.Expiry
		rec.LicenseSuspended = false
		rec.Source = SourceKeygen
		rec.LastValidatedAt = &now
	} else {
		if _, ok := e.allowedKeyHashes[keyHash]; !ok {
			return nil, ErrLicenseInvalid
		}
		rec.Source = SourceAllowlist
	}

	if err := e.claimDeviceSlot(ctx, keyHash, deviceID); err != nil {
		return nil, err
	}

	// Preserve the original activation time when the same device re-activates
	// the same key.
	reactivated := false
	if existing, err := e.loadLicense(ctx, deviceID); err == nil && existing != nil &&
		existing.LicenseKeyHash == keyHash {
		rec.ActivatedAt = existing.ActivatedAt
		reactivated = true
	}

	state := stateFromCache(&rec, now)
	next := now.Add(e.policy.recheckFor(state))
	rec.NextCheckAfter = &next

	if err := e.store.PutJSON(ctx, store.LicenseKey(deviceID), rec); err != nil {
		return nil, fmt.Errorf("%w: persist license: %v", ErrStore, err)
	}

	e.logger.InfoContext(ctx, "license activated",
		slog.String("device_id", deviceID),
		slog.String("license_last4", rec.LicenseLast4),
		slog.String("source", string(rec.Source)),
		slog.Bool("reactivated", reactivated))

	result := &ActivationResult{
		LicenseStatus:    state,
		LicenseExpiresAt: rec.LicenseExpiresAt,
		LicenseLast4:     rec.LicenseLast4,
		Reactivated:      reactivated,
	}
	if e.signer != nil && state == LicenseActive {
		if tok, expires, err := e.signer.Sign(deviceID, string(EntitlementLicensed), true, next); err == nil {
			result.Token = tok
			result.TokenExpiresAt = &expires
		}
	}
	return result, nil
}

// claimDeviceSlot admits deviceID into the license's device set, enforcing
// the cap. Known devices pass without growing the set. The size check and
// the add are separate store calls; the cap can over-admit by at most the
// number of concurrent boundary activations, which the data model accepts.
func (e *Engine) claimDeviceSlot(ctx context.Context, keyHash, deviceID string) error {
	idxKey := store.DeviceIndexKey(keyHash)

	known, err := e.store.SetContains(ctx, idxKey, deviceID)
	if err != nil {
		return fmt.Errorf("%w: device index read: %v", ErrStore, err)
	}
	if known {
		return nil
	}

	size, err := e.store.SetSize(ctx, idxKey)
	if err != nil {
		return fmt.Errorf("%w: device index size: %v", ErrStore, err)
	}
	if size >= int64(e.deviceLimit) {
		return ErrDeviceLimit
	}

	if err := e.store.SetAdd(ctx, idxKey, deviceID); err != nil {
		return fmt.Errorf("%w: device index add: %v", ErrStore, err)
	}
	return nil
}

// HashLicenseKey returns the deterministic lookup hash of a raw key. The
// raw key itself is never stored.
func HashLicenseKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func last4(key string) string {
	if len(key) < 4 {
		return key
	}
	return key[len(key)-4:]
}
