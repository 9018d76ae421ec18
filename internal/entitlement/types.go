package entitlement

import "time"

// TrialState classifies a device's trial window
type TrialState string

const (
	TrialNone    TrialState = "none"
	TrialActive  TrialState = "active"
	TrialExpired TrialState = "expired"
)

// LicenseState classifies a device's license mapping
type LicenseState string

const (
	LicenseNone      LicenseState = "none"
	LicenseActive    LicenseState = "active"
	LicenseInactive  LicenseState = "inactive"
	LicenseExpired   LicenseState = "expired"
	LicenseSuspended LicenseState = "suspended"
	LicenseRevoked   LicenseState = "revoked"
	LicenseUnknown   LicenseState = "unknown"
)

// ValidationState reports how trustworthy the license fields are
type ValidationState string

const (
	ValidationFresh      ValidationState = "fresh"
	ValidationStale      ValidationState = "stale"
	ValidationUnverified ValidationState = "unverified"
)

// EntitlementState is the single merged decision
type EntitlementState string

const (
	EntitlementLicensed EntitlementState = "licensed"
	EntitlementTrial    EntitlementState = "trial"
	EntitlementInactive EntitlementState = "inactive"
	EntitlementRevoked  EntitlementState = "revoked"
)

// Reason codes carried on every decision
const (
	ReasonLicenseActive      = "license_active"
	ReasonLicenseActiveStale = "license_active_stale"
	ReasonTrialActive        = "trial_active"
	ReasonTrialExpired       = "trial_expired"
	ReasonLicenseExpired     = "license_expired"
	ReasonLicenseRevoked     = "license_revoked"
	ReasonLicenseUnverified  = "license_unverified"
	ReasonNoEntitlement      = "no_entitlement"
)

// LicenseSource tags where a license record came from
type LicenseSource string

const (
	SourceKeygen    LicenseSource = "keygen"
	SourceAllowlist LicenseSource = "allowlist"
	SourceUnknown   LicenseSource = "unknown"
)

// TrialRecord is the durable per-device trial state. expires_at is fixed at
// creation and never recomputed; records are never deleted.
type TrialRecord struct {
	DeviceID   string    `json:"device_id"`
	StartedAt  time.Time `json:"started_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	AppVersion string    `json:"app_version,omitempty"`
}

// LicenseRecord is the durable per-device license mapping. A device holds at
// most one at a time. The raw key is never stored.
type LicenseRecord struct {
	DeviceID         string        `json:"device_id"`
	LicenseKeyHash   string        `json:"license_key_hash"`
	LicenseLast4     string        `json:"license_last4,omitempty"`
	KeygenLicenseID  string        `json:"keygen_license_id,omitempty"`
	LicenseExpiresAt *time.Time    `json:"license_expires_at,omitempty"`
	LicenseSuspended bool          `json:"license_suspended"`
	Source           LicenseSource `json:"source"`
	LastValidatedAt  *time.Time    `json:"last_validated_at,omitempty"`
	NextCheckAfter   *time.Time    `json:"next_check_after,omitempty"`
	ActivatedAt      time.Time     `json:"activated_at"`
	LastSeenAt       time.Time     `json:"last_seen_at"`
	AppVersion       string        `json:"app_version,omitempty"`
}

// Heartbeat is the best-effort last-seen marker for a device
type Heartbeat struct {
	DeviceID   string    `json:"device_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	AppVersion string    `json:"app_version,omitempty"`
}

// TrialStatus is the trial portion of a status response
type TrialStatus struct {
	State            TrialState `json:"state"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
}

// LicenseStatus is the license portion of a status response
type LicenseStatus struct {
	State           LicenseState  `json:"state"`
	KeyLast4        string        `json:"key_last4,omitempty"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	KeygenLicenseID string        `json:"keygen_license_id,omitempty"`
	Source          LicenseSource `json:"source,omitempty"`
}

// ValidationStatus is the revalidation bookkeeping portion of a status
// response
type ValidationStatus struct {
	State           ValidationState `json:"state"`
	LastValidatedAt *time.Time      `json:"last_validated_at,omitempty"`
	NextCheckAfter  *time.Time      `json:"next_check_after,omitempty"`
	TTLSeconds      int64           `json:"ttl_seconds"`
	Error           string          `json:"error,omitempty"`
}

// Entitlement is the merged decision portion of a status response
type Entitlement struct {
	State     EntitlementState `json:"state"`
	CanExport bool             `json:"can_export"`
	Reason    string           `json:"reason"`
}

// EntitlementStatus is the full response of a status request. It is derived
// fresh on every call and never persisted, so it always reflects the latest
// merge policy.
type EntitlementStatus struct {
	OK             bool             `json:"ok"`
	DeviceID       string           `json:"device_id"`
	ServerTime     time.Time        `json:"server_time"`
	Entitlement    Entitlement      `json:"entitlement"`
	Trial          TrialStatus      `json:"trial"`
	License        LicenseStatus    `json:"license"`
	Validation     ValidationStatus `json:"validation"`
	Token          string           `json:"token,omitempty"`
	TokenExpiresAt *time.Time       `json:"token_expires_at,omitempty"`
}
