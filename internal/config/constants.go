package config

import "time"

// Entitlement policy constants. Released desktop clients cache decisions
// until next_check_after, so changing these shifts behavior fleet-wide only
// as clients poll back in.
const (
	// TrialDuration is the fixed trial window, set once at creation.
	TrialDuration = 7 * 24 * time.Hour

	// DefaultDeviceLimit caps devices per license key.
	DefaultDeviceLimit = 2

	// ActiveRecheck is how long a successful active validation is trusted.
	ActiveRecheck = 6 * time.Hour

	// InactiveRecheck applies to expired or unknown license states.
	InactiveRecheck = 12 * time.Hour

	// TrialRecheck is the trial poll interval, never extending past the
	// trial expiry itself.
	TrialRecheck = time.Hour

	// SuspendedRecheck applies to suspended licenses; suspensions rarely
	// flip quickly.
	SuspendedRecheck = 24 * time.Hour

	// StaleGraceWindow is how long a prior successful validation keeps an
	// active license usable while the provider is unreachable.
	StaleGraceWindow = 24 * time.Hour

	// ValidationBackoff is the retry delay after a failed provider call.
	ValidationBackoff = 15 * time.Minute
)

// DeviceIDPattern is the accepted device identifier format: 8-128 URL-safe
// characters, starting alphanumeric.
const DeviceIDPattern = `^[A-Za-z0-9][A-Za-z0-9._:-]{7,127}$`
