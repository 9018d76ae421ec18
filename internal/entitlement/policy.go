package entitlement

import (
	"time"

	"tracecut/internal/config"
)

// Policy carries every interval the reconciliation depends on, plus whether
// a validation provider is configured. It is passed in explicitly so the
// reconcile function stays pure and testable.
type Policy struct {
	TrialDuration      time.Duration
	ActiveRecheck      time.Duration
	InactiveRecheck    time.Duration
	TrialRecheck       time.Duration
	SuspendedRecheck   time.Duration
	StaleGraceWindow   time.Duration
	ValidationBackoff  time.Duration
	ProviderConfigured bool
}

// PolicyFromConfig builds a Policy from configuration
func PolicyFromConfig(cfg config.LicensingConfig, providerConfigured bool) Policy {
	return Policy{
		TrialDuration:      cfg.TrialDuration,
		ActiveRecheck:      cfg.ActiveRecheck,
		InactiveRecheck:    cfg.InactiveRecheck,
		TrialRecheck:       cfg.TrialRecheck,
		SuspendedRecheck:   cfg.SuspendedRecheck,
		StaleGraceWindow:   cfg.StaleGraceWindow,
		ValidationBackoff:  cfg.ValidationBackoff,
		ProviderConfigured: providerConfigured,
	}
}

// recheckFor returns the provider revalidation interval for a cached
// license state after a successful provider call.
func (p Policy) recheckFor(state LicenseState) time.Duration {
	switch state {
	case LicenseActive:
		return p.ActiveRecheck
	case LicenseSuspended, LicenseRevoked:
		return p.SuspendedRecheck
	default:
		return p.InactiveRecheck
	}
}

// pollInterval returns the client-facing poll TTL for a merged entitlement
// state. Trial polling is hard-capped so a client never sleeps past its own
// trial expiry.
func (p Policy) pollInterval(state EntitlementState, trial *TrialRecord, now time.Time) time.Duration {
	switch state {
	case EntitlementLicensed:
		return p.ActiveRecheck
	case EntitlementTrial:
		interval := p.TrialRecheck
		if trial != nil {
			if remaining := trial.ExpiresAt.Sub(now); remaining < interval {
				interval = remaining
			}
		}
		if interval < time.Minute {
			interval = time.Minute
		}
		return interval
	case EntitlementRevoked:
		return p.SuspendedRecheck
	default:
		return p.InactiveRecheck
	}
}

// withinGrace reports whether a last successful validation is recent enough
// to keep trusting cached license fields.
func (p Policy) withinGrace(lastValidated *time.Time, now time.Time) bool {
	if lastValidated == nil {
		return false
	}
	return now.Sub(*lastValidated) <= p.StaleGraceWindow
}
