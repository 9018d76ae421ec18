package entitlement

import "time"

// ProviderOutcome is the result of a provider call made for this request.
// A nil *ProviderOutcome means no call was made (revalidation not due or
// provider absent). Err set means the call failed transiently.
type ProviderOutcome struct {
	Suspended bool
	Expiry    *time.Time
	Err       error
}

// Input is everything Reconcile may look at. All store and provider I/O
// happens outside; Reconcile itself is a pure function of its input.
type Input struct {
	DeviceID string
	Now      time.Time
	Trial    *TrialRecord
	License  *LicenseRecord
	Outcome  *ProviderOutcome
	Policy   Policy
}

// Decision is the reconciliation result: the wire-ready status plus an
// updated license record for the caller to persist when cached validation
// fields changed.
type Decision struct {
	Status         EntitlementStatus
	UpdatedLicense *LicenseRecord
}

// Reconcile merges trial state, cached license state, and an optional
// provider outcome into a single entitlement decision with a poll schedule.
//
// Suspension is a strict deny. A provider failure degrades to the cached
// state only inside the grace window, and only when that cached state was
// active; a device with no validation history is never granted entitlement
// on provider silence.
func Reconcile(in Input) Decision {
	now := in.Now

	trialStatus := classifyTrial(in.Trial, now)

	licState := LicenseNone
	valState := ValidationUnverified
	valError := ""
	var lastValidated, cachedNext *time.Time
	var updated *LicenseRecord

	if lic := in.License; lic != nil {
		cp := *lic
		lastValidated = cp.LastValidatedAt

		switch {
		case in.Policy.ProviderConfigured && cp.KeygenLicenseID == "":
			// Activation never completed against the provider (or the
			// record predates the provider). Never entitled.
			licState = LicenseUnknown
			valState = ValidationUnverified
			valError = ReasonLicenseUnverified
			next := now.Add(in.Policy.ValidationBackoff)
			cp.NextCheckAfter = &next
			updated = &cp

		case in.Outcome != nil && in.Outcome.Err == nil:
			// Fresh provider truth.
			cp.LicenseSuspended = in.Outcome.Suspended
			cp.LicenseExpiresAt = in.Outcome.Expiry
			licState = stateFromCache(&cp, now)
			validatedAt := now
			cp.LastValidatedAt = &validatedAt
			lastValidated = &validatedAt
			next := now.Add(in.Policy.recheckFor(licState))
			cp.NextCheckAfter = &next
			valState = ValidationFresh
			updated = &cp

		case in.Outcome != nil:
			// Provider unreachable: short backoff, degrade to cache.
			next := now.Add(in.Policy.ValidationBackoff)
			cp.NextCheckAfter = &next
			updated = &cp
			valError = "validation_unavailable"

			provisional := stateFromCache(&cp, now)
			if provisional == LicenseActive && in.Policy.withinGrace(lastValidated, now) {
				licState = LicenseActive
				valState = ValidationStale
			} else {
				licState = LicenseUnknown
				valState = ValidationUnverified
			}

		default:
			// Revalidation not due: reuse cached fields as-is.
			licState = stateFromCache(&cp, now)
			if cp.LastValidatedAt != nil {
				valState = ValidationFresh
			} else {
				valState = ValidationUnverified
			}
		}

		// Staleness promotion: unknown with a recent successful validation
		// of an active license is still usable. Records with no provider id
		// are excluded above, and a cached suspension never promotes.
		if licState == LicenseUnknown &&
			!(in.Policy.ProviderConfigured && cp.KeygenLicenseID == "") &&
			!cp.LicenseSuspended &&
			!cacheExpired(&cp, now) &&
			in.Policy.withinGrace(lastValidated, now) {
			licState = LicenseActive
			valState = ValidationStale
		}

		if updated != nil {
			cachedNext = updated.NextCheckAfter
		} else {
			cachedNext = cp.NextCheckAfter
		}
	}

	ent := mergeEntitlement(trialStatus.State, licState, valState, in.License != nil)

	// Client poll schedule: the policy interval for the merged state, never
	// later than an already-scheduled provider recheck.
	next := now.Add(in.Policy.pollInterval(ent.State, in.Trial, now))
	if cachedNext != nil && cachedNext.After(now) && cachedNext.Before(next) {
		next = *cachedNext
	}
	ttl := int64(next.Sub(now) / time.Second)

	status := EntitlementStatus{
		OK:          true,
		DeviceID:    in.DeviceID,
		ServerTime:  now,
		Entitlement: ent,
		Trial:       trialStatus,
		License:     licenseStatus(in.License, updated, licState),
		Validation: ValidationStatus{
			State:           valState,
			LastValidatedAt: lastValidated,
			NextCheckAfter:  &next,
			TTLSeconds:      ttl,
			Error:           valError,
		},
	}

	return Decision{Status: status, UpdatedLicense: updated}
}

// classifyTrial derives the trial portion of the status
func classifyTrial(trial *TrialRecord, now time.Time) TrialStatus {
	if trial == nil {
		return TrialStatus{State: TrialNone}
	}

	st := TrialStatus{
		State:     TrialActive,
		StartedAt: &trial.StartedAt,
		ExpiresAt: &trial.ExpiresAt,
	}
	if remaining := trial.ExpiresAt.Sub(now); remaining > 0 {
		st.RemainingSeconds = int64(remaining / time.Second)
	} else {
		st.State = TrialExpired
	}
	return st
}

// stateFromCache derives a license state from cached suspension and expiry
// fields alone.
func stateFromCache(lic *LicenseRecord, now time.Time) LicenseState {
	if lic.LicenseSuspended {
		return LicenseSuspended
	}
	if cacheExpired(lic, now) {
		return LicenseExpired
	}
	return LicenseActive
}

func cacheExpired(lic *LicenseRecord, now time.Time) bool {
	return lic.LicenseExpiresAt != nil && !lic.LicenseExpiresAt.After(now)
}

// mergeEntitlement applies the precedence rules: suspension is a strict
// deny, an active license beats an active trial, and inactive reasons are
// ranked expired trial > expired license > unverified license > none.
func mergeEntitlement(trial TrialState, lic LicenseState, val ValidationState, hasLicense bool) Entitlement {
	switch {
	case lic == LicenseSuspended || lic == LicenseRevoked:
		return Entitlement{State: EntitlementRevoked, CanExport: false, Reason: ReasonLicenseRevoked}

	case lic == LicenseActive:
		reason := ReasonLicenseActive
		if val == ValidationStale {
			reason = ReasonLicenseActiveStale
		}
		return Entitlement{State: EntitlementLicensed, CanExport: true, Reason: reason}

	case trial == TrialActive:
		return Entitlement{State: EntitlementTrial, CanExport: true, Reason: ReasonTrialActive}
	}

	reason := ReasonNoEntitlement
	switch {
	case trial == TrialExpired:
		reason = ReasonTrialExpired
	case lic == LicenseExpired:
		reason = ReasonLicenseExpired
	case hasLicense && (lic == LicenseUnknown || val == ValidationUnverified):
		reason = ReasonLicenseUnverified
	}
	return Entitlement{State: EntitlementInactive, CanExport: false, Reason: reason}
}

// licenseStatus shapes the license portion of the response, preferring
// fields refreshed during this request.
func licenseStatus(original, updated *LicenseRecord, state LicenseState) LicenseStatus {
	lic := original
	if updated != nil {
		lic = updated
	}
	if lic == nil {
		return LicenseStatus{State: LicenseNone}
	}
	return LicenseStatus{
		State:           state,
		KeyLast4:        lic.LicenseLast4,
		ExpiresAt:       lic.LicenseExpiresAt,
		KeygenLicenseID: lic.KeygenLicenseID,
		Source:          lic.Source,
	}
}
