// Package entitlement decides what a Tracecut install is allowed to do.
//
// The package merges three inputs for a device: its trial record, its
// cached license record, and the most recent licensing provider response.
// Reconcile is the pure merge; Engine wraps it with storage, provider
// calls, heartbeats and token issuance.
//
// Pre-provider installs activated through the key allowlist carry no
// provider license id and are never revalidated remotely. They stay on
// the allowlist path until migrated.
package entitlement
