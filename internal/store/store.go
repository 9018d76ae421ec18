// Package store provides durable key-value storage for per-device trial and
// license records. Implementations guarantee single-key atomicity only;
// read-modify-write across calls is last-writer-wins.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("store: key not found")

// Store is the key-value contract the licensing subsystem runs on
type Store interface {
	// GetJSON unmarshals the value at key into v. Returns ErrNotFound
	// when the key does not exist.
	GetJSON(ctx context.Context, key string, v any) error
	// PutJSON marshals v and stores it at key.
	PutJSON(ctx context.Context, key string, v any) error
	// Incr atomically increments a counter, setting window as its expiry
	// on the first increment only. Returns the post-increment count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// TTL returns the remaining lifetime of key, or zero when none is set.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// SetAdd adds member to the set at key.
	SetAdd(ctx context.Context, key, member string) error
	// SetContains reports whether member is in the set at key.
	SetContains(ctx context.Context, key, member string) (bool, error)
	// SetSize returns the cardinality of the set at key.
	SetSize(ctx context.Context, key string) (int64, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// Key builders. All licensing state is namespaced by record kind.

// TrialKey returns the key of a device's trial record
func TrialKey(deviceID string) string { return "trial:" + deviceID }

// LicenseKey returns the key of a device's license record
func LicenseKey(deviceID string) string { return "license:" + deviceID }

// DeviceIndexKey returns the key of the device set for a license key hash
func DeviceIndexKey(licenseKeyHash string) string { return "licdev:" + licenseKeyHash }

// HeartbeatKey returns the key of a device's last-seen marker
func HeartbeatKey(deviceID string) string { return "seen:" + deviceID }

// RateKey returns the counter key for one rate-limit window
func RateKey(scope, caller, deviceID string) string {
	return "rl:" + scope + ":" + caller + ":" + deviceID
}
