// Package keystore holds the per-process key material described in
// spec.md's Keystore component: a device's own identity keypair, the
// hub-side per-sensor session key table, the hub's current and previous
// broadcast key, and the sensor-side hub record. It also defines the
// Persister interface through which this in-memory state is loaded from
// and saved to external, confidentiality-owning storage.
package keystore

import "errors"

var (
	// ErrUnknownDevice is returned when an operation references a
	// DeviceId with no SensorRecord.
	ErrUnknownDevice = errors.New("keystore: unknown device")
	// ErrNoBroadcastKey is returned when no broadcast key has been
	// generated yet (hub has not completed startup rotation).
	ErrNoBroadcastKey = errors.New("keystore: no broadcast key installed")
	// ErrNoHubRecord is returned by sensor-side lookups before a
	// successful join.
	ErrNoHubRecord = errors.New("keystore: no hub record")
	// ErrIdentityMissing is a fatal startup error: no identity keypair
	// could be loaded or generated.
	ErrIdentityMissing = errors.New("keystore: identity key missing")
	// ErrDeviceIDExhausted is returned if no unused device id could be
	// allocated (practically unreachable with a 32-bit space).
	ErrDeviceIDExhausted = errors.New("keystore: device id space exhausted")
)
