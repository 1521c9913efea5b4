package keystore

import "time"

// SessionKey is a 32-byte AES-256 key scoped to one (hub, sensor) pair.
type SessionKey struct {
	Key [32]byte
}

// BroadcastKey is a 32-byte AES-256 group key tagged by a monotonically
// increasing (mod 256) id, wrapping so a new id never equals the
// currently-active one.
type BroadcastKey struct {
	Key [32]byte
	ID  byte
	// ExpiresAt is zero for the current key. A previous key carries the
	// deadline until which it is still accepted, per the rotation grace
	// window in spec.md §4.5.
	ExpiresAt time.Time
}

// Valid reports whether the key is still within its grace window (always
// true for the current key, whose ExpiresAt is zero).
func (k BroadcastKey) Valid(now time.Time) bool {
	return k.ExpiresAt.IsZero() || now.Before(k.ExpiresAt)
}

// SensorRecord is the hub's view of one joined sensor.
type SensorRecord struct {
	DeviceID        uint32
	IdentityPubKey  [32]byte
	SessionKey      SessionKey
	PreviousSession *SessionKey
	// PreviousSessionExpiresAt bounds how long PreviousSession is still
	// accepted after a session-key rotation.
	PreviousSessionExpiresAt time.Time
	LastSeen                 time.Time
	BroadcastKeyIDAcked      byte
}

// previousSessionValid reports whether the previous session key is still
// within its grace window.
func (r SensorRecord) previousSessionValid(now time.Time) bool {
	return r.PreviousSession != nil && now.Before(r.PreviousSessionExpiresAt)
}

// HubRecord is the sensor's view of the hub it has joined.
type HubRecord struct {
	HubID          uint32
	HubPubKey      [32]byte
	HubAddr        string
	SessionKey     SessionKey
	BroadcastKey   BroadcastKey
	PreviousBroadcast *BroadcastKey
}
