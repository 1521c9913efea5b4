// Package engine implements the SHDC protocol engine: the hub and sensor
// role state machines described in spec.md §4.5, sharing one dispatch
// pipeline over pkg/wire, pkg/shdccrypto, pkg/keystore, and pkg/replay.
package engine

import "errors"

var (
	// ErrWrongState is returned when an application call is made in a
	// state that does not permit it (e.g. Join before Discover).
	ErrWrongState = errors.New("engine: operation not valid in current state")
	// ErrUnknownDevice is returned when a hub-only call references a
	// DeviceId with no SensorRecord.
	ErrUnknownDevice = errors.New("engine: unknown device")
	// ErrJoinRefused is returned when a hub declines a JOIN_REQUEST.
	ErrJoinRefused = errors.New("engine: join refused")

	// ErrSendFailed wraps a transport send failure.
	ErrSendFailed = errors.New("engine: transport send failed")
	// ErrRecvFailed wraps a transport receive failure.
	ErrRecvFailed = errors.New("engine: transport receive failed")
	// ErrTimeout is returned by Discover/Join when their deadline elapses
	// without reaching the target state.
	ErrTimeout = errors.New("engine: operation timed out")

	// ErrCryptoInitFailure is a fatal startup error.
	ErrCryptoInitFailure = errors.New("engine: crypto initialization failed")
	// ErrIdentityMissing is a fatal startup error.
	ErrIdentityMissing = errors.New("engine: identity key missing")

	// ErrStopped is returned by application calls made after Stop.
	ErrStopped = errors.New("engine: engine stopped")
)

// ErrorKind classifies a drop-and-log failure for the on_error callback
// hook, per spec.md §6's Engine public API.
type ErrorKind int

const (
	ErrorKindDecode ErrorKind = iota
	ErrorKindCrypto
	ErrorKindFreshness
	ErrorKindProtocol
	ErrorKindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindDecode:
		return "decode"
	case ErrorKindCrypto:
		return "crypto"
	case ErrorKindFreshness:
		return "freshness"
	case ErrorKindProtocol:
		return "protocol"
	case ErrorKindTransport:
		return "transport"
	default:
		return "unknown"
	}
}
