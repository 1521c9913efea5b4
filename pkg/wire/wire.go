// Package wire implements the SHDC v1.0 packet codec: the 12-byte header,
// the per-message-type payload layouts, and the trailing 64-byte Ed25519
// signature. Decode is total: it never panics and always returns either a
// valid Packet or one of the sentinel errors below.
package wire

import "errors"

// MessageType identifies the payload layout carried by a Packet.
type MessageType byte

const (
	HubDiscoveryReq  MessageType = 0x00
	EventReport      MessageType = 0x01
	JoinRequest      MessageType = 0x02
	JoinResponse     MessageType = 0x03
	BroadcastCommand MessageType = 0x04
	KeyRotation      MessageType = 0x05
	HubDiscoveryResp MessageType = 0x06
)

// String returns the human-readable message type name used in log lines.
func (t MessageType) String() string {
	switch t {
	case HubDiscoveryReq:
		return "HUB_DISCOVERY_REQ"
	case EventReport:
		return "EVENT_REPORT"
	case JoinRequest:
		return "JOIN_REQUEST"
	case JoinResponse:
		return "JOIN_RESPONSE"
	case BroadcastCommand:
		return "BROADCAST_COMMAND"
	case KeyRotation:
		return "KEY_ROTATION"
	case HubDiscoveryResp:
		return "HUB_DISCOVERY_RESP"
	default:
		return "UNKNOWN"
	}
}

// IsValid reports whether t is one of the seven defined message types.
func (t MessageType) IsValid() bool {
	return t <= HubDiscoveryResp
}

const (
	// Port is the UDP port SHDC hubs and sensors listen and broadcast on.
	Port = 56700
	// MulticastGroup is the IPv4 multicast address used for discovery.
	MulticastGroup = "239.255.0.1"
	// BroadcastAddr is the fallback when multicast group membership fails.
	BroadcastAddr = "255.255.255.255"

	// HeaderSize is the fixed size of the SHDC header in bytes.
	HeaderSize = 12
	// SignatureSize is the size of the trailing Ed25519 signature.
	SignatureSize = 64
	// MinPacketSize is the smallest legal packet: header + empty payload + signature.
	MinPacketSize = HeaderSize + SignatureSize
	// MaxPacketSize is the largest legal SHDC packet on the wire.
	MaxPacketSize = 512

	// ReplayToleranceSeconds bounds how far a packet timestamp may drift
	// from the receiver's clock before it is rejected as stale.
	ReplayToleranceSeconds = 30
)

var (
	// ErrShortPacket is returned when data is smaller than MinPacketSize.
	ErrShortPacket = errors.New("wire: packet shorter than minimum size")
	// ErrOversizePacket is returned when data exceeds MaxPacketSize.
	ErrOversizePacket = errors.New("wire: packet exceeds maximum size")
	// ErrUnknownType is returned when the header's Type byte is not a
	// defined MessageType.
	ErrUnknownType = errors.New("wire: unknown message type")
	// ErrPayloadSize is returned by a payload decoder when the payload
	// length does not match the message type's expected layout.
	ErrPayloadSize = errors.New("wire: payload size does not match message type")
	// ErrPayloadTruncated is returned when a fixed-size field runs past
	// the end of the payload.
	ErrPayloadTruncated = errors.New("wire: payload truncated")
)
