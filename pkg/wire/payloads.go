package wire

import "encoding/binary"

// JoinRequestPayload is the JOIN_REQUEST / HUB_DISCOVERY_REQ cleartext
// payload shape: pubkey[32] || info_len u8 || info[info_len]. Both message
// types share this layout; only the Header.Type differs.
type JoinRequestPayload struct {
	PublicKey  [32]byte
	DeviceInfo string
}

func (p JoinRequestPayload) Encode() []byte {
	out := make([]byte, 0, 33+len(p.DeviceInfo))
	out = append(out, p.PublicKey[:]...)
	out = append(out, byte(len(p.DeviceInfo)))
	out = append(out, p.DeviceInfo...)
	return out
}

func DecodeJoinRequestPayload(data []byte) (JoinRequestPayload, error) {
	if len(data) < 33 {
		return JoinRequestPayload{}, ErrPayloadTruncated
	}
	var p JoinRequestPayload
	copy(p.PublicKey[:], data[:32])
	n := int(data[32])
	if len(data) != 33+n {
		return JoinRequestPayload{}, ErrPayloadSize
	}
	p.DeviceInfo = string(data[33 : 33+n])
	return p, nil
}

// HubDiscoveryReqPayload shares JoinRequestPayload's wire layout.
type HubDiscoveryReqPayload = JoinRequestPayload

func DecodeHubDiscoveryReqPayload(data []byte) (HubDiscoveryReqPayload, error) {
	return DecodeJoinRequestPayload(data)
}

// JoinResponsePlaintext is the content sealed inside JOIN_RESPONSE, before
// X25519+HKDF wrapping (see pkg/shdccrypto): assigned_id u32 || session_key
// [32] || bkid u8 || broadcast_key[32]. 69 bytes.
type JoinResponsePlaintext struct {
	AssignedID     uint32
	SessionKey     [32]byte
	BroadcastKeyID byte
	BroadcastKey   [32]byte
}

const JoinResponsePlaintextSize = 4 + 32 + 1 + 32

func (p JoinResponsePlaintext) Encode() []byte {
	out := make([]byte, JoinResponsePlaintextSize)
	binary.BigEndian.PutUint32(out[0:4], p.AssignedID)
	copy(out[4:36], p.SessionKey[:])
	out[36] = p.BroadcastKeyID
	copy(out[37:69], p.BroadcastKey[:])
	return out
}

func DecodeJoinResponsePlaintext(data []byte) (JoinResponsePlaintext, error) {
	if len(data) != JoinResponsePlaintextSize {
		return JoinResponsePlaintext{}, ErrPayloadSize
	}
	var p JoinResponsePlaintext
	p.AssignedID = binary.BigEndian.Uint32(data[0:4])
	copy(p.SessionKey[:], data[4:36])
	p.BroadcastKeyID = data[36]
	copy(p.BroadcastKey[:], data[37:69])
	return p, nil
}

// HubDiscoveryRespPayload is the HUB_DISCOVERY_RESP cleartext payload:
// hub_id u32 || hub_pubkey[32] || caps_len u8 || caps[caps_len].
type HubDiscoveryRespPayload struct {
	HubID        uint32
	HubPublicKey [32]byte
	Capabilities string
}

func (p HubDiscoveryRespPayload) Encode() []byte {
	out := make([]byte, 0, 37+len(p.Capabilities))
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], p.HubID)
	out = append(out, idBuf[:]...)
	out = append(out, p.HubPublicKey[:]...)
	out = append(out, byte(len(p.Capabilities)))
	out = append(out, p.Capabilities...)
	return out
}

func DecodeHubDiscoveryRespPayload(data []byte) (HubDiscoveryRespPayload, error) {
	if len(data) < 37 {
		return HubDiscoveryRespPayload{}, ErrPayloadTruncated
	}
	var p HubDiscoveryRespPayload
	p.HubID = binary.BigEndian.Uint32(data[0:4])
	copy(p.HubPublicKey[:], data[4:36])
	n := int(data[36])
	if len(data) != 37+n {
		return HubDiscoveryRespPayload{}, ErrPayloadSize
	}
	p.Capabilities = string(data[37 : 37+n])
	return p, nil
}

// EventReportPlaintext is the content sealed inside EVENT_REPORT under the
// sensor's session key: event_type u8 || data_len u8 || data[data_len].
type EventReportPlaintext struct {
	EventType byte
	Data      []byte
}

func (p EventReportPlaintext) Encode() []byte {
	out := make([]byte, 0, 2+len(p.Data))
	out = append(out, p.EventType, byte(len(p.Data)))
	out = append(out, p.Data...)
	return out
}

func DecodeEventReportPlaintext(data []byte) (EventReportPlaintext, error) {
	if len(data) < 2 {
		return EventReportPlaintext{}, ErrPayloadTruncated
	}
	n := int(data[1])
	if len(data) != 2+n {
		return EventReportPlaintext{}, ErrPayloadSize
	}
	return EventReportPlaintext{EventType: data[0], Data: data[2 : 2+n]}, nil
}

// BroadcastCommandWire is the on-wire BROADCAST_COMMAND payload shape:
// bkid u8 (cleartext, used to select the decryption key) followed by the
// AES-256-GCM ciphertext sealed under that broadcast key.
type BroadcastCommandWire struct {
	BroadcastKeyID byte
	Ciphertext     []byte
}

func (p BroadcastCommandWire) Encode() []byte {
	out := make([]byte, 0, 1+len(p.Ciphertext))
	out = append(out, p.BroadcastKeyID)
	out = append(out, p.Ciphertext...)
	return out
}

func DecodeBroadcastCommandWire(data []byte) (BroadcastCommandWire, error) {
	if len(data) < 1 {
		return BroadcastCommandWire{}, ErrPayloadTruncated
	}
	return BroadcastCommandWire{BroadcastKeyID: data[0], Ciphertext: data[1:]}, nil
}

// BroadcastCommandPlaintext is the content sealed inside a
// BroadcastCommandWire.Ciphertext: cmd_type u8 || cmd_len u16 ||
// cmd_data[cmd_len].
type BroadcastCommandPlaintext struct {
	CommandType byte
	CommandData []byte
}

func (p BroadcastCommandPlaintext) Encode() []byte {
	out := make([]byte, 3, 3+len(p.CommandData))
	out[0] = p.CommandType
	binary.BigEndian.PutUint16(out[1:3], uint16(len(p.CommandData)))
	out = append(out, p.CommandData...)
	return out
}

func DecodeBroadcastCommandPlaintext(data []byte) (BroadcastCommandPlaintext, error) {
	if len(data) < 3 {
		return BroadcastCommandPlaintext{}, ErrPayloadTruncated
	}
	n := int(binary.BigEndian.Uint16(data[1:3]))
	if len(data) != 3+n {
		return BroadcastCommandPlaintext{}, ErrPayloadSize
	}
	return BroadcastCommandPlaintext{CommandType: data[0], CommandData: data[3 : 3+n]}, nil
}

// Key-rotation scope tags, identifying which key KeyRotationPlaintext carries.
const (
	ScopeSession   byte = 0x01
	ScopeBroadcast byte = 0x02
)

// KeyRotationPlaintext is the content sealed inside KEY_ROTATION under the
// current key for its scope: scope u8 || new_key[32] || valid_from u32 ||
// new_bkid u8 (present only when Scope == ScopeBroadcast).
type KeyRotationPlaintext struct {
	Scope        byte
	NewKey       [32]byte
	ValidFrom    uint32
	NewBroadcastKeyID byte // meaningful only when Scope == ScopeBroadcast
}

func (p KeyRotationPlaintext) Encode() []byte {
	size := 1 + 32 + 4
	if p.Scope == ScopeBroadcast {
		size++
	}
	out := make([]byte, size)
	out[0] = p.Scope
	copy(out[1:33], p.NewKey[:])
	binary.BigEndian.PutUint32(out[33:37], p.ValidFrom)
	if p.Scope == ScopeBroadcast {
		out[37] = p.NewBroadcastKeyID
	}
	return out
}

func DecodeKeyRotationPlaintext(data []byte) (KeyRotationPlaintext, error) {
	if len(data) < 37 {
		return KeyRotationPlaintext{}, ErrPayloadTruncated
	}
	var p KeyRotationPlaintext
	p.Scope = data[0]
	copy(p.NewKey[:], data[1:33])
	p.ValidFrom = binary.BigEndian.Uint32(data[33:37])
	switch p.Scope {
	case ScopeSession:
		if len(data) != 37 {
			return KeyRotationPlaintext{}, ErrPayloadSize
		}
	case ScopeBroadcast:
		if len(data) != 38 {
			return KeyRotationPlaintext{}, ErrPayloadSize
		}
		p.NewBroadcastKeyID = data[37]
	default:
		return KeyRotationPlaintext{}, ErrPayloadSize
	}
	return p, nil
}
