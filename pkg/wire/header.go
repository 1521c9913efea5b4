package wire

import "encoding/binary"

// Header is the fixed 12-byte SHDC packet header: Type(1) DeviceID(4)
// Timestamp(4) Nonce(3), all big-endian. It is also the AAD bound to the
// AES-256-GCM envelope of encrypted payloads.
type Header struct {
	Type      MessageType
	DeviceID  uint32
	Timestamp uint32
	Nonce     [3]byte
}

// Encode serializes the header to its 12-byte wire form.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf
}

// EncodeTo writes the header into buf, which must be at least HeaderSize
// bytes long.
func (h Header) EncodeTo(buf []byte) {
	buf[0] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[1:5], h.DeviceID)
	binary.BigEndian.PutUint32(buf[5:9], h.Timestamp)
	copy(buf[9:12], h.Nonce[:])
}

// DecodeHeader parses the first HeaderSize bytes of data into a Header. It
// does not validate Type; callers that need a strict decode should use
// Decode, which does.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrShortPacket
	}
	var h Header
	h.Type = MessageType(data[0])
	h.DeviceID = binary.BigEndian.Uint32(data[1:5])
	h.Timestamp = binary.BigEndian.Uint32(data[5:9])
	copy(h.Nonce[:], data[9:12])
	return h, nil
}
