package wire

// Packet is a fully framed SHDC datagram: header, opaque payload (cleartext
// or AES-256-GCM ciphertext depending on Header.Type), and trailing Ed25519
// signature. Decode never returns a Packet whose Header.Type is unknown or
// whose length falls outside [MinPacketSize, MaxPacketSize].
type Packet struct {
	Header    Header
	Payload   []byte
	Signature [SignatureSize]byte
}

// SignedData returns the bytes the Ed25519 signature covers: the header
// followed by the payload exactly as it appears on the wire.
func (p Packet) SignedData() []byte {
	out := make([]byte, 0, HeaderSize+len(p.Payload))
	out = append(out, p.Header.Encode()...)
	out = append(out, p.Payload...)
	return out
}

// Encode serializes the packet to its full wire form: header, payload,
// signature.
func (p Packet) Encode() []byte {
	out := make([]byte, 0, HeaderSize+len(p.Payload)+SignatureSize)
	out = append(out, p.Header.Encode()...)
	out = append(out, p.Payload...)
	out = append(out, p.Signature[:]...)
	return out
}

// Decode parses a raw datagram into a Packet. It rejects packets shorter
// than MinPacketSize, longer than MaxPacketSize, or carrying an unknown
// Header.Type. It never panics and never returns a partially populated
// Packet alongside a non-nil error.
func Decode(data []byte) (Packet, error) {
	if len(data) < MinPacketSize {
		return Packet{}, ErrShortPacket
	}
	if len(data) > MaxPacketSize {
		return Packet{}, ErrOversizePacket
	}

	header, err := DecodeHeader(data)
	if err != nil {
		return Packet{}, err
	}
	if !header.Type.IsValid() {
		return Packet{}, ErrUnknownType
	}

	payloadEnd := len(data) - SignatureSize
	payload := make([]byte, payloadEnd-HeaderSize)
	copy(payload, data[HeaderSize:payloadEnd])

	var sig [SignatureSize]byte
	copy(sig[:], data[payloadEnd:])

	return Packet{Header: header, Payload: payload, Signature: sig}, nil
}
