package wire

import (
	"bytes"
	"testing"
)

// These vectors pin the literal byte layouts used by the end-to-end join
// scenario: a sensor assigned device id 0xAABBCCDD, session key 32 bytes of
// 0x11, broadcast key 32 bytes of 0x22, broadcast key id 0x01.

func TestSpecVectorJoinResponsePlaintextLayout(t *testing.T) {
	p := JoinResponsePlaintext{
		AssignedID:     0xAABBCCDD,
		BroadcastKeyID: 0x01,
	}
	for i := range p.SessionKey {
		p.SessionKey[i] = 0x11
	}
	for i := range p.BroadcastKey {
		p.BroadcastKey[i] = 0x22
	}

	want := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	want = append(want, bytes.Repeat([]byte{0x11}, 32)...)
	want = append(want, 0x01)
	want = append(want, bytes.Repeat([]byte{0x22}, 32)...)

	got := p.Encode()
	if !bytes.Equal(got, want) {
		t.Fatalf("JoinResponsePlaintext.Encode() =\n%x\nwant\n%x", got, want)
	}
}

func TestSpecVectorEventReportMotionLayout(t *testing.T) {
	p := EventReportPlaintext{EventType: 0x01}
	want := []byte{0x01, 0x00}
	if got := p.Encode(); !bytes.Equal(got, want) {
		t.Fatalf("EventReportPlaintext.Encode() = %x, want %x", got, want)
	}
}

func TestSpecVectorHeaderLayout(t *testing.T) {
	h := Header{
		Type:      EventReport,
		DeviceID:  0xAABBCCDD,
		Timestamp: 0x12345678,
		Nonce:     [3]byte{0x00, 0x00, 0x01},
	}
	want := []byte{0x01, 0xAA, 0xBB, 0xCC, 0xDD, 0x12, 0x34, 0x56, 0x78, 0x00, 0x00, 0x01}
	if got := h.Encode(); !bytes.Equal(got, want) {
		t.Fatalf("Header.Encode() = %x, want %x", got, want)
	}
}

func TestSpecVectorMinPacketSize(t *testing.T) {
	if MinPacketSize != 76 {
		t.Fatalf("MinPacketSize = %d, want 76", MinPacketSize)
	}
}

func TestSpecVectorBroadcastRotationLayout(t *testing.T) {
	p := KeyRotationPlaintext{Scope: ScopeBroadcast, ValidFrom: 0x00000005, NewBroadcastKeyID: 0x02}
	for i := range p.NewKey {
		p.NewKey[i] = 0x33
	}
	want := []byte{0x02}
	want = append(want, bytes.Repeat([]byte{0x33}, 32)...)
	want = append(want, 0x00, 0x00, 0x00, 0x05)
	want = append(want, 0x02)

	if got := p.Encode(); !bytes.Equal(got, want) {
		t.Fatalf("KeyRotationPlaintext.Encode() =\n%x\nwant\n%x", got, want)
	}
}
