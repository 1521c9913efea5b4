package engine

import (
	"testing"
	"time"

	"shdc/pkg/keystore"
	"shdc/pkg/replay"
	"shdc/pkg/shdccrypto"
	"shdc/pkg/transport"
	"shdc/pkg/wire"
)

func newTestHub(t *testing.T) (*Hub, func()) {
	t.Helper()
	id, err := shdccrypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	ks := keystore.New(keystore.Config{Identity: id})
	tr, _, cleanup := transport.NewPipePair()
	h, err := NewHub(HubConfig{HubID: 0x10000001, Keystore: ks, Transport: tr, Capabilities: "shdc/1.0"})
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	return h, cleanup
}

func TestBroadcastFailsWithoutRotation(t *testing.T) {
	h, cleanup := newTestHub(t)
	defer cleanup()
	if err := h.Broadcast(0x01, []byte("on")); err == nil {
		t.Fatalf("expected error broadcasting before any RotateBroadcast")
	}
}

func TestRotateSessionRejectsUnknownDevice(t *testing.T) {
	h, cleanup := newTestHub(t)
	defer cleanup()
	if err := h.RotateSession(0xDEADBEEF); err != ErrUnknownDevice {
		t.Fatalf("got %v, want ErrUnknownDevice", err)
	}
}

func TestEventDecryptFailuresResetSensorToUnknown(t *testing.T) {
	h, cleanup := newTestHub(t)
	defer cleanup()

	sensorIdentity, err := shdccrypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	const deviceID = DeviceID(0x2244)
	h.ks.PutSensor(keystore.SensorRecord{
		DeviceID:       deviceID,
		IdentityPubKey: sensorIdentity.PublicKey,
		SessionKey:     keystore.SessionKey{Key: [32]byte{0xAA}},
	})
	h.setSensorState(deviceID, SensorActive)

	var left []DeviceID
	h.handlers.OnLeft = func(id DeviceID) { left = append(left, id) }

	header := wire.Header{Type: wire.EventReport, DeviceID: deviceID, Timestamp: uint32(time.Now().Unix()), Nonce: [3]byte{1, 2, 3}}
	pkt := wire.Packet{Header: header, Payload: []byte("not a valid ciphertext at all")}

	for i := 0; i < eventDecryptFailureThreshold; i++ {
		h.handleEventReport(pkt, nil)
	}

	if _, ok := h.ks.Sensor(deviceID); ok {
		t.Fatal("expected sensor record removed after repeated decrypt failures")
	}
	if got := h.sensorState(deviceID); got != SensorUnknown {
		t.Fatalf("got sensor state %v, want UNKNOWN", got)
	}
	if len(left) != 1 || left[0] != deviceID {
		t.Fatalf("got OnLeft calls %v, want exactly one for device %d", left, deviceID)
	}
}

func TestClassifyErrMapsKnownSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{replay.ErrStaleTimestamp, ErrorKindFreshness},
		{replay.ErrReplayedNonce, ErrorKindFreshness},
		{shdccrypto.ErrBadSignature, ErrorKindCrypto},
		{shdccrypto.ErrAeadFailure, ErrorKindCrypto},
		{wire.ErrShortPacket, ErrorKindDecode},
		{wire.ErrUnknownType, ErrorKindDecode},
	}
	for _, c := range cases {
		if got := classifyErr(c.err); got != c.want {
			t.Fatalf("classifyErr(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
