package engine

import (
	"context"
	"testing"
	"time"

	"shdc/pkg/keystore"
	"shdc/pkg/shdccrypto"
	"shdc/pkg/transport"
	"shdc/pkg/wire"
)

func newTestSensor(t *testing.T) (*Sensor, func()) {
	t.Helper()
	id, err := shdccrypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	ks := keystore.New(keystore.Config{Identity: id})
	tr, _, pipeCleanup := transport.NewPipePair()
	s, err := NewSensor(SensorConfig{Keystore: ks, Transport: tr})
	if err != nil {
		t.Fatalf("NewSensor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	return s, func() {
		cancel()
		s.Stop()
		pipeCleanup()
	}
}

func TestSensorInitialState(t *testing.T) {
	s, cleanup := newTestSensor(t)
	defer cleanup()
	if s.State() != StateIdle {
		t.Fatalf("got %v, want IDLE", s.State())
	}
}

func TestDiscoverTimesOutWithNoHub(t *testing.T) {
	s, cleanup := newTestSensor(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.Discover(ctx, 150*time.Millisecond); err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("got %v, want IDLE after discovery timeout", s.State())
	}
}

func TestJoinRejectedBeforeDiscover(t *testing.T) {
	s, cleanup := newTestSensor(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.Join(ctx, nil, 100*time.Millisecond); err != ErrWrongState {
		t.Fatalf("got %v, want ErrWrongState", err)
	}
}

func TestRepeatedCryptoFailuresRevertActiveSensorToDiscovering(t *testing.T) {
	// Unlike newTestSensor, this sensor is never Started: the test drives
	// handleDatagram directly from this goroutine, which would otherwise
	// race with the engine's own loop goroutine over loop-owned state.
	id, err := shdccrypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	ks := keystore.New(keystore.Config{Identity: id})
	tr, _, pipeCleanup := transport.NewPipePair()
	defer pipeCleanup()
	s, err := NewSensor(SensorConfig{Keystore: ks, Transport: tr})
	if err != nil {
		t.Fatalf("NewSensor: %v", err)
	}

	hubIdentity, err := shdccrypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	s.hubPubKey = hubIdentity.PublicKey
	s.setState(StateActive)
	s.ks.SetHubRecord(keystore.HubRecord{
		HubPubKey:    hubIdentity.PublicKey,
		SessionKey:   keystore.SessionKey{Key: [32]byte{0x11}},
		BroadcastKey: keystore.BroadcastKey{Key: [32]byte{0x22}},
	})

	for i := 0; i < sensorCryptoFailureThreshold; i++ {
		// A fresh nonce per packet, so each one passes the replay guard and
		// fails only at the AEAD open.
		header := wire.Header{Type: wire.KeyRotation, Timestamp: uint32(time.Now().Unix()), Nonce: [3]byte{9, 9, byte(i)}}
		pkt := wire.Packet{Header: header, Payload: []byte("garbage ciphertext, won't open under either key")}
		pkt.Signature = shdccrypto.Sign(hubIdentity.PrivateKey, pkt.SignedData())
		s.handleDatagram(transport.Datagram{Data: pkt.Encode()})
	}

	if got := s.State(); got != StateDiscovering {
		t.Fatalf("got state %v, want DISCOVERING after repeated crypto failures", got)
	}
}

func TestSendEventRejectedBeforeActive(t *testing.T) {
	s, cleanup := newTestSensor(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := s.SendEvent(ctx, 0x01, []byte("x")); err != ErrWrongState {
		t.Fatalf("got %v, want ErrWrongState", err)
	}
}
