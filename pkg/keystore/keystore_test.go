package keystore

import (
	"testing"
	"time"

	"shdc/pkg/shdccrypto"
)

func newTestKeystore(t *testing.T) *Keystore {
	t.Helper()
	id, err := shdccrypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	return New(Config{Identity: id})
}

func TestAllocateDeviceIDUnique(t *testing.T) {
	ks := newTestKeystore(t)
	seen := make(map[uint32]bool)
	for i := 0; i < 50; i++ {
		id, err := ks.AllocateDeviceID()
		if err != nil {
			t.Fatalf("AllocateDeviceID: %v", err)
		}
		if id == 0 {
			t.Fatalf("AllocateDeviceID returned sentinel 0")
		}
		if seen[id] {
			t.Fatalf("AllocateDeviceID returned duplicate %x", id)
		}
		seen[id] = true
		ks.PutSensor(SensorRecord{DeviceID: id})
	}
}

func TestRotateBroadcastNeverRepeatsCurrentID(t *testing.T) {
	ks := newTestKeystore(t)
	now := time.Now()
	first, err := ks.RotateBroadcast(now)
	if err != nil {
		t.Fatalf("RotateBroadcast: %v", err)
	}
	second, err := ks.RotateBroadcast(now)
	if err != nil {
		t.Fatalf("RotateBroadcast: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("rotated id %x repeats previous id", second.ID)
	}
	if first.Key == second.Key {
		t.Fatalf("rotation produced identical key material")
	}
}

func TestBroadcastKeyByIDHonorsGraceWindow(t *testing.T) {
	ks := newTestKeystore(t)
	now := time.Now()
	first, err := ks.RotateBroadcast(now)
	if err != nil {
		t.Fatalf("RotateBroadcast: %v", err)
	}
	if _, err := ks.RotateBroadcast(now); err != nil {
		t.Fatalf("RotateBroadcast: %v", err)
	}

	if _, err := ks.BroadcastKeyByID(first.ID, now); err != nil {
		t.Fatalf("expected previous key still valid within grace window: %v", err)
	}
	afterGrace := now.Add(BroadcastRotationGrace + time.Second)
	if _, err := ks.BroadcastKeyByID(first.ID, afterGrace); err != ErrKeyUnavailable {
		t.Fatalf("got %v, want ErrKeyUnavailable after grace window", err)
	}
}

func TestSessionKeyForIncludesPreviousWithinGrace(t *testing.T) {
	ks := newTestKeystore(t)
	now := time.Now()
	oldKey, err := shdccrypto.RandomKey32()
	if err != nil {
		t.Fatalf("RandomKey32: %v", err)
	}
	ks.PutSensor(SensorRecord{DeviceID: 1, SessionKey: SessionKey{Key: oldKey}})

	if _, err := ks.RotateSession(1, now); err != nil {
		t.Fatalf("RotateSession: %v", err)
	}

	keys, err := ks.SessionKeyFor(1, now)
	if err != nil {
		t.Fatalf("SessionKeyFor: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d candidate keys, want 2 (current + previous in grace)", len(keys))
	}
	if keys[1].Key != oldKey {
		t.Fatalf("previous session key not preserved")
	}

	afterGrace := now.Add(SessionRotationGrace + time.Second)
	keys, err = ks.SessionKeyFor(1, afterGrace)
	if err != nil {
		t.Fatalf("SessionKeyFor: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("got %d candidate keys after grace window, want 1", len(keys))
	}
}

func TestMemoryPersisterLoadOrCreateIdentity(t *testing.T) {
	p := NewMemoryPersister()
	first, err := LoadOrCreateIdentity(p)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	second, err := LoadOrCreateIdentity(p)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if first.PublicKey != second.PublicKey {
		t.Fatalf("LoadOrCreateIdentity did not persist identity across calls")
	}
}

func TestSensorSideBroadcastRotation(t *testing.T) {
	ks := newTestKeystore(t)
	ks.SetHubRecord(HubRecord{HubID: 1})
	now := time.Now()
	key1, _ := shdccrypto.RandomKey32()
	if err := ks.ApplyBroadcastRotation(key1, 0x01, now); err != nil {
		t.Fatalf("ApplyBroadcastRotation: %v", err)
	}
	key2, _ := shdccrypto.RandomKey32()
	if err := ks.ApplyBroadcastRotation(key2, 0x02, now); err != nil {
		t.Fatalf("ApplyBroadcastRotation: %v", err)
	}

	if k, err := ks.SensorBroadcastKeyByID(0x02, now); err != nil || k.Key != key2 {
		t.Fatalf("current broadcast key resolution failed: %v", err)
	}
	if k, err := ks.SensorBroadcastKeyByID(0x01, now); err != nil || k.Key != key1 {
		t.Fatalf("previous broadcast key resolution failed: %v", err)
	}
	afterGrace := now.Add(BroadcastRotationGrace + time.Second)
	if _, err := ks.SensorBroadcastKeyByID(0x01, afterGrace); err != ErrKeyUnavailable {
		t.Fatalf("got %v, want ErrKeyUnavailable", err)
	}
}
