package keystore

import (
	"sync"
	"time"

	"github.com/pion/logging"

	"shdc/pkg/shdccrypto"
)

// BroadcastRotationGrace is how long a retired broadcast key still decrypts
// in-flight messages, per spec.md §4.5 step 3.
const BroadcastRotationGrace = 60 * time.Second

// SessionRotationGrace is the analogous grace window for a retired session
// key.
const SessionRotationGrace = 60 * time.Second

// Config configures a Keystore.
type Config struct {
	Identity      shdccrypto.Identity
	LoggerFactory logging.LoggerFactory
}

// Keystore holds one device's identity keypair plus whichever role-specific
// state applies: a hub populates the sensors table and broadcast keys, a
// sensor populates the hub record. It is safe for concurrent use; it is the
// one shared mutable structure in the engine, per spec.md §5.
type Keystore struct {
	mu  sync.RWMutex
	log logging.LeveledLogger

	identity shdccrypto.Identity

	// Hub-side.
	sensors            map[uint32]*SensorRecord
	broadcastCurrent   *BroadcastKey
	broadcastPrevious  *BroadcastKey

	// Sensor-side.
	hub *HubRecord
}

// New constructs a Keystore around an already-loaded identity. Hub and
// sensor roles use the same type; role-specific tables are populated lazily
// by the methods each role calls (pkg/engine.NewHub / NewSensor decide
// which).
func New(cfg Config) *Keystore {
	log := cfg.LoggerFactory
	if log == nil {
		log = logging.NewDefaultLoggerFactory()
	}
	return &Keystore{
		log:      log.NewLogger("keystore"),
		identity: cfg.Identity,
		sensors:  make(map[uint32]*SensorRecord),
	}
}

// Identity returns this device's identity keypair.
func (k *Keystore) Identity() shdccrypto.Identity {
	return k.identity
}

// --- Hub-side ---

// AllocateDeviceID picks a random, currently-unused, nonzero device id for
// a newly joining sensor.
func (k *Keystore) AllocateDeviceID() (uint32, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for attempt := 0; attempt < 64; attempt++ {
		raw, err := shdccrypto.RandomBytes(4)
		if err != nil {
			return 0, err
		}
		id := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
		if id == 0 {
			continue
		}
		if _, exists := k.sensors[id]; exists {
			continue
		}
		return id, nil
	}
	return 0, ErrDeviceIDExhausted
}

// PutSensor installs or replaces a SensorRecord.
func (k *Keystore) PutSensor(rec SensorRecord) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r := rec
	k.sensors[rec.DeviceID] = &r
}

// RemoveSensor deletes a SensorRecord, returning the device to UNKNOWN.
func (k *Keystore) RemoveSensor(deviceID uint32) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.sensors, deviceID)
}

// Sensor returns a copy of the SensorRecord for deviceID.
func (k *Keystore) Sensor(deviceID uint32) (SensorRecord, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	r, ok := k.sensors[deviceID]
	if !ok {
		return SensorRecord{}, false
	}
	return *r, true
}

// ListSensors returns a snapshot of all joined sensors.
func (k *Keystore) ListSensors() []SensorRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]SensorRecord, 0, len(k.sensors))
	for _, r := range k.sensors {
		out = append(out, *r)
	}
	return out
}

// TouchLastSeen updates the last-seen timestamp for a sensor.
func (k *Keystore) TouchLastSeen(deviceID uint32, when time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if r, ok := k.sensors[deviceID]; ok {
		r.LastSeen = when
	}
}

// AckBroadcastKeyID records the broadcast key id a sensor has confirmed
// receiving, via its most recent EVENT_REPORT.
func (k *Keystore) AckBroadcastKeyID(deviceID uint32, id byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if r, ok := k.sensors[deviceID]; ok {
		r.BroadcastKeyIDAcked = id
	}
}

// SessionKeyFor resolves the key that should decrypt an incoming
// EVENT_REPORT from deviceID: the current session key, or the previous one
// if it is still within its grace window. This is spec.md §4.5's
// EVENT_REPORT key-resolution rule.
func (k *Keystore) SessionKeyFor(deviceID uint32, now time.Time) ([]SessionKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	r, ok := k.sensors[deviceID]
	if !ok {
		return nil, ErrUnknownDevice
	}
	keys := []SessionKey{r.SessionKey}
	if r.previousSessionValid(now) {
		keys = append(keys, *r.PreviousSession)
	}
	return keys, nil
}

// RotateSession generates a fresh session key for deviceID, retaining the
// old one for SessionRotationGrace, and returns the new key to seal into a
// KEY_ROTATION message.
func (k *Keystore) RotateSession(deviceID uint32, now time.Time) (SessionKey, error) {
	newKey, err := shdccrypto.RandomKey32()
	if err != nil {
		return SessionKey{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	r, ok := k.sensors[deviceID]
	if !ok {
		return SessionKey{}, ErrUnknownDevice
	}
	old := r.SessionKey
	r.PreviousSession = &old
	r.PreviousSessionExpiresAt = now.Add(SessionRotationGrace)
	r.SessionKey = SessionKey{Key: newKey}
	return r.SessionKey, nil
}

// RotateBroadcast generates a fresh broadcast key, retaining the prior one
// for BroadcastRotationGrace, and returns the new key and its id.
func (k *Keystore) RotateBroadcast(now time.Time) (BroadcastKey, error) {
	newKey, err := shdccrypto.RandomKey32()
	if err != nil {
		return BroadcastKey{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	var nextID byte
	if k.broadcastCurrent != nil {
		nextID = k.broadcastCurrent.ID + 1
		prev := *k.broadcastCurrent
		prev.ExpiresAt = now.Add(BroadcastRotationGrace)
		k.broadcastPrevious = &prev
	}

	k.broadcastCurrent = &BroadcastKey{Key: newKey, ID: nextID}
	return *k.broadcastCurrent, nil
}

// ActivateBroadcast installs a broadcast key as current, retiring whichever
// key was current with a grace window. Unlike RotateBroadcast, it does not
// generate the key: it is called once a KEY_ROTATION carrying key/id has
// already been distributed to every sensor and that message's Valid From
// time has arrived, per spec.md §5's ordering guarantee that a rotation is
// applied before any subsequent packet uses the new key.
func (k *Keystore) ActivateBroadcast(key [32]byte, id byte, now time.Time) BroadcastKey {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.broadcastCurrent != nil {
		prev := *k.broadcastCurrent
		prev.ExpiresAt = now.Add(BroadcastRotationGrace)
		k.broadcastPrevious = &prev
	}
	k.broadcastCurrent = &BroadcastKey{Key: key, ID: id}
	return *k.broadcastCurrent
}

// CurrentBroadcast returns the active broadcast key.
func (k *Keystore) CurrentBroadcast() (BroadcastKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.broadcastCurrent == nil {
		return BroadcastKey{}, ErrNoBroadcastKey
	}
	return *k.broadcastCurrent, nil
}

// BroadcastKeyByID resolves a broadcast key by its wire id, accepting the
// previous key only within its grace window, per spec.md §4.5's
// BROADCAST_COMMAND key-resolution rule.
func (k *Keystore) BroadcastKeyByID(id byte, now time.Time) (BroadcastKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.broadcastCurrent != nil && k.broadcastCurrent.ID == id {
		return *k.broadcastCurrent, nil
	}
	if k.broadcastPrevious != nil && k.broadcastPrevious.ID == id && k.broadcastPrevious.Valid(now) {
		return *k.broadcastPrevious, nil
	}
	return BroadcastKey{}, ErrKeyUnavailable
}

// --- Sensor-side ---

// ErrKeyUnavailable mirrors shdccrypto.ErrKeyUnavailable for callers that
// only import pkg/keystore.
var ErrKeyUnavailable = shdccrypto.ErrKeyUnavailable

// SetHubRecord installs the hub record produced by a successful join.
func (k *Keystore) SetHubRecord(rec HubRecord) {
	k.mu.Lock()
	defer k.mu.Unlock()
	r := rec
	k.hub = &r
}

// HubRecord returns the current hub record, if any.
func (k *Keystore) HubRecord() (HubRecord, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.hub == nil {
		return HubRecord{}, ErrNoHubRecord
	}
	return *k.hub, nil
}

// ApplySessionRotation installs a new session key on the sensor's hub
// record, as directed by an incoming session-scope KEY_ROTATION.
func (k *Keystore) ApplySessionRotation(key [32]byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.hub == nil {
		return ErrNoHubRecord
	}
	k.hub.SessionKey = SessionKey{Key: key}
	return nil
}

// ApplyBroadcastRotation installs a new broadcast key on the sensor's hub
// record, retiring the previous one with a grace window.
func (k *Keystore) ApplyBroadcastRotation(key [32]byte, id byte, now time.Time) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.hub == nil {
		return ErrNoHubRecord
	}
	prev := k.hub.BroadcastKey
	prev.ExpiresAt = now.Add(BroadcastRotationGrace)
	k.hub.PreviousBroadcast = &prev
	k.hub.BroadcastKey = BroadcastKey{Key: key, ID: id}
	return nil
}

// SensorBroadcastKeyByID resolves a broadcast key on the sensor side,
// checking current then previous (within grace).
func (k *Keystore) SensorBroadcastKeyByID(id byte, now time.Time) (BroadcastKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.hub == nil {
		return BroadcastKey{}, ErrNoHubRecord
	}
	if k.hub.BroadcastKey.ID == id {
		return k.hub.BroadcastKey, nil
	}
	if k.hub.PreviousBroadcast != nil && k.hub.PreviousBroadcast.ID == id && k.hub.PreviousBroadcast.Valid(now) {
		return *k.hub.PreviousBroadcast, nil
	}
	return BroadcastKey{}, ErrKeyUnavailable
}
