package engine

// DeviceID is the 32-bit device identifier from spec.md §3. 0 is the
// sentinel "unassigned" sender used by a sensor before it has joined.
type DeviceID = uint32

// SensorState is the hub's per-sensor view, per spec.md §4.5.
type SensorState int

const (
	SensorUnknown SensorState = iota
	SensorJoining
	SensorActive
)

func (s SensorState) String() string {
	switch s {
	case SensorUnknown:
		return "UNKNOWN"
	case SensorJoining:
		return "JOINING"
	case SensorActive:
		return "ACTIVE"
	default:
		return "INVALID"
	}
}

// DeviceState is the sensor's own state machine, per spec.md §4.5.
type DeviceState int

const (
	StateIdle DeviceState = iota
	StateDiscovering
	StateJoining
	StateActive
)

func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDiscovering:
		return "DISCOVERING"
	case StateJoining:
		return "JOINING"
	case StateActive:
		return "ACTIVE"
	default:
		return "INVALID"
	}
}

// SensorInfo is handed to OnJoined: a read-only snapshot of a hub-side
// SensorRecord, independent of pkg/keystore's internal shape. OnLeft
// receives only the DeviceID.
type SensorInfo struct {
	DeviceID  DeviceID
	PublicKey [32]byte
}

// Handlers is the set of application callbacks an Engine invokes. Fields
// left nil are simply not called; this is the typed-callback-field shape
// spec.md §9 prescribes in place of a dynamic handler-registry.
type Handlers struct {
	OnJoined func(SensorInfo)
	OnEvent  func(deviceID DeviceID, eventType byte, data []byte)
	OnLeft   func(deviceID DeviceID)
	OnError  func(kind ErrorKind, context string)
	// OnCommand fires on a sensor engine when a BROADCAST_COMMAND from
	// the hub is received and opened.
	OnCommand func(commandType byte, commandData []byte)
}

func (h Handlers) emitError(kind ErrorKind, context string) {
	if h.OnError != nil {
		h.OnError(kind, context)
	}
}

func (h Handlers) emitJoined(info SensorInfo) {
	if h.OnJoined != nil {
		h.OnJoined(info)
	}
}

func (h Handlers) emitEvent(deviceID DeviceID, eventType byte, data []byte) {
	if h.OnEvent != nil {
		h.OnEvent(deviceID, eventType, data)
	}
}

func (h Handlers) emitLeft(deviceID DeviceID) {
	if h.OnLeft != nil {
		h.OnLeft(deviceID)
	}
}
