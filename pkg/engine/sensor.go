package engine

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"shdc/pkg/keystore"
	"shdc/pkg/replay"
	"shdc/pkg/shdccrypto"
	"shdc/pkg/transport"
	"shdc/pkg/wire"
)

// engineTick is the sensor loop's polling resolution for discovery retries
// and deadline checks, chosen well below discoveryBaseDelay so backoff
// timing stays accurate without a per-timer goroutine for every pending
// deadline.
const engineTick = 50 * time.Millisecond

// sensorCryptoFailureThreshold is how many consecutive authenticate()
// failures classified as crypto errors (bad signature) the sensor tolerates
// while ACTIVE before assuming the hub's session state has diverged from its
// own and falling back to DISCOVERING. Failed AEAD opens of
// BROADCAST_COMMAND or KEY_ROTATION payloads are not counted: they happen
// after authenticate() has succeeded, and a successful authenticate() resets
// the count to zero.
const sensorCryptoFailureThreshold = 5

// apiRequest is one application call handed to the sensor's single loop
// goroutine, which is the only goroutine that touches loop-owned state
// (state, deviceID, hubAddr, backoff, pending*).
type apiRequest struct {
	kind      string
	timeout   time.Duration
	hubAddr   net.Addr
	eventType byte
	data      []byte
	resp      chan error
}

// SensorConfig configures a Sensor engine.
type SensorConfig struct {
	// Keystore must already hold this sensor's identity.
	Keystore *keystore.Keystore
	// Transport is the datagram I/O this sensor sends and receives over.
	Transport transport.Transport
	// DiscoveryAddr is the destination HUB_DISCOVERY_REQ is sent to (a
	// multicast or subnet broadcast address). It is ignored by
	// pkg/transport.Pipe, which has exactly one peer.
	DiscoveryAddr net.Addr
	// DeviceInfo is the free-text description carried in
	// HUB_DISCOVERY_REQ and JOIN_REQUEST.
	DeviceInfo    string
	Handlers      Handlers
	LoggerFactory logging.LoggerFactory
}

// Sensor is the sensor-side SHDC engine: it runs the IDLE -> DISCOVERING ->
// JOINING -> ACTIVE state machine from spec.md §4.5 on a single internal
// goroutine that serializes three event sources: inbound datagrams,
// application calls (Discover/Join/SendEvent), and its own retry/deadline
// timers.
type Sensor struct {
	ks            *keystore.Keystore
	tr            transport.Transport
	guard         *replay.Guard
	handlers      Handlers
	discoveryAddr net.Addr
	deviceInfo    string
	log           logging.LeveledLogger

	apiCh   chan apiRequest
	inbox   chan transport.Datagram
	stopped chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stateAtomic atomic.Int32

	// Loop-owned: touched only inside loop().
	state     DeviceState
	deviceID  DeviceID
	hubID     DeviceID
	hubPubKey [32]byte
	hubAddr   net.Addr
	backoff   discoveryBackoff

	pendingDiscover     chan error
	nextDiscoveryRetry  time.Time
	discoveryDeadlineAt time.Time

	pendingJoin    chan error
	joinDeadlineAt time.Time

	cryptoFailures int
}

// NewSensor constructs a Sensor ready to Start. cfg.Keystore must already
// hold this sensor's identity keypair.
func NewSensor(cfg SensorConfig) (*Sensor, error) {
	if cfg.Keystore == nil {
		return nil, ErrIdentityMissing
	}
	logFactory := cfg.LoggerFactory
	if logFactory == nil {
		logFactory = logging.NewDefaultLoggerFactory()
	}
	return &Sensor{
		ks:            cfg.Keystore,
		tr:            cfg.Transport,
		guard:         replay.New(),
		handlers:      cfg.Handlers,
		discoveryAddr: cfg.DiscoveryAddr,
		deviceInfo:    cfg.DeviceInfo,
		log:           logFactory.NewLogger("engine-sensor"),
		apiCh:         make(chan apiRequest),
		inbox:         make(chan transport.Datagram, 16),
		stopped:       make(chan struct{}),
	}, nil
}

// Start spawns the receive pump and the engine loop.
func (s *Sensor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(2)
	go s.recvPump(runCtx)
	go s.loop(runCtx)
}

// Stop cancels the engine and waits for its goroutines to exit. It does not
// close the underlying Transport, which the caller owns.
func (s *Sensor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// State returns the sensor's current state. Safe for concurrent use.
func (s *Sensor) State() DeviceState {
	return DeviceState(s.stateAtomic.Load())
}

// DeviceID returns the id assigned at join, or 0 before joining.
func (s *Sensor) DeviceID() DeviceID {
	return DeviceID(atomic.LoadUint32((*uint32)(&s.deviceID)))
}

func (s *Sensor) setState(state DeviceState) {
	s.state = state
	s.stateAtomic.Store(int32(state))
}

func (s *Sensor) recvPump(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		recvCtx, cancel := context.WithTimeout(ctx, recvPollInterval)
		dg, err := s.tr.Recv(recvCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			s.handlers.emitError(ErrorKindTransport, err.Error())
			continue
		}
		select {
		case s.inbox <- dg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sensor) loop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.stopped)
	ticker := time.NewTicker(engineTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case dg := <-s.inbox:
			s.handleDatagram(dg)
		case req := <-s.apiCh:
			s.handleAPI(req)
		case <-ticker.C:
			s.onTick()
		}
	}
}

func (s *Sensor) onTick() {
	now := time.Now()

	if s.state == StateDiscovering && s.pendingDiscover != nil {
		if now.After(s.discoveryDeadlineAt) {
			pending := s.pendingDiscover
			s.pendingDiscover = nil
			s.setState(StateIdle)
			pending <- ErrTimeout
			return
		}
		if !now.Before(s.nextDiscoveryRetry) {
			if err := s.sendDiscoveryReq(); err != nil {
				s.handlers.emitError(ErrorKindTransport, err.Error())
			}
			s.nextDiscoveryRetry = now.Add(s.backoff.next())
		}
	}

	if s.state == StateJoining && s.pendingJoin != nil && !s.joinDeadlineAt.IsZero() {
		if now.After(s.joinDeadlineAt) {
			pending := s.pendingJoin
			s.pendingJoin = nil
			s.joinDeadlineAt = time.Time{}
			s.setState(StateDiscovering)
			s.backoff.reset()
			pending <- ErrTimeout
		}
	}
}

func (s *Sensor) handleAPI(req apiRequest) {
	switch req.kind {
	case "discover":
		if s.state != StateIdle {
			req.resp <- ErrWrongState
			return
		}
		s.setState(StateDiscovering)
		s.backoff.reset()
		s.pendingDiscover = req.resp

		deadline := req.timeout
		if deadline <= 0 || deadline > discoveryDeadline {
			deadline = discoveryDeadline
		}
		s.discoveryDeadlineAt = time.Now().Add(deadline)

		if err := s.sendDiscoveryReq(); err != nil {
			s.handlers.emitError(ErrorKindTransport, err.Error())
		}
		s.nextDiscoveryRetry = time.Now().Add(s.backoff.next())

	case "join":
		if s.state != StateJoining {
			req.resp <- ErrWrongState
			return
		}
		if req.hubAddr != nil {
			s.hubAddr = req.hubAddr
		}
		s.pendingJoin = req.resp
		s.joinDeadlineAt = time.Now().Add(req.timeout)
		if err := s.sendJoinRequest(); err != nil {
			pending := s.pendingJoin
			s.pendingJoin = nil
			s.joinDeadlineAt = time.Time{}
			pending <- err
		}

	case "sendEvent":
		if s.state != StateActive {
			req.resp <- ErrWrongState
			return
		}
		req.resp <- s.sendEventReport(req.eventType, req.data)

	default:
		req.resp <- ErrWrongState
	}
}

// Discover broadcasts HUB_DISCOVERY_REQ on the discoveryBackoff schedule
// (5, 10, 20, 30, 30, ... seconds) until a signed HUB_DISCOVERY_RESP
// arrives, timeout elapses, or the overall 5-minute discovery ceiling is
// reached, whichever comes first. On success the sensor transitions to
// JOINING.
func (s *Sensor) Discover(ctx context.Context, timeout time.Duration) error {
	return s.call(ctx, apiRequest{kind: "discover", timeout: timeout})
}

// Join sends JOIN_REQUEST to hubAddr and waits up to timeout for a
// JOIN_RESPONSE. It requires the sensor to already be in JOINING, which only
// a successful Discover reaches; a non-nil hubAddr replaces the address the
// HUB_DISCOVERY_RESP came from.
func (s *Sensor) Join(ctx context.Context, hubAddr net.Addr, timeout time.Duration) error {
	return s.call(ctx, apiRequest{kind: "join", hubAddr: hubAddr, timeout: timeout})
}

// SendEvent seals and sends an EVENT_REPORT under the current session key.
// It requires the sensor to be ACTIVE.
func (s *Sensor) SendEvent(ctx context.Context, eventType byte, data []byte) error {
	return s.call(ctx, apiRequest{kind: "sendEvent", eventType: eventType, data: data})
}

func (s *Sensor) call(ctx context.Context, req apiRequest) error {
	resp := make(chan error, 1)
	req.resp = resp
	select {
	case s.apiCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
}

// resolveSigner implements resolveSignerFunc for the sensor role.
func (s *Sensor) resolveSigner(hdr wire.Header, payload []byte) ([32]byte, error) {
	switch hdr.Type {
	case wire.HubDiscoveryResp:
		p, err := wire.DecodeHubDiscoveryRespPayload(payload)
		if err != nil {
			return [32]byte{}, err
		}
		return p.HubPublicKey, nil
	case wire.JoinResponse, wire.BroadcastCommand, wire.KeyRotation:
		if s.hubPubKey == ([32]byte{}) {
			return [32]byte{}, ErrUnknownDevice
		}
		return s.hubPubKey, nil
	default:
		return [32]byte{}, ErrWrongState
	}
}

func (s *Sensor) handleDatagram(dg transport.Datagram) {
	pkt, err := authenticate(dg.Data, s.guard, time.Now(), s.resolveSigner)
	if err != nil {
		kind := classifyErr(err)
		if kind == ErrorKindCrypto && s.state == StateActive {
			s.cryptoFailures++
			if s.cryptoFailures >= sensorCryptoFailureThreshold {
				s.cryptoFailures = 0
				s.setState(StateDiscovering)
				s.backoff.reset()
			}
		}
		s.handlers.emitError(kind, err.Error())
		return
	}
	s.cryptoFailures = 0

	switch pkt.Header.Type {
	case wire.HubDiscoveryResp:
		s.onDiscoveryResp(pkt, dg.Addr)
	case wire.JoinResponse:
		s.onJoinResponse(pkt)
	case wire.BroadcastCommand:
		s.onBroadcastCommand(pkt)
	case wire.KeyRotation:
		s.onKeyRotation(pkt)
	default:
		s.handlers.emitError(ErrorKindProtocol, "unexpected message type at sensor: "+pkt.Header.Type.String())
	}
}

func (s *Sensor) onDiscoveryResp(pkt wire.Packet, addr net.Addr) {
	if s.state != StateDiscovering || s.pendingDiscover == nil {
		return
	}
	resp, err := wire.DecodeHubDiscoveryRespPayload(pkt.Payload)
	if err != nil {
		s.handlers.emitError(ErrorKindDecode, err.Error())
		return
	}

	s.hubPubKey = resp.HubPublicKey
	s.hubID = resp.HubID
	s.hubAddr = addr
	s.setState(StateJoining)
	s.backoff.reset()

	pending := s.pendingDiscover
	s.pendingDiscover = nil
	pending <- nil
}

func (s *Sensor) onJoinResponse(pkt wire.Packet) {
	if s.state != StateJoining || s.pendingJoin == nil {
		return
	}
	if len(pkt.Payload) < 32 {
		s.handlers.emitError(ErrorKindDecode, "JOIN_RESPONSE payload shorter than the ephemeral key")
		return
	}
	var ephPub [32]byte
	copy(ephPub[:], pkt.Payload[:32])
	ciphertext := pkt.Payload[32:]

	plaintextBytes, err := shdccrypto.OpenJoinResponse(s.ks.Identity().Seed(), ephPub, pkt.Header.Encode(), ciphertext)
	if err != nil {
		s.handlers.emitError(ErrorKindCrypto, err.Error())
		return
	}
	plaintext, err := wire.DecodeJoinResponsePlaintext(plaintextBytes)
	if err != nil {
		s.handlers.emitError(ErrorKindDecode, err.Error())
		return
	}

	atomic.StoreUint32(&s.deviceID, plaintext.AssignedID)
	s.ks.SetHubRecord(keystore.HubRecord{
		HubID:        s.hubID,
		HubPubKey:    s.hubPubKey,
		HubAddr:      s.hubAddr.String(),
		SessionKey:   keystore.SessionKey{Key: plaintext.SessionKey},
		BroadcastKey: keystore.BroadcastKey{Key: plaintext.BroadcastKey, ID: plaintext.BroadcastKeyID},
	})
	s.setState(StateActive)

	pending := s.pendingJoin
	s.pendingJoin = nil
	s.joinDeadlineAt = time.Time{}
	s.handlers.emitJoined(SensorInfo{DeviceID: s.deviceID, PublicKey: s.ks.Identity().PublicKey})
	pending <- nil
}

func (s *Sensor) onBroadcastCommand(pkt wire.Packet) {
	if s.state != StateActive {
		return
	}
	w, err := wire.DecodeBroadcastCommandWire(pkt.Payload)
	if err != nil {
		s.handlers.emitError(ErrorKindDecode, err.Error())
		return
	}
	bk, err := s.ks.SensorBroadcastKeyByID(w.BroadcastKeyID, time.Now())
	if err != nil {
		s.handlers.emitError(ErrorKindCrypto, err.Error())
		return
	}

	nonce := shdccrypto.Nonce(pkt.Header.Timestamp, pkt.Header.DeviceID, pkt.Header.Nonce)
	plaintext, err := shdccrypto.Open(bk.Key, nonce, pkt.Header.Encode(), w.Ciphertext)
	if err != nil {
		s.handlers.emitError(ErrorKindCrypto, err.Error())
		return
	}
	cmd, err := wire.DecodeBroadcastCommandPlaintext(plaintext)
	if err != nil {
		s.handlers.emitError(ErrorKindDecode, err.Error())
		return
	}
	if s.handlers.OnCommand != nil {
		s.handlers.OnCommand(cmd.CommandType, cmd.CommandData)
	}
}

// onKeyRotation decrypts a KEY_ROTATION. The hub seals both scopes under the
// sensor's current session key (for a session-scope rotation, that is the
// retiring key), so the session key is tried first; the current broadcast
// key is tried if that fails. The scope byte itself is only known once
// decrypted.
func (s *Sensor) onKeyRotation(pkt wire.Packet) {
	if s.state != StateActive {
		return
	}
	hubRec, err := s.ks.HubRecord()
	if err != nil {
		return
	}

	nonce := shdccrypto.Nonce(pkt.Header.Timestamp, pkt.Header.DeviceID, pkt.Header.Nonce)
	plaintext, err := shdccrypto.Open(hubRec.SessionKey.Key, nonce, pkt.Header.Encode(), pkt.Payload)
	if err != nil {
		plaintext, err = shdccrypto.Open(hubRec.BroadcastKey.Key, nonce, pkt.Header.Encode(), pkt.Payload)
	}
	if err != nil {
		s.handlers.emitError(ErrorKindCrypto, "KEY_ROTATION did not open under the current session or broadcast key")
		return
	}

	kr, err := wire.DecodeKeyRotationPlaintext(plaintext)
	if err != nil {
		s.handlers.emitError(ErrorKindDecode, err.Error())
		return
	}
	switch kr.Scope {
	case wire.ScopeSession:
		_ = s.ks.ApplySessionRotation(kr.NewKey)
	case wire.ScopeBroadcast:
		_ = s.ks.ApplyBroadcastRotation(kr.NewKey, kr.NewBroadcastKeyID, time.Now())
	}
}

func (s *Sensor) sendDiscoveryReq() error {
	payload := wire.HubDiscoveryReqPayload{PublicKey: s.ks.Identity().PublicKey, DeviceInfo: s.deviceInfo}
	nonce, err := randomNonce3()
	if err != nil {
		return err
	}
	header := wire.Header{Type: wire.HubDiscoveryReq, DeviceID: 0, Timestamp: uint32(time.Now().Unix()), Nonce: nonce}
	data := signAndSend(s.ks.Identity().PrivateKey, header, payload.Encode())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.tr.Send(ctx, s.discoveryAddr, data)
}

func (s *Sensor) sendJoinRequest() error {
	payload := wire.JoinRequestPayload{PublicKey: s.ks.Identity().PublicKey, DeviceInfo: s.deviceInfo}
	nonce, err := randomNonce3()
	if err != nil {
		return err
	}
	header := wire.Header{Type: wire.JoinRequest, DeviceID: 0, Timestamp: uint32(time.Now().Unix()), Nonce: nonce}
	data := signAndSend(s.ks.Identity().PrivateKey, header, payload.Encode())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.tr.Send(ctx, s.hubAddr, data)
}

func (s *Sensor) sendEventReport(eventType byte, data []byte) error {
	hubRec, err := s.ks.HubRecord()
	if err != nil {
		return err
	}
	payload := wire.EventReportPlaintext{EventType: eventType, Data: data}.Encode()

	nonce, err := randomNonce3()
	if err != nil {
		return err
	}
	header := wire.Header{Type: wire.EventReport, DeviceID: s.deviceID, Timestamp: uint32(time.Now().Unix()), Nonce: nonce}
	aeadNonce := shdccrypto.Nonce(header.Timestamp, header.DeviceID, header.Nonce)
	ciphertext, err := shdccrypto.Seal(hubRec.SessionKey.Key, aeadNonce, header.Encode(), payload)
	if err != nil {
		return err
	}
	wireData := signAndSend(s.ks.Identity().PrivateKey, header, ciphertext)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.tr.Send(ctx, s.hubAddr, wireData)
}
