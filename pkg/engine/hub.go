package engine

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"shdc/pkg/keystore"
	"shdc/pkg/replay"
	"shdc/pkg/shdccrypto"
	"shdc/pkg/transport"
	"shdc/pkg/wire"
)

// recvPollInterval bounds how long a single Transport.Recv call is allowed
// to block, so the receive loop notices context cancellation (and, for the
// production UDP transport, never blocks past a plausible shutdown) without
// a native way to interrupt a pending socket read.
const recvPollInterval = time.Second

// broadcastValidFromDelay is how far into the future a BROADCAST scope
// KEY_ROTATION's valid_from field is set, giving every active sensor time to
// receive and install the new key before the hub switches to sealing
// BROADCAST_COMMAND under it.
const broadcastValidFromDelay = 5 * time.Second

// eventDecryptFailureThreshold is how many consecutive EVENT_REPORTs from
// one sensor may fail to open under any known session key before the hub
// treats it as a key mismatch and resets that sensor to UNKNOWN, per
// spec.md §4.5's "administrative reset / key mismatch" hub transition.
const eventDecryptFailureThreshold = 5

// HubConfig configures a Hub engine.
type HubConfig struct {
	// HubID identifies this hub in HUB_DISCOVERY_RESP and as the DeviceID
	// field of every packet the hub sends.
	HubID DeviceID
	// Keystore must already hold this hub's identity.
	Keystore *keystore.Keystore
	// Transport is the datagram I/O this hub sends and receives over.
	Transport transport.Transport
	// BroadcastAddr, if set, is the single address Broadcast sends to
	// (a multicast or subnet broadcast address). If unset, Broadcast
	// fans out to every known sensor's last-seen unicast address.
	BroadcastAddr net.Addr
	// Capabilities is the free-text capability string HUB_DISCOVERY_RESP
	// advertises.
	Capabilities string
	// BroadcastRotationInterval defaults to 15 minutes.
	BroadcastRotationInterval time.Duration
	// SessionRotationInterval defaults to 24 hours.
	SessionRotationInterval time.Duration
	Handlers                Handlers
	LoggerFactory           logging.LoggerFactory
}

// Hub is the hub-side SHDC engine: it answers discovery and join requests,
// decrypts EVENT_REPORTs, and drives periodic broadcast- and session-key
// rotation, per spec.md §4.5.
type Hub struct {
	id            DeviceID
	ks            *keystore.Keystore
	tr            transport.Transport
	guard         *replay.Guard
	handlers      Handlers
	broadcastAddr net.Addr
	capabilities  string
	log           logging.LeveledLogger

	broadcastRotationInterval time.Duration
	sessionRotationInterval   time.Duration

	mu              sync.Mutex
	sensorStates    map[DeviceID]SensorState
	sensorAddrs     map[DeviceID]net.Addr
	decryptFailures map[DeviceID]int

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub constructs a Hub ready to Start. cfg.Keystore must already hold
// this hub's identity keypair (see pkg/keystore.LoadOrCreateIdentity).
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Keystore == nil {
		return nil, ErrIdentityMissing
	}
	logFactory := cfg.LoggerFactory
	if logFactory == nil {
		logFactory = logging.NewDefaultLoggerFactory()
	}

	broadcastInterval := cfg.BroadcastRotationInterval
	if broadcastInterval == 0 {
		broadcastInterval = 15 * time.Minute
	}
	sessionInterval := cfg.SessionRotationInterval
	if sessionInterval == 0 {
		sessionInterval = 24 * time.Hour
	}

	return &Hub{
		id:                        cfg.HubID,
		ks:                        cfg.Keystore,
		tr:                        cfg.Transport,
		guard:                     replay.New(),
		handlers:                  cfg.Handlers,
		broadcastAddr:             cfg.BroadcastAddr,
		capabilities:              cfg.Capabilities,
		log:                       logFactory.NewLogger("engine-hub"),
		broadcastRotationInterval: broadcastInterval,
		sessionRotationInterval:   sessionInterval,
		sensorStates:              make(map[DeviceID]SensorState),
		sensorAddrs:               make(map[DeviceID]net.Addr),
		decryptFailures:           make(map[DeviceID]int),
	}, nil
}

// Start begins serving: it installs an initial broadcast key immediately
// (there are no sensors yet to race with, so no rotation announcement is
// needed), then spawns the receive loop and the periodic rotation
// schedulers.
func (h *Hub) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	h.runCtx = runCtx
	h.cancel = cancel

	if _, err := h.ks.CurrentBroadcast(); err != nil {
		if _, err := h.ks.RotateBroadcast(time.Now()); err != nil {
			cancel()
			return err
		}
	}

	h.wg.Add(3)
	go h.recvLoop(runCtx)
	go h.broadcastRotationLoop(runCtx)
	go h.sessionRotationLoop(runCtx)
	return nil
}

// Stop cancels all background goroutines and waits for them to exit. It
// does not close the underlying Transport, which the caller owns.
func (h *Hub) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

func (h *Hub) recvLoop(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		recvCtx, cancel := context.WithTimeout(ctx, recvPollInterval)
		dg, err := h.tr.Recv(recvCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			h.handlers.emitError(ErrorKindTransport, err.Error())
			continue
		}
		h.handleDatagram(dg)
	}
}

func (h *Hub) broadcastRotationLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.broadcastRotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.RotateBroadcast(); err != nil {
				h.handlers.emitError(ErrorKindProtocol, err.Error())
			}
		}
	}
}

func (h *Hub) sessionRotationLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.sessionRotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rec := range h.ks.ListSensors() {
				if err := h.RotateSession(rec.DeviceID); err != nil {
					h.handlers.emitError(ErrorKindProtocol, err.Error())
				}
			}
		}
	}
}

// resolveSigner implements resolveSignerFunc for the hub role.
func (h *Hub) resolveSigner(hdr wire.Header, payload []byte) ([32]byte, error) {
	switch hdr.Type {
	case wire.HubDiscoveryReq, wire.JoinRequest:
		p, err := wire.DecodeJoinRequestPayload(payload)
		if err != nil {
			return [32]byte{}, err
		}
		return p.PublicKey, nil
	case wire.EventReport:
		rec, ok := h.ks.Sensor(hdr.DeviceID)
		if !ok {
			return [32]byte{}, ErrUnknownDevice
		}
		return rec.IdentityPubKey, nil
	default:
		return [32]byte{}, ErrWrongState
	}
}

func (h *Hub) handleDatagram(dg transport.Datagram) {
	pkt, err := authenticate(dg.Data, h.guard, time.Now(), h.resolveSigner)
	if err != nil {
		h.handlers.emitError(classifyErr(err), err.Error())
		return
	}

	switch pkt.Header.Type {
	case wire.HubDiscoveryReq:
		h.handleDiscoveryReq(pkt, dg.Addr)
	case wire.JoinRequest:
		h.handleJoinRequest(pkt, dg.Addr)
	case wire.EventReport:
		h.handleEventReport(pkt, dg.Addr)
	default:
		h.handlers.emitError(ErrorKindProtocol, "unexpected message type at hub: "+pkt.Header.Type.String())
	}
}

func (h *Hub) handleDiscoveryReq(pkt wire.Packet, addr net.Addr) {
	if _, err := wire.DecodeHubDiscoveryReqPayload(pkt.Payload); err != nil {
		h.handlers.emitError(ErrorKindDecode, err.Error())
		return
	}

	nonce, err := randomNonce3()
	if err != nil {
		h.handlers.emitError(ErrorKindCrypto, err.Error())
		return
	}
	resp := wire.HubDiscoveryRespPayload{
		HubID:        h.id,
		HubPublicKey: h.ks.Identity().PublicKey,
		Capabilities: h.capabilities,
	}
	header := wire.Header{Type: wire.HubDiscoveryResp, DeviceID: h.id, Timestamp: uint32(time.Now().Unix()), Nonce: nonce}
	data := signAndSend(h.ks.Identity().PrivateKey, header, resp.Encode())

	if err := h.send(addr, data); err != nil {
		h.handlers.emitError(ErrorKindTransport, err.Error())
	}
}

func (h *Hub) handleJoinRequest(pkt wire.Packet, addr net.Addr) {
	req, err := wire.DecodeJoinRequestPayload(pkt.Payload)
	if err != nil {
		h.handlers.emitError(ErrorKindDecode, err.Error())
		return
	}

	assignedID, err := h.ks.AllocateDeviceID()
	if err != nil {
		h.handlers.emitError(ErrorKindProtocol, err.Error())
		return
	}
	sessionKey, err := shdccrypto.RandomKey32()
	if err != nil {
		h.handlers.emitError(ErrorKindCrypto, err.Error())
		return
	}
	bcast, err := h.ks.CurrentBroadcast()
	if err != nil {
		h.handlers.emitError(ErrorKindProtocol, err.Error())
		return
	}

	h.ks.PutSensor(keystore.SensorRecord{
		DeviceID:       assignedID,
		IdentityPubKey: req.PublicKey,
		SessionKey:     keystore.SessionKey{Key: sessionKey},
		LastSeen:       time.Now(),
	})
	h.setSensorState(assignedID, SensorJoining)
	h.setSensorAddr(assignedID, addr)

	plaintext := wire.JoinResponsePlaintext{
		AssignedID:     assignedID,
		SessionKey:     sessionKey,
		BroadcastKeyID: bcast.ID,
		BroadcastKey:   bcast.Key,
	}

	nonce, err := randomNonce3()
	if err != nil {
		h.handlers.emitError(ErrorKindCrypto, err.Error())
		return
	}
	header := wire.Header{Type: wire.JoinResponse, DeviceID: h.id, Timestamp: uint32(time.Now().Unix()), Nonce: nonce}

	ephPub, ciphertext, err := shdccrypto.SealJoinResponse(req.PublicKey, header.Encode(), plaintext.Encode())
	if err != nil {
		h.handlers.emitError(ErrorKindCrypto, err.Error())
		return
	}
	wirePayload := make([]byte, 0, 32+len(ciphertext))
	wirePayload = append(wirePayload, ephPub[:]...)
	wirePayload = append(wirePayload, ciphertext...)

	data := signAndSend(h.ks.Identity().PrivateKey, header, wirePayload)
	if err := h.send(addr, data); err != nil {
		h.handlers.emitError(ErrorKindTransport, err.Error())
		return
	}
	h.handlers.emitJoined(SensorInfo{DeviceID: assignedID, PublicKey: req.PublicKey})
}

func (h *Hub) handleEventReport(pkt wire.Packet, addr net.Addr) {
	deviceID := pkt.Header.DeviceID
	keys, err := h.ks.SessionKeyFor(deviceID, time.Now())
	if err != nil {
		h.handlers.emitError(ErrorKindProtocol, err.Error())
		return
	}

	nonce := shdccrypto.Nonce(pkt.Header.Timestamp, pkt.Header.DeviceID, pkt.Header.Nonce)
	var plaintext []byte
	for _, k := range keys {
		if pt, openErr := shdccrypto.Open(k.Key, nonce, pkt.Header.Encode(), pkt.Payload); openErr == nil {
			plaintext = pt
			break
		}
	}
	if plaintext == nil {
		h.handlers.emitError(ErrorKindCrypto, "EVENT_REPORT did not open under any known session key")
		if h.bumpDecryptFailures(deviceID) {
			h.resetSensor(deviceID)
		}
		return
	}

	ev, err := wire.DecodeEventReportPlaintext(plaintext)
	if err != nil {
		h.handlers.emitError(ErrorKindDecode, err.Error())
		return
	}

	h.clearDecryptFailures(deviceID)
	h.ks.TouchLastSeen(deviceID, time.Now())
	h.setSensorAddr(deviceID, addr)
	if h.sensorState(deviceID) == SensorJoining {
		h.setSensorState(deviceID, SensorActive)
	}
	h.handlers.emitEvent(deviceID, ev.EventType, ev.Data)
}

// Broadcast seals cmdType/cmdData under the current broadcast key and sends
// it either to BroadcastAddr (if configured) or to every known sensor
// address.
func (h *Hub) Broadcast(cmdType byte, cmdData []byte) error {
	bk, err := h.ks.CurrentBroadcast()
	if err != nil {
		return err
	}
	plaintext := wire.BroadcastCommandPlaintext{CommandType: cmdType, CommandData: cmdData}.Encode()

	nonce, err := randomNonce3()
	if err != nil {
		return err
	}
	header := wire.Header{Type: wire.BroadcastCommand, DeviceID: h.id, Timestamp: uint32(time.Now().Unix()), Nonce: nonce}

	aeadNonce := shdccrypto.Nonce(header.Timestamp, header.DeviceID, header.Nonce)
	ciphertext, err := shdccrypto.Seal(bk.Key, aeadNonce, header.Encode(), plaintext)
	if err != nil {
		return err
	}
	wirePayload := wire.BroadcastCommandWire{BroadcastKeyID: bk.ID, Ciphertext: ciphertext}.Encode()
	data := signAndSend(h.ks.Identity().PrivateKey, header, wirePayload)

	if h.broadcastAddr != nil {
		return h.send(h.broadcastAddr, data)
	}
	for _, addr := range h.sensorAddresses() {
		if err := h.send(addr, data); err != nil {
			h.handlers.emitError(ErrorKindTransport, err.Error())
		}
	}
	return nil
}

// RotateSession issues a fresh session key for deviceID, sealed under the
// retiring key, per spec.md §4.5.
func (h *Hub) RotateSession(deviceID DeviceID) error {
	old, ok := h.ks.Sensor(deviceID)
	if !ok {
		return ErrUnknownDevice
	}
	newKey, err := h.ks.RotateSession(deviceID, time.Now())
	if err != nil {
		return err
	}

	plaintext := wire.KeyRotationPlaintext{
		Scope:     wire.ScopeSession,
		NewKey:    newKey.Key,
		ValidFrom: uint32(time.Now().Unix()),
	}
	return h.sendKeyRotation(deviceID, old.SessionKey.Key, plaintext)
}

// RotateBroadcast distributes a fresh broadcast key to every known sensor,
// sealed under each sensor's own current session key, then activates it as
// the hub's current broadcast key only once Valid From has elapsed. This
// ordering is spec.md §5's guarantee that a rotation is applied before any
// subsequent packet is addressed with the new key: Broadcast keeps sealing
// under the outgoing key until activation flips CurrentBroadcast.
func (h *Hub) RotateBroadcast() error {
	var nextID byte
	if current, err := h.ks.CurrentBroadcast(); err == nil {
		nextID = current.ID + 1
	}
	newKey, err := shdccrypto.RandomKey32()
	if err != nil {
		return err
	}
	validFromAt := time.Now().Add(broadcastValidFromDelay)
	validFrom := uint32(validFromAt.Unix())

	for _, rec := range h.ks.ListSensors() {
		plaintext := wire.KeyRotationPlaintext{
			Scope:             wire.ScopeBroadcast,
			NewKey:            newKey,
			ValidFrom:         validFrom,
			NewBroadcastKeyID: nextID,
		}
		if err := h.sendKeyRotation(rec.DeviceID, rec.SessionKey.Key, plaintext); err != nil {
			h.handlers.emitError(ErrorKindTransport, err.Error())
		}
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		timer := time.NewTimer(time.Until(validFromAt))
		defer timer.Stop()
		select {
		case <-timer.C:
			h.ks.ActivateBroadcast(newKey, nextID, time.Now())
		case <-h.runCtx.Done():
		}
	}()
	return nil
}

func (h *Hub) sendKeyRotation(deviceID DeviceID, sealUnder [32]byte, plaintext wire.KeyRotationPlaintext) error {
	addr := h.sensorAddr(deviceID)
	if addr == nil {
		return ErrUnknownDevice
	}

	nonce, err := randomNonce3()
	if err != nil {
		return err
	}
	header := wire.Header{Type: wire.KeyRotation, DeviceID: h.id, Timestamp: uint32(time.Now().Unix()), Nonce: nonce}
	aeadNonce := shdccrypto.Nonce(header.Timestamp, header.DeviceID, header.Nonce)
	ciphertext, err := shdccrypto.Seal(sealUnder, aeadNonce, header.Encode(), plaintext.Encode())
	if err != nil {
		return err
	}
	data := signAndSend(h.ks.Identity().PrivateKey, header, ciphertext)
	return h.send(addr, data)
}

func (h *Hub) send(addr net.Addr, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.tr.Send(ctx, addr, data)
}

func (h *Hub) setSensorState(id DeviceID, state SensorState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sensorStates[id] = state
}

func (h *Hub) sensorState(id DeviceID) SensorState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sensorStates[id]
}

func (h *Hub) setSensorAddr(id DeviceID, addr net.Addr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sensorAddrs[id] = addr
}

func (h *Hub) sensorAddr(id DeviceID) net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sensorAddrs[id]
}

// bumpDecryptFailures records one more consecutive EVENT_REPORT decrypt
// failure for deviceID and reports whether eventDecryptFailureThreshold has
// now been reached.
func (h *Hub) bumpDecryptFailures(id DeviceID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decryptFailures[id]++
	return h.decryptFailures[id] >= eventDecryptFailureThreshold
}

func (h *Hub) clearDecryptFailures(id DeviceID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.decryptFailures, id)
}

// resetSensor performs spec.md §4.5's administrative reset: a sensor whose
// EVENT_REPORTs repeatedly fail to decrypt is assumed to have diverged key
// state (e.g. it missed a KEY_ROTATION) and is forgotten entirely, forcing it
// through discovery and join again from scratch.
func (h *Hub) resetSensor(id DeviceID) {
	h.ks.RemoveSensor(id)
	h.setSensorState(id, SensorUnknown)
	h.mu.Lock()
	delete(h.decryptFailures, id)
	delete(h.sensorAddrs, id)
	h.mu.Unlock()
	h.handlers.emitLeft(id)
}

func (h *Hub) sensorAddresses() []net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]net.Addr, 0, len(h.sensorAddrs))
	for _, a := range h.sensorAddrs {
		out = append(out, a)
	}
	return out
}

// classifyErr maps an authenticate() failure to the ErrorKind the on_error
// callback expects.
func classifyErr(err error) ErrorKind {
	switch err {
	case replay.ErrStaleTimestamp, replay.ErrReplayedNonce:
		return ErrorKindFreshness
	case shdccrypto.ErrBadSignature, shdccrypto.ErrAeadFailure:
		return ErrorKindCrypto
	case wire.ErrShortPacket, wire.ErrOversizePacket, wire.ErrUnknownType, wire.ErrPayloadSize, wire.ErrPayloadTruncated:
		return ErrorKindDecode
	default:
		return ErrorKindProtocol
	}
}
