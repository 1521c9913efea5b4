package transport

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"

	"shdc/pkg/wire"
)

// NetworkCondition configures network behavior simulation on a Pipe, used
// to exercise ReplayGuard and the sensor's discovery backoff under loss and
// duplication without a real socket.
type NetworkCondition struct {
	// DropRate is the probability (0.0-1.0) of silently dropping a send.
	DropRate float64
	// DuplicateRate is the probability (0.0-1.0) of delivering a send
	// twice, used to exercise replay rejection (P5).
	DuplicateRate float64
}

// Pipe is an in-memory, bidirectional datagram link between two Transport
// endpoints, adapted from the teacher's pkg/transport/pipe.go: it wraps
// github.com/pion/transport/v3/test.Bridge and auto-delivers queued packets
// on a background ticker.
type Pipe struct {
	bridge *test.Bridge

	mu          sync.RWMutex
	condition   NetworkCondition
	rng         *rand.Rand
	autoProcess bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
	closed      bool
}

// NewPipe creates a Pipe with auto-processing enabled.
func NewPipe() *Pipe {
	p := &Pipe{
		bridge:      test.NewBridge(),
		rng:         rand.New(rand.NewSource(1)),
		autoProcess: true,
		stopCh:      make(chan struct{}),
	}
	p.startAutoProcess()
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetCondition configures network condition simulation for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Side returns a Transport for endpoint id (0 or 1); the other id is its
// peer.
func (p *Pipe) Side(id int) Transport {
	var conn net.Conn
	if id == 0 {
		conn = p.bridge.GetConn0()
	} else {
		conn = p.bridge.GetConn1()
	}
	return &pipeTransport{
		conn:      conn,
		pipe:      p,
		localAddr: PipeAddr{ID: id},
		peerAddr:  PipeAddr{ID: 1 - id},
	}
}

// Close stops auto-processing and closes both endpoints.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()

	p.bridge.GetConn0().Close()
	p.bridge.GetConn1().Close()
	return nil
}

// NewPipePair returns two connected Transports and a cleanup func, for
// pairing a Hub engine and a Sensor engine in deterministic tests.
func NewPipePair() (Transport, Transport, func()) {
	p := NewPipe()
	return p.Side(0), p.Side(1), func() { p.Close() }
}

// PipeAddr implements net.Addr for a Pipe endpoint.
type PipeAddr struct {
	ID int
}

func (a PipeAddr) Network() string { return "pipe" }
func (a PipeAddr) String() string  { return fmt.Sprintf("pipe:%d", a.ID) }

type pipeTransport struct {
	conn      net.Conn
	pipe      *Pipe
	localAddr PipeAddr
	peerAddr  PipeAddr
}

func (t *pipeTransport) Send(ctx context.Context, _ net.Addr, data []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	} else {
		_ = t.conn.SetWriteDeadline(zeroTime)
	}

	t.pipe.mu.RLock()
	cond := t.pipe.condition
	rng := t.pipe.rng
	t.pipe.mu.RUnlock()

	if cond.DropRate > 0 && rng.Float64() < cond.DropRate {
		return nil
	}
	if _, err := t.conn.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if cond.DuplicateRate > 0 && rng.Float64() < cond.DuplicateRate {
		_, _ = t.conn.Write(data)
	}
	return nil
}

func (t *pipeTransport) Recv(ctx context.Context) (Datagram, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetReadDeadline(dl)
	} else {
		_ = t.conn.SetReadDeadline(zeroTime)
	}

	buf := make([]byte, wire.MaxPacketSize)
	n, err := t.conn.Read(buf)
	if err != nil {
		select {
		case <-ctx.Done():
			return Datagram{}, ctx.Err()
		default:
			return Datagram{}, fmt.Errorf("%w: %v", ErrRecvFailed, err)
		}
	}
	data := make([]byte, n)
	copy(data, buf[:n])
	return Datagram{Addr: t.peerAddr, Data: data}, nil
}

func (t *pipeTransport) LocalAddr() net.Addr { return t.localAddr }

func (t *pipeTransport) Close() error { return t.conn.Close() }
