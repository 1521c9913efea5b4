package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pion/logging"
	"golang.org/x/net/ipv4"

	"shdc/pkg/wire"
)

var zeroTime time.Time

// UDPConfig configures a UDP transport.
type UDPConfig struct {
	// ListenAddr is the local address to bind, e.g. ":56700".
	ListenAddr string
	// MulticastInterface, if set, joins the SHDC discovery multicast
	// group (239.255.0.1) on that interface. A failed join is logged as a
	// warning and NewUDP still returns the bound socket, which keeps
	// receiving unicast and IPv4 broadcast (255.255.255.255:56700)
	// datagrams.
	MulticastInterface *net.Interface
	LoggerFactory      logging.LoggerFactory
}

// UDP is the reference Transport: a net.PacketConn wrapped with optional
// IPv4 multicast group membership for discovery, adapted from the
// teacher's pkg/transport/udp.go.
type UDP struct {
	conn   net.PacketConn
	log    logging.LeveledLogger
	closed chan struct{}
}

// NewUDP binds a UDP socket per cfg and, if MulticastInterface is set,
// joins the SHDC discovery multicast group on it.
func NewUDP(cfg UDPConfig) (*UDP, error) {
	logFactory := cfg.LoggerFactory
	if logFactory == nil {
		logFactory = logging.NewDefaultLoggerFactory()
	}
	log := logFactory.NewLogger("transport")

	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%d", wire.Port)
	}

	conn, err := net.ListenPacket("udp4", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if cfg.MulticastInterface != nil {
		pconn := ipv4.NewPacketConn(conn)
		group := &net.UDPAddr{IP: net.ParseIP(wire.MulticastGroup)}
		if err := pconn.JoinGroup(cfg.MulticastInterface, group); err != nil {
			log.Warnf("failed to join multicast group %s on %s: %v; discovery will rely on broadcast",
				wire.MulticastGroup, cfg.MulticastInterface.Name, err)
		} else {
			log.Infof("joined multicast group %s on %s", wire.MulticastGroup, cfg.MulticastInterface.Name)
		}
	}

	return &UDP{conn: conn, log: log, closed: make(chan struct{})}, nil
}

func (u *UDP) Send(ctx context.Context, addr net.Addr, data []byte) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = u.conn.SetWriteDeadline(dl)
	} else {
		_ = u.conn.SetWriteDeadline(zeroTime)
	}
	if _, err := u.conn.WriteTo(data, addr); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (u *UDP) Recv(ctx context.Context) (Datagram, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = u.conn.SetReadDeadline(dl)
	} else {
		_ = u.conn.SetReadDeadline(zeroTime)
	}

	buf := make([]byte, wire.MaxPacketSize)
	n, addr, err := u.conn.ReadFrom(buf)
	if err != nil {
		select {
		case <-ctx.Done():
			return Datagram{}, ctx.Err()
		default:
			return Datagram{}, fmt.Errorf("%w: %v", ErrRecvFailed, err)
		}
	}
	return Datagram{Addr: addr, Data: buf[:n]}, nil
}

func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) Close() error {
	select {
	case <-u.closed:
		return nil
	default:
		close(u.closed)
	}
	return u.conn.Close()
}
