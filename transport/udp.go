// Package transport provides concrete circuit.Transport implementations:
// a UDP socket, a WebSocket connection, and an in-memory pipe for tests.
package transport

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/openmetaverse-go/simwire/circuit"
)

// MaxDatagramSize bounds a single inbound read, matching the reference
// implementation's fixed-size UDP receive buffer.
const MaxDatagramSize = 1200

type netPkt struct {
	host circuit.Host
	data []byte
}

// UDP is a circuit.Transport backed by a net.PacketConn. Receive is
// non-blocking: a background goroutine reads from the socket and feeds a
// buffered channel, which Receive drains without blocking when empty.
type UDP struct {
	conn net.PacketConn

	pkts chan netPkt
	errs chan error

	closeOnce sync.Once
}

// ListenUDP opens a UDP socket bound to addr (e.g. ":9000") and starts its
// background reader.
func ListenUDP(addr string) (*UDP, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}
	return NewUDP(conn), nil
}

// NewUDP wraps an already-open net.PacketConn.
func NewUDP(conn net.PacketConn) *UDP {
	u := &UDP{
		conn: conn,
		pkts: make(chan netPkt, 256),
		errs: make(chan error, 1),
	}
	go u.readLoop()
	return u
}

func (u *UDP) readLoop() {
	for {
		buf := make([]byte, MaxDatagramSize)
		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				close(u.pkts)
				return
			}
			select {
			case u.errs <- err:
			default:
			}
			continue
		}

		host, err := hostFromAddr(addr)
		if err != nil {
			continue
		}
		u.pkts <- netPkt{host: host, data: buf[:n]}
	}
}

func hostFromAddr(addr net.Addr) (circuit.Host, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return circuit.Host{}, fmt.Errorf("transport: unexpected addr type %T", addr)
	}
	ip, ok := netip.AddrFromSlice(udpAddr.IP)
	if !ok {
		return circuit.Host{}, fmt.Errorf("transport: invalid ip %v", udpAddr.IP)
	}
	return circuit.NewHost(ip.Unmap(), uint16(udpAddr.Port)), nil
}

// Send implements circuit.Transport.
func (u *UDP) Send(host circuit.Host, data []byte) (int, error) {
	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(host.Addr, host.Port))
	n, err := u.conn.WriteTo(data, addr)
	if err != nil {
		return n, fmt.Errorf("transport: udp send: %w", err)
	}
	return n, nil
}

// Receive implements circuit.Transport. It returns circuit.ErrNoData when
// neither a datagram nor a read error is immediately available.
func (u *UDP) Receive() (circuit.Host, []byte, error) {
	select {
	case pkt, ok := <-u.pkts:
		if !ok {
			return circuit.Host{}, nil, fmt.Errorf("transport: udp closed")
		}
		return pkt.host, pkt.data, nil
	case err := <-u.errs:
		return circuit.Host{}, nil, fmt.Errorf("transport: udp receive: %w", err)
	default:
		return circuit.Host{}, nil, circuit.ErrNoData
	}
}

// Close closes the underlying socket, which unblocks and terminates the
// background reader.
func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() { err = u.conn.Close() })
	return err
}
