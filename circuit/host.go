// Package circuit implements the per-peer reliability layer described by
// the message system: sequence numbering, acknowledgment, timed
// retransmission, duplicate suppression, liveness detection, and
// bandwidth throttling on top of a non-blocking datagram transport.
package circuit

import (
	"fmt"
	"net/netip"
)

// A Host is a peer's addressing tuple. It has value semantics and is used
// directly as a map key by Table.
type Host struct {
	Addr netip.Addr
	Port uint16
}

// NewHost returns the Host for addr and port.
func NewHost(addr netip.Addr, port uint16) Host {
	return Host{Addr: addr, Port: port}
}

// ParseHost parses "ip:port" into a Host.
func ParseHost(s string) (Host, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Host{}, fmt.Errorf("circuit: parse host: %w", err)
	}
	return Host{Addr: ap.Addr(), Port: ap.Port()}, nil
}

func (h Host) String() string {
	return netip.AddrPortFrom(h.Addr, h.Port).String()
}

// IsValid reports whether h has a usable address.
func (h Host) IsValid() bool {
	return h.Addr.IsValid()
}
