package transport

import (
	"errors"
	"fmt"

	"github.com/openmetaverse-go/simwire/circuit"
)

// Multi fans a single circuit.Transport interface out over several
// concrete transports (typically a UDP listener and a WebSocket listener)
// so one simwire.System can serve peers arriving over either one. Receive
// polls each member in turn; Send routes to whichever member currently
// owns the destination host, falling back to the first member that will
// accept an address it has never seen inbound traffic from (UDP can dial
// out cold; WebSocket cannot).
type Multi struct {
	members []circuit.Transport
	owner   func(circuit.Host) circuit.Transport
}

// NewMulti builds a Multi over members, in the order Receive will poll
// them. owner, if non-nil, is consulted by Send to pick the member that
// owns a destination host (e.g. WS.HasConn); when owner returns nil, or
// is itself nil, Send falls back to the first member.
func NewMulti(owner func(circuit.Host) circuit.Transport, members ...circuit.Transport) *Multi {
	return &Multi{members: members, owner: owner}
}

// Send implements circuit.Transport.
func (m *Multi) Send(host circuit.Host, data []byte) (int, error) {
	if len(m.members) == 0 {
		return 0, fmt.Errorf("transport: multi: no member transports configured")
	}
	if m.owner != nil {
		if t := m.owner(host); t != nil {
			return t.Send(host, data)
		}
	}
	return m.members[0].Send(host, data)
}

// Receive implements circuit.Transport: it polls each member once per
// call, always starting from the first, returning the first datagram any
// of them offers and circuit.ErrNoData only once every member has none.
func (m *Multi) Receive() (circuit.Host, []byte, error) {
	for _, t := range m.members {
		host, data, err := t.Receive()
		if err == nil {
			return host, data, nil
		}
		if !errors.Is(err, circuit.ErrNoData) {
			return circuit.Host{}, nil, err
		}
	}
	return circuit.Host{}, nil, circuit.ErrNoData
}
