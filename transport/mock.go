package transport

import (
	"sync"

	"github.com/openmetaverse-go/simwire/circuit"
)

// Mock is an in-memory circuit.Transport for tests: datagrams sent to it
// are queued and returned by Receive in FIFO order, with no actual I/O.
// Two Mocks can be wired to each other with Link to simulate a two-sided
// conversation.
type Mock struct {
	mu   sync.Mutex
	self circuit.Host
	peer *Mock
	in   []netPkt
}

// NewMock creates a Mock transport that identifies its own sends as
// coming from self (used only so a test can tell who a loopback datagram
// was "from").
func NewMock(self circuit.Host) *Mock {
	return &Mock{self: self}
}

// Link wires a and b together so that a.Send reaches b.Receive and vice
// versa.
func Link(a, b *Mock) {
	a.peer = b
	b.peer = a
}

// Send implements circuit.Transport by enqueuing data on the linked
// peer's inbound queue, tagged with this Mock's own host as sender.
func (m *Mock) Send(host circuit.Host, data []byte) (int, error) {
	if m.peer == nil {
		return len(data), nil
	}
	m.peer.mu.Lock()
	m.peer.in = append(m.peer.in, netPkt{host: m.self, data: data})
	m.peer.mu.Unlock()
	return len(data), nil
}

// Receive implements circuit.Transport.
func (m *Mock) Receive() (circuit.Host, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.in) == 0 {
		return circuit.Host{}, nil, circuit.ErrNoData
	}
	pkt := m.in[0]
	m.in = m.in[1:]
	return pkt.host, pkt.data, nil
}

// Deliver injects data as if it arrived from host, bypassing Link. Useful
// for tests that want to hand-craft a datagram.
func (m *Mock) Deliver(host circuit.Host, data []byte) {
	m.mu.Lock()
	m.in = append(m.in, netPkt{host: host, data: data})
	m.mu.Unlock()
}
