package simwire

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openmetaverse-go/simwire/circuit"
	"github.com/openmetaverse-go/simwire/transport"
)

func newLinkedSystems(t *testing.T, opts ...circuit.TableOption) (a, b *System, hostA, hostB circuit.Host) {
	t.Helper()

	hostA = circuit.NewHost(netip.MustParseAddr("10.0.0.1"), 1)
	hostB = circuit.NewHost(netip.MustParseAddr("10.0.0.2"), 2)

	mockA := transport.NewMock(hostA)
	mockB := transport.NewMock(hostB)
	transport.Link(mockA, mockB)

	tableA := circuit.NewTable(mockA, opts...)
	tableB := circuit.NewTable(mockB, opts...)

	a = NewSystem(tableA, mockA)
	b = NewSystem(tableB, mockB)

	return a, b, hostA, hostB
}

// S1: a ping sent to a peer is received by its handler, and the reply's
// piggybacked ack clears the original send from the sender's unacked set.
func TestScenarioPingRoundTrip(t *testing.T) {
	a, b, hostA, hostB := newLinkedSystems(t)

	var gotPing bool
	b.RegisterHandler("StartPingCheck", func(host circuit.Host, blocks map[string][]Instance, _ interface{}) error {
		gotPing = true
		require.Equal(t, hostA, host)
		require.Equal(t, uint8(1), blocks["PingID"][0]["ID"])
		return nil
	}, nil)

	require.NoError(t, a.NewMessage("StartPingCheck"))
	require.NoError(t, a.NextBlock("PingID"))
	require.NoError(t, a.AddUint8("ID", 1))
	_, err := a.Send(hostB)
	require.NoError(t, err)

	b.Poll()
	require.True(t, gotPing)

	ca, ok := a.Table().Find(hostB)
	require.True(t, ok)
	_, pending := ca.OldestUnacked()
	require.True(t, pending, "a's StartPingCheck should still be unacked before b's reply arrives")

	require.NoError(t, b.NewMessage("CompletePingCheck"))
	require.NoError(t, b.NextBlock("PingID"))
	require.NoError(t, b.AddUint8("ID", 1))
	_, err = b.Send(hostA)
	require.NoError(t, err)

	a.Poll()

	_, pending = ca.OldestUnacked()
	require.False(t, pending, "a's StartPingCheck should be acked once a.Poll() processes b's piggybacked ack")
}

// S2: a reliable message that never gets acked is retransmitted once its
// retry timeout elapses, and clears once the peer's ack finally arrives.
func TestScenarioRetransmitThenAck(t *testing.T) {
	a, b, hostA, hostB := newLinkedSystems(t,
		circuit.WithRetryTimeout(time.Millisecond),
		circuit.WithLivenessTimeout(time.Hour))

	var pingCount int
	b.RegisterHandler("StartPingCheck", func(circuit.Host, map[string][]Instance, interface{}) error {
		pingCount++
		return nil
	}, nil)

	require.NoError(t, a.NewMessage("StartPingCheck"))
	require.NoError(t, a.NextBlock("PingID"))
	require.NoError(t, a.AddUint8("ID", 7))
	_, err := a.Send(hostB)
	require.NoError(t, err)

	// The original send already reached b's mock queue; consume it first
	// so the resend triggered below is the one actually being tested.
	b.Poll()
	require.Equal(t, 1, pingCount)

	time.Sleep(2 * time.Millisecond)
	a.Poll() // sweeps the unacked send past its retry timeout and resends it

	b.Poll()
	require.Equal(t, 1, pingCount, "the resend carries the same sequence number, so b classifies it as a duplicate and does not re-run handlers, but still queues a fresh ack for it")

	ca, ok := a.Table().Find(hostB)
	require.True(t, ok)
	_, pending := ca.OldestUnacked()
	require.True(t, pending, "still unacked until b's reply comes back")

	require.NoError(t, b.NewMessage("CompletePingCheck"))
	require.NoError(t, b.NextBlock("PingID"))
	require.NoError(t, b.AddUint8("ID", 7))
	_, err = b.Send(hostA)
	require.NoError(t, err)

	a.Poll()

	_, pending = ca.OldestUnacked()
	require.False(t, pending, "retransmitted send should be cleared once the ack arrives")
}

func TestSystemUnknownOpcodeIsDropped(t *testing.T) {
	a, b, _, hostB := newLinkedSystems(t)

	var called bool
	b.RegisterHandler("StartPingCheck", func(circuit.Host, map[string][]Instance, interface{}) error {
		called = true
		return nil
	}, nil)

	datagram := circuit.EncodeHeader(circuit.Header{Seq: 0, Opcode: 0xDEAD})
	_, err := a.transport.Send(hostB, datagram)
	require.NoError(t, err)

	b.Poll()
	require.False(t, called)
}

func TestSystemNewMessageUnknownTemplateReleasesBuildLock(t *testing.T) {
	a, _, _, hostB := newLinkedSystems(t)

	require.ErrorIs(t, a.NewMessage("NoSuchTemplate"), ErrUnknownTemplate)

	// A failed NewMessage must not hold the build lock open, or this
	// second, legitimate build would deadlock.
	require.NoError(t, a.NewMessage("StartPingCheck"))
	require.NoError(t, a.NextBlock("PingID"))
	require.NoError(t, a.AddUint8("ID", 1))
	_, err := a.Send(hostB)
	require.NoError(t, err)
}

func TestSystemUnregisterHandlerStopsDispatch(t *testing.T) {
	a, b, _, hostB := newLinkedSystems(t)

	var calls int
	id := b.RegisterHandler("StartPingCheck", func(circuit.Host, map[string][]Instance, interface{}) error {
		calls++
		return nil
	}, nil)

	send := func() {
		require.NoError(t, a.NewMessage("StartPingCheck"))
		require.NoError(t, a.NextBlock("PingID"))
		require.NoError(t, a.AddUint8("ID", 1))
		_, err := a.Send(hostB)
		require.NoError(t, err)
	}

	send()
	b.Poll()
	require.Equal(t, 1, calls)

	b.UnregisterHandler("StartPingCheck", id)

	send()
	b.Poll()
	require.Equal(t, 1, calls, "unregistered handler should not be invoked again")
}

func TestSystemStatsTracksTraffic(t *testing.T) {
	a, b, _, hostB := newLinkedSystems(t)
	b.RegisterHandler("StartPingCheck", func(circuit.Host, map[string][]Instance, interface{}) error { return nil }, nil)

	require.NoError(t, a.NewMessage("StartPingCheck"))
	require.NoError(t, a.NextBlock("PingID"))
	require.NoError(t, a.AddUint8("ID", 1))
	_, err := a.Send(hostB)
	require.NoError(t, err)

	b.Poll()

	require.Equal(t, uint64(1), a.Stats().PacketsSent)
	require.Equal(t, uint64(1), b.Stats().PacketsReceived)
}
