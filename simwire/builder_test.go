package simwire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openmetaverse-go/simwire/circuit"
	"github.com/openmetaverse-go/simwire/transport"
)

func newTestBuilder(t *testing.T) (*Builder, *circuit.Table, *transport.Mock, circuit.Host) {
	t.Helper()

	reg := NewRegistry(DefaultTemplates())
	mock := transport.NewMock(circuit.Host{})
	table := circuit.NewTable(mock)
	b := NewBuilder(reg, table, mock, nil)
	host := circuit.NewHost(mustAddr().Addr, 7000)
	return b, table, mock, host
}

func mustAddr() circuit.Host {
	h, err := circuit.ParseHost("127.0.0.1:1")
	if err != nil {
		panic(err)
	}
	return h
}

func TestBuilderSingleBlockRoundTrip(t *testing.T) {
	b, _, _, host := newTestBuilder(t)

	require.NoError(t, b.NewMessage("StartPingCheck"))
	require.NoError(t, b.NextBlock("PingID"))
	require.NoError(t, b.AddUint8("ID", 42))

	n, err := b.Send(host)
	require.NoError(t, err)
	require.Greater(t, n, 0)
}

func TestBuilderRepeatVariableBlock(t *testing.T) {
	b, _, _, host := newTestBuilder(t)

	require.NoError(t, b.NewMessage("RegionHandshake"))
	require.NoError(t, b.NextBlock("RegionInfo"))
	require.NoError(t, b.AddUint32("RegionFlags", 1))
	require.NoError(t, b.AddUint8("SimAccess", 0))
	require.NoError(t, b.AddString("SimName", "Ahern"))
	require.NoError(t, b.AddUUID("SimOwner", UUID{}))
	require.NoError(t, b.AddFloat32("WaterHeight", 20))
	require.NoError(t, b.AddFloat32("BillableFactor", 1))
	require.NoError(t, b.AddUUID("CacheID", UUID{}))

	require.NoError(t, b.NextBlock("RegionInfo4"))
	require.NoError(t, b.AddUint64("RegionFlagsExtended", 1))
	require.NoError(t, b.AddUint64("RegionProtocols", 2))

	require.NoError(t, b.NextBlock("RegionInfo4"))
	require.NoError(t, b.AddUint64("RegionFlagsExtended", 3))
	require.NoError(t, b.AddUint64("RegionProtocols", 4))

	_, err := b.Send(host)
	require.NoError(t, err)
}

func TestBuilderRejectsOutOfOrderAdd(t *testing.T) {
	b, _, _, _ := newTestBuilder(t)

	require.NoError(t, b.NewMessage("ChatFromViewer"))
	require.NoError(t, b.NextBlock("ChatData"))
	require.Error(t, b.AddUint8("Type", 0)) // Message must come first
}

func TestBuilderRejectsDoubleNewMessage(t *testing.T) {
	b, _, _, _ := newTestBuilder(t)
	require.NoError(t, b.NewMessage("StartPingCheck"))
	require.ErrorIs(t, b.NewMessage("StartPingCheck"), ErrBuildState)
}

func TestBuilderNewMessageUnknownTemplate(t *testing.T) {
	b, _, _, _ := newTestBuilder(t)
	require.ErrorIs(t, b.NewMessage("NoSuchTemplate"), ErrUnknownTemplate)
}

func TestBuilderRejectsIncompleteSend(t *testing.T) {
	b, _, _, host := newTestBuilder(t)
	require.NoError(t, b.NewMessage("StartPingCheck"))
	require.NoError(t, b.NextBlock("PingID"))
	// never called AddUint8("ID", ...)

	_, err := b.Send(host)
	require.ErrorIs(t, err, ErrBuildState)
}

func TestBuilderSendWithoutNewMessage(t *testing.T) {
	b, _, _, host := newTestBuilder(t)
	_, err := b.Send(host)
	require.ErrorIs(t, err, ErrBuildState)
}

func TestBuilderReliableMessageInstallsUnacked(t *testing.T) {
	b, table, _, host := newTestBuilder(t)

	require.NoError(t, b.NewMessage("StartPingCheck")) // Reliable: true
	require.NoError(t, b.NextBlock("PingID"))
	require.NoError(t, b.AddUint8("ID", 1))
	_, err := b.Send(host)
	require.NoError(t, err)

	c, ok := table.Find(host)
	require.True(t, ok)
	_, outstanding := c.OldestUnacked()
	require.True(t, outstanding)
}

func TestBuilderUnreliableMessageDoesNotInstallUnacked(t *testing.T) {
	b, table, _, host := newTestBuilder(t)

	require.NoError(t, b.NewMessage("CompletePingCheck")) // Reliable: false
	require.NoError(t, b.NextBlock("PingID"))
	require.NoError(t, b.AddUint8("ID", 1))
	_, err := b.Send(host)
	require.NoError(t, err)

	c, ok := table.Find(host)
	require.True(t, ok)
	_, outstanding := c.OldestUnacked()
	require.False(t, outstanding)
}

func TestBuilderThrottleRejection(t *testing.T) {
	reg := NewRegistry(DefaultTemplates())
	mock := transport.NewMock(circuit.Host{})
	rates := circuit.DefaultNominalRates(7) // 1 byte/sec/category
	table := circuit.NewTable(mock, circuit.WithNominalRates(rates))
	b := NewBuilder(reg, table, mock, nil)
	host := mustAddr()

	require.NoError(t, b.NewMessage("ChatFromViewer"))
	require.NoError(t, b.NextBlock("ChatData"))
	require.NoError(t, b.AddString("Message", "a message far too long for one token"))
	require.NoError(t, b.AddUint8("Type", 0))
	require.NoError(t, b.AddInt32("Channel", 0))

	_, err := b.Send(host)
	require.ErrorIs(t, err, ErrThrottled)
}

func TestBuilderThrottledSendLeavesPendingAcksQueued(t *testing.T) {
	reg := NewRegistry(DefaultTemplates())
	mock := transport.NewMock(circuit.Host{})
	rates := circuit.DefaultNominalRates(7) // 1 byte/sec/category
	table := circuit.NewTable(mock, circuit.WithNominalRates(rates))
	b := NewBuilder(reg, table, mock, nil)
	host := mustAddr()

	c, err := table.GetOrCreate(host)
	require.NoError(t, err)
	c.QueuePendingAck(5)

	require.NoError(t, b.NewMessage("ChatFromViewer"))
	require.NoError(t, b.NextBlock("ChatData"))
	require.NoError(t, b.AddString("Message", "a message far too long for one token"))
	require.NoError(t, b.AddUint8("Type", 0))
	require.NoError(t, b.AddInt32("Channel", 0))

	_, err = b.Send(host)
	require.ErrorIs(t, err, ErrThrottled)

	acks := c.DrainPendingAcks()
	require.Equal(t, []uint32{5}, acks, "a throttled send must not drop the ack it was about to piggyback")
}
