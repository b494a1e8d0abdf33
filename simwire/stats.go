package simwire

import (
	"sync/atomic"

	"github.com/openmetaverse-go/simwire/circuit"
)

// counters is the process-wide-per-System set of packet/byte totals, per
// spec.md §4.8. These sit above the per-circuit counters Table.Stats
// already tracks: they answer "how much traffic did this System move"
// rather than "how healthy is this peer".
type counters struct {
	packetsSent uint64
	packetsRecv uint64
	bytesSent   uint64
	bytesRecv   uint64
}

func (c *counters) recordSent(n int) {
	atomic.AddUint64(&c.packetsSent, 1)
	atomic.AddUint64(&c.bytesSent, uint64(n))
}

func (c *counters) recordRecv(n int) {
	atomic.AddUint64(&c.packetsRecv, 1)
	atomic.AddUint64(&c.bytesRecv, uint64(n))
}

// Stats is a point-in-time snapshot combining one System's global
// packet/byte counters with its Table's per-circuit aggregate.
type Stats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	// PacketsLost is summed across Table.PerCircuit, per spec.md §4.8; a
	// circuit reaped by SweepTimeouts before this snapshot drops out of
	// the sum along with it.
	PacketsLost   uint64
	BytesSent     uint64
	BytesReceived uint64
	Table         circuit.TableStats
}

func (c *counters) snapshot(table *circuit.Table) Stats {
	tableStats := table.Stats()

	var lost uint64
	for _, cs := range tableStats.PerCircuit {
		lost += cs.PacketsLost
	}

	return Stats{
		PacketsSent:     atomic.LoadUint64(&c.packetsSent),
		PacketsReceived: atomic.LoadUint64(&c.packetsRecv),
		PacketsLost:     lost,
		BytesSent:       atomic.LoadUint64(&c.bytesSent),
		BytesReceived:   atomic.LoadUint64(&c.bytesRecv),
		Table:           tableStats,
	}
}
