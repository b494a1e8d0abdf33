package circuit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultMaxCircuits is the default capacity of a Table.
const DefaultMaxCircuits = 256

// A Table is the set of circuits known to one message system, keyed by
// Host. All of its operations are serialized by a single mutex covering
// the set of circuits. That mutex does not cover circuit-internal state:
// each Circuit guards its own fields with its own mutex, and a *Circuit
// returned by Find or GetOrCreate is used without holding the table lock.
type Table struct {
	transport Transport
	log       *logrus.Entry

	opts circuitOptions
	max  int

	timeoutsEnabled bool

	mu       sync.Mutex
	circuits map[Host]*Circuit
}

// TableOption configures a Table returned by NewTable.
type TableOption func(*Table)

// WithMaxCircuits overrides DefaultMaxCircuits.
func WithMaxCircuits(n int) TableOption {
	return func(t *Table) { t.max = n }
}

// WithRetryLimit overrides DefaultRetryLimit for circuits created by this
// table.
func WithRetryLimit(n int) TableOption {
	return func(t *Table) { t.opts.retryLimit = n }
}

// WithRetryTimeout overrides DefaultRetryTimeout, the age at which an
// unacked packet is promoted to the retry queue by SweepTimeouts.
func WithRetryTimeout(d time.Duration) TableOption {
	return func(t *Table) { t.opts.retryTimeout = d }
}

// WithLivenessTimeout overrides DefaultLivenessTimeout for circuits
// created by this table.
func WithLivenessTimeout(d time.Duration) TableOption {
	return func(t *Table) { t.opts.livenessTimeout = d }
}

// WithNominalRates sets the per-category throttle rates new circuits are
// created with.
func WithNominalRates(r NominalRates) TableOption {
	return func(t *Table) { t.opts.rates = r }
}

// WithLogger attaches a logrus entry used for per-circuit logging. A nil
// logger (the default) logs to the standard logrus logger.
func WithLogger(log *logrus.Entry) TableOption {
	return func(t *Table) { t.opts.log = log }
}

// NewTable creates a Table that sends retries over transport.
func NewTable(transport Transport, opts ...TableOption) *Table {
	t := &Table{
		transport:       transport,
		max:             DefaultMaxCircuits,
		timeoutsEnabled: true,
		circuits:        make(map[Host]*Circuit),
		opts: circuitOptions{
			retryLimit:      DefaultRetryLimit,
			retryTimeout:    DefaultRetryTimeout,
			livenessTimeout: DefaultLivenessTimeout,
			rates:           DefaultNominalRates(DefaultTotalBandwidth),
		},
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.opts.log
	if t.log == nil {
		t.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return t
}

// Find returns the Circuit for host, if one exists.
func (t *Table) Find(host Host) (*Circuit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.circuits[host]
	return c, ok
}

// GetOrCreate returns the existing Circuit for host, or creates one if
// the table is under capacity. It fails with ErrCapacityExceeded if the
// table is full and host is not already present.
func (t *Table) GetOrCreate(host Host) (*Circuit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.circuits[host]; ok {
		return c, nil
	}

	if len(t.circuits) >= t.max {
		return nil, ErrCapacityExceeded
	}

	c := newCircuit(host, t.opts)
	t.circuits[host] = c
	return c, nil
}

// Remove explicitly removes host's circuit, if any.
func (t *Table) Remove(host Host) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.circuits, host)
}

// Len returns the number of circuits currently in the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.circuits)
}

// SetTimeoutsEnabled enables or disables liveness death in SweepTimeouts
// without affecting any other Table operation; retry promotion runs
// either way. Supplements spec.md with the
// original implementation's mAllowTimeout toggle, useful for holding
// circuits open in tests.
func (t *Table) SetTimeoutsEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeoutsEnabled = enabled
}

// SweepTimeouts promotes each circuit's expired unacked packets to its
// retry queue and, unless SetTimeoutsEnabled(false) is holding circuits
// open, declares dead circuits and reaps them. Retry promotion always
// runs: SetTimeoutsEnabled only suppresses liveness death, not the whole
// sweep, so a circuit held open for testing still resends and still
// eventually gives up on individual packets past the retry limit.
func (t *Table) SweepTimeouts() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for host, c := range t.circuits {
		c.PromoteTimeouts(t.opts.retryTimeout)

		if !t.timeoutsEnabled {
			continue
		}

		c.CheckLiveness()
		if !c.IsAlive() {
			delete(t.circuits, host)
			t.log.WithField("host", host.String()).Info("circuit: reaped dead circuit")
		}
	}
}

// ProcessRetries drains every circuit's retry queue and resends each
// packet over the table's transport, re-installing it in the unacked map
// on a successful send.
func (t *Table) ProcessRetries() {
	t.mu.Lock()
	circuits := make([]*Circuit, 0, len(t.circuits))
	for _, c := range t.circuits {
		circuits = append(circuits, c)
	}
	t.mu.Unlock()

	for _, c := range circuits {
		for _, buf := range c.DrainRetryQueue() {
			if _, err := t.transport.Send(c.Host(), buf.Data); err != nil {
				t.log.WithField("host", c.Host().String()).WithField("seq", buf.Seq).
					WithError(err).Warn("circuit: retry send failed")
				continue
			}
			c.ReinstallRetry(buf)
		}
	}
}

// ForEachCircuit calls fn once for every circuit currently in the table,
// under the table lock. fn must not call back into the Table.
func (t *Table) ForEachCircuit(fn func(*Circuit)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.circuits {
		fn(c)
	}
}

// TableStats is an aggregate snapshot across every alive circuit.
type TableStats struct {
	AliveCircuits int
	AverageRTT    time.Duration
	PerCircuit    []Stats
}

// Stats aggregates counters and mean RTT over alive circuits, taken under
// the table lock.
func (t *Table) Stats() TableStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out TableStats
	var rttSum time.Duration
	var rttN int

	for _, c := range t.circuits {
		if !c.IsAlive() {
			continue
		}
		s := c.Snapshot()
		out.AliveCircuits++
		out.PerCircuit = append(out.PerCircuit, s)
		if s.AverageRTT > 0 {
			rttSum += s.AverageRTT
			rttN++
		}
	}
	if rttN > 0 {
		out.AverageRTT = rttSum / time.Duration(rttN)
	}

	return out
}
