package simwire

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openmetaverse-go/simwire/circuit"
)

// System is the top-level entry point: it owns a circuit Table, a message
// Registry, a Transport, and the handler registry that Poll dispatches
// into. Most callers only need one System per process.
type System struct {
	table     *circuit.Table
	reg       *Registry
	transport circuit.Transport
	handlers  *HandlerRegistry
	stats     *counters
	log       *logrus.Entry

	buildMu sync.Mutex
	builder *Builder
}

// SystemOption configures a System returned by NewSystem.
type SystemOption func(*System)

// WithTemplates overrides the catalogue DefaultTemplates would otherwise
// register.
func WithTemplates(templates []Template) SystemOption {
	return func(s *System) { s.reg = NewRegistry(templates) }
}

// WithSystemLogger attaches a logrus entry used for dispatch-level
// logging. The default logs to the standard logrus logger.
func WithSystemLogger(log *logrus.Entry) SystemOption {
	return func(s *System) { s.log = log }
}

// NewSystem wires table and transport together with a default template
// catalogue and an empty handler registry.
func NewSystem(table *circuit.Table, transport circuit.Transport, opts ...SystemOption) *System {
	s := &System{
		table:     table,
		reg:       NewRegistry(DefaultTemplates()),
		transport: transport,
		handlers:  NewHandlerRegistry(),
		stats:     &counters{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.builder = NewBuilder(s.reg, s.table, s.transport, s.stats)
	return s
}

// Registry returns the System's template catalogue.
func (s *System) Registry() *Registry { return s.reg }

// Table returns the System's circuit table.
func (s *System) Table() *circuit.Table { return s.table }

// NewMessage begins building a message on the System's shared Builder,
// per spec.md §4.6. Only one build may be open at a time; concurrent
// callers serialize on this call until the previous build's Send (or a
// failed NewMessage) releases it.
//
// The caller must eventually call Send (or encounter an error that
// aborts the build) before another NewMessage can proceed; holding the
// lock across a caller-driven sequence of NextBlock/Add calls is the
// tradeoff for giving every caller a simple, non-reentrant Builder.
func (s *System) NewMessage(name string) error {
	s.buildMu.Lock()
	if err := s.builder.NewMessage(name); err != nil {
		s.buildMu.Unlock()
		return err
	}
	return nil
}

// unlockBuild releases the build lock taken by NewMessage. Send calls
// this unconditionally, whether or not it succeeded, since either way
// the build is no longer open afterward.
func (s *System) unlockBuild() { s.buildMu.Unlock() }

func (s *System) AddUint8(name string, v uint8) error     { return s.builder.AddUint8(name, v) }
func (s *System) AddInt8(name string, v int8) error       { return s.builder.AddInt8(name, v) }
func (s *System) AddUint16(name string, v uint16) error   { return s.builder.AddUint16(name, v) }
func (s *System) AddInt16(name string, v int16) error     { return s.builder.AddInt16(name, v) }
func (s *System) AddUint32(name string, v uint32) error   { return s.builder.AddUint32(name, v) }
func (s *System) AddInt32(name string, v int32) error     { return s.builder.AddInt32(name, v) }
func (s *System) AddUint64(name string, v uint64) error   { return s.builder.AddUint64(name, v) }
func (s *System) AddInt64(name string, v int64) error     { return s.builder.AddInt64(name, v) }
func (s *System) AddFloat32(name string, v float32) error { return s.builder.AddFloat32(name, v) }
func (s *System) AddFloat64(name string, v float64) error { return s.builder.AddFloat64(name, v) }
func (s *System) AddVec3(name string, v [3]float32) error { return s.builder.AddVec3(name, v) }
func (s *System) AddVec4(name string, v [4]float32) error { return s.builder.AddVec4(name, v) }
func (s *System) AddQuaternion(name string, v Quaternion) error {
	return s.builder.AddQuaternion(name, v)
}
func (s *System) AddUUID(name string, v UUID) error      { return s.builder.AddUUID(name, v) }
func (s *System) AddBytes(name string, v []byte) error   { return s.builder.AddBytes(name, v) }
func (s *System) AddString(name string, v string) error  { return s.builder.AddString(name, v) }
func (s *System) NextBlock(name string) error             { return s.builder.NextBlock(name) }
func (s *System) SetCategory(cat circuit.Category)        { s.builder.SetCategory(cat) }

// Send finalizes and transmits the message opened by NewMessage, then
// releases the build lock regardless of outcome.
func (s *System) Send(host circuit.Host) (int, error) {
	defer s.unlockBuild()
	return s.builder.Send(host)
}

// RegisterHandler registers fn to run whenever a message for the named
// template is received, in registration order alongside any other
// handlers already registered for that template.
func (s *System) RegisterHandler(name string, fn HandlerFunc, userCtx interface{}) uuid.UUID {
	return s.handlers.RegisterHandler(name, fn, userCtx)
}

// UnregisterHandler removes a handler previously returned by
// RegisterHandler.
func (s *System) UnregisterHandler(name string, id uuid.UUID) {
	s.handlers.UnregisterHandler(name, id)
}

// Poll drains all currently available inbound datagrams, dispatches them
// to registered handlers, sweeps circuit timeouts, processes the retry
// queue, and lets every circuit's throttle rebalance. Callers are
// expected to call this periodically, e.g. from a ticker loop in
// cmd/simgatewayd.
func (s *System) Poll() {
	poll(s.table, s.transport, s.reg, s.handlers, s.stats, s.log)
	s.table.SweepTimeouts()
	s.table.ProcessRetries()

	s.table.ForEachCircuit(func(c *circuit.Circuit) {
		c.Throttle().UpdateAverage()
	})
}

// Stats returns a point-in-time snapshot of the System's packet/byte
// counters and per-circuit table.
func (s *System) Stats() Stats {
	return s.stats.snapshot(s.table)
}
