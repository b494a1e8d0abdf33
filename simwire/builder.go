package simwire

import (
	"errors"
	"fmt"

	"github.com/openmetaverse-go/simwire/circuit"
)

// ErrBuildState reports a builder method invoked out of sequence: Send
// without NewMessage, a nested NewMessage, NextBlock/Add before
// NewMessage, or Add calls that don't match the template's declared
// order.
var ErrBuildState = errors.New("simwire: builder used out of order")

// ErrThrottled is returned by Builder.Send when the message was admitted by
// the template layer but rejected by the circuit's throttle. The message
// is dropped, not queued; the caller may retry later.
var ErrThrottled = errors.New("simwire: send throttled")

type blockCursor struct {
	block   *Block
	varIdx  int
	repIdx  int // which repetition of this block we're filling
	reps    []map[string]interface{}
	cur     map[string]interface{}
}

// Builder is the outgoing message state machine described in spec.md
// §4.6. Only one build may be in progress at a time on a given Builder; a
// second NewMessage before Send is a build-state error. A Builder is not
// safe for concurrent use; callers needing one build at a time across
// goroutines should serialize externally (System does this for its own
// builder).
type Builder struct {
	reg       *Registry
	table     *circuit.Table
	transport circuit.Transport
	stats     *counters
	cat       circuit.Category

	open bool
	tmpl *Template

	blockIdx int
	cursor   *blockCursor
	blocks   map[string][]map[string]interface{}
}

// NewBuilder creates a Builder that looks templates up in reg, assigns
// sequence numbers and unacked bookkeeping through table, and sends
// finished datagrams over transport. stats may be nil, in which case sent
// packets/bytes are simply not counted (used by standalone tests that
// don't need a System's aggregate counters).
func NewBuilder(reg *Registry, table *circuit.Table, transport circuit.Transport, stats *counters) *Builder {
	if stats == nil {
		stats = &counters{}
	}
	return &Builder{reg: reg, table: table, transport: transport, stats: stats, cat: circuit.CategoryTask}
}

// SetCategory sets the throttle category Send will check this message
// against. The default is CategoryTask.
func (b *Builder) SetCategory(cat circuit.Category) { b.cat = cat }

// NewMessage begins building a message for the named template.
func (b *Builder) NewMessage(name string) error {
	if b.open {
		return fmt.Errorf("%w: NewMessage called while a build is already open", ErrBuildState)
	}

	t, ok := b.reg.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}

	b.open = true
	b.tmpl = t
	b.blockIdx = 0
	b.cursor = nil
	b.blocks = make(map[string][]map[string]interface{}, len(t.Blocks))

	return nil
}

// NextBlock starts a new instance of the named block, which must be the
// current or next block in the template's declared order. Calling
// NextBlock on a RepeatSingle or exhausted RepeatFixed block a second
// time is a build-state error.
func (b *Builder) NextBlock(name string) error {
	if !b.open {
		return fmt.Errorf("%w: NextBlock before NewMessage", ErrBuildState)
	}
	if b.cursor != nil && b.cursor.cur != nil && b.cursor.varIdx != len(b.cursor.block.Vars) {
		return fmt.Errorf("%w: block %q is missing variables", ErrBuildState, b.cursor.block.Name)
	}

	sameRepeatingBlock := b.cursor != nil && b.cursor.block.Name == name && b.cursor.block.Repeat != RepeatSingle

	if !sameRepeatingBlock {
		if b.cursor != nil {
			b.commitRep()
			if b.blockDone(b.cursor.block) {
				b.cursor = nil
				b.blockIdx++
			} else {
				return fmt.Errorf("%w: block %q is missing repetitions", ErrBuildState, b.cursor.block.Name)
			}
		}

		for b.blockIdx < len(b.tmpl.Blocks) && b.tmpl.Blocks[b.blockIdx].Name != name {
			if err := b.closeBlockAt(b.blockIdx); err != nil {
				return err
			}
			b.blockIdx++
		}
		if b.blockIdx >= len(b.tmpl.Blocks) {
			return fmt.Errorf("%w: no such block %q in template %q", ErrBuildState, name, b.tmpl.Name)
		}
		b.cursor = &blockCursor{block: &b.tmpl.Blocks[b.blockIdx]}
	} else {
		b.commitRep()
	}

	if b.cursor.block.Repeat == RepeatFixed && b.cursor.repIdx >= b.cursor.block.Count {
		return fmt.Errorf("%w: block %q already has its fixed %d repetitions", ErrBuildState, name, b.cursor.block.Count)
	}
	if b.cursor.block.Repeat == RepeatSingle && b.cursor.repIdx >= 1 {
		return fmt.Errorf("%w: block %q only appears once", ErrBuildState, name)
	}

	b.cursor.varIdx = 0
	b.cursor.cur = make(map[string]interface{}, len(b.cursor.block.Vars))
	b.cursor.repIdx++

	return nil
}

// commitRep appends the current, fully-filled repetition to the block's
// accumulated list. It is a no-op if there is no in-progress repetition.
func (b *Builder) commitRep() {
	if b.cursor == nil || b.cursor.cur == nil {
		return
	}
	blk := b.cursor.block
	b.cursor.reps = append(b.cursor.reps, b.cursor.cur)
	b.blocks[blk.Name] = b.cursor.reps
	b.cursor.cur = nil
}

func (b *Builder) blockDone(blk *Block) bool {
	switch blk.Repeat {
	case RepeatSingle:
		return true
	case RepeatFixed:
		return b.cursor.repIdx >= blk.Count
	default: // RepeatVariable
		return true
	}
}

// finishCurrentBlock commits the in-progress repetition and, if the
// block's repetitions are now complete, advances past it. Used by add()
// for non-RepeatVariable blocks, where a single NextBlock call supplies
// exactly one repetition's variables before the block can be considered
// done.
func (b *Builder) finishCurrentBlock() {
	b.commitRep()
	if b.blockDone(b.cursor.block) {
		b.cursor = nil
		b.blockIdx++
	}
}

// closeBlockAt finalizes blockIdx without any repetitions having been
// added, which is only legal for a RepeatVariable block (zero instances).
func (b *Builder) closeBlockAt(idx int) error {
	blk := &b.tmpl.Blocks[idx]
	if blk.Repeat != RepeatVariable {
		return fmt.Errorf("%w: block %q requires at least one NextBlock call", ErrBuildState, blk.Name)
	}
	if _, ok := b.blocks[blk.Name]; !ok {
		b.blocks[blk.Name] = nil
	}
	return nil
}

// add records one variable's value into the block currently being filled.
func (b *Builder) add(varName string, t VarType, v interface{}) error {
	if !b.open || b.cursor == nil {
		return fmt.Errorf("%w: Add%v before NextBlock", ErrBuildState, t)
	}
	if b.cursor.varIdx >= len(b.cursor.block.Vars) {
		return fmt.Errorf("%w: block %q has no more variables", ErrBuildState, b.cursor.block.Name)
	}

	want := b.cursor.block.Vars[b.cursor.varIdx]
	if want.Name != varName {
		return fmt.Errorf("%w: expected variable %q next, got %q", ErrBuildState, want.Name, varName)
	}
	if want.Type != t {
		return fmt.Errorf("%w: variable %q has type %v, not %v", ErrBuildState, varName, want.Type, t)
	}

	b.cursor.cur[varName] = v
	b.cursor.varIdx++

	if b.cursor.varIdx == len(b.cursor.block.Vars) && b.cursor.block.Repeat != RepeatVariable {
		b.finishCurrentBlock()
	}

	return nil
}

func (b *Builder) AddUint8(name string, v uint8) error   { return b.add(name, TUint8, v) }
func (b *Builder) AddInt8(name string, v int8) error     { return b.add(name, TInt8, v) }
func (b *Builder) AddUint16(name string, v uint16) error { return b.add(name, TUint16, v) }
func (b *Builder) AddInt16(name string, v int16) error   { return b.add(name, TInt16, v) }
func (b *Builder) AddUint32(name string, v uint32) error { return b.add(name, TUint32, v) }
func (b *Builder) AddInt32(name string, v int32) error   { return b.add(name, TInt32, v) }
func (b *Builder) AddUint64(name string, v uint64) error { return b.add(name, TUint64, v) }
func (b *Builder) AddInt64(name string, v int64) error   { return b.add(name, TInt64, v) }
func (b *Builder) AddFloat32(name string, v float32) error { return b.add(name, TFloat32, v) }
func (b *Builder) AddFloat64(name string, v float64) error { return b.add(name, TFloat64, v) }
func (b *Builder) AddVec3(name string, v [3]float32) error { return b.add(name, TVec3, v) }
func (b *Builder) AddVec4(name string, v [4]float32) error { return b.add(name, TVec4, v) }
func (b *Builder) AddQuaternion(name string, v Quaternion) error {
	return b.add(name, TQuaternion, v)
}
func (b *Builder) AddUUID(name string, v UUID) error       { return b.add(name, TUUID, v) }
func (b *Builder) AddBytes(name string, v []byte) error {
	blk := b.currentVar(name)
	if blk != nil && blk.Type == TFixedBytes {
		return b.add(name, TFixedBytes, v)
	}
	if blk != nil && blk.Type == TVarBytes2 {
		return b.add(name, TVarBytes2, v)
	}
	return b.add(name, TVarBytes1, v)
}
func (b *Builder) AddString(name string, v string) error {
	blk := b.currentVar(name)
	if blk != nil && blk.Type == TString2 {
		return b.add(name, TString2, v)
	}
	return b.add(name, TString1, v)
}

func (b *Builder) currentVar(name string) *Variable {
	if b.cursor == nil || b.cursor.varIdx >= len(b.cursor.block.Vars) {
		return nil
	}
	v := &b.cursor.block.Vars[b.cursor.varIdx]
	if v.Name != name {
		return nil
	}
	return v
}

// finalize closes out any remaining blocks (RepeatVariable blocks with no
// instances added default to zero) and returns the encoded payload, or a
// build-state error if a required block was never started.
func (b *Builder) finalize() ([]byte, error) {
	if b.cursor != nil {
		if b.cursor.varIdx != len(b.cursor.block.Vars) {
			return nil, fmt.Errorf("%w: block %q is missing variables", ErrBuildState, b.cursor.block.Name)
		}
		b.finishCurrentBlock()
	}
	for b.blockIdx < len(b.tmpl.Blocks) {
		if err := b.closeBlockAt(b.blockIdx); err != nil {
			return nil, err
		}
		b.blockIdx++
	}

	return encodeBlocks(b.tmpl, b.blocks)
}

// reset clears the build state so the next NewMessage can start cleanly,
// regardless of whether the build in progress finished successfully.
func (b *Builder) reset() {
	b.open = false
	b.tmpl = nil
	b.blockIdx = 0
	b.cursor = nil
	b.blocks = nil
}

// Send finalizes the in-progress message and transmits it to host, per
// spec.md §4.6: the payload is zero-encoded if the template requires it,
// the ACK trailer is appended, the throttle is consulted under the
// Builder's category, and only if admitted is a sequence number drawn
// from host's circuit and the datagram handed to the transport. Reliable templates have their final bytes
// cloned into the circuit's unacked table for retransmission.
//
// Send always clears the open build before returning, success or not —
// including a finalize failure (e.g. a required block never started) —
// so a failed build never wedges the Builder against every later
// NewMessage with ErrBuildState. It returns the number of bytes written.
// A throttled message is dropped, not queued, and reports ErrThrottled;
// the caller may build and send again later.
func (b *Builder) Send(host circuit.Host) (int, error) {
	if !b.open {
		return 0, fmt.Errorf("%w: Send before NewMessage", ErrBuildState)
	}
	tmpl := b.tmpl
	defer b.reset()

	payload, err := b.finalize()
	if err != nil {
		return 0, err
	}

	c, err := b.table.GetOrCreate(host)
	if err != nil {
		return 0, fmt.Errorf("simwire: send %s to %s: %w", tmpl.Name, host, err)
	}

	if tmpl.ZeroCoded {
		payload = circuit.ZeroEncode(payload)
	}

	// EncodeAckTrailer always appends its trailing count byte, even when
	// there is nothing to acknowledge (count 0), so DecodeAckTrailer on
	// the receiving end can unambiguously split payload from trailer.
	//
	// The acks are only peeked here, not drained: a throttled send below
	// must leave them queued for the next attempt, or the peer would
	// never learn its packets were acknowledged.
	acked := c.PeekPendingAcks()
	payload, err = circuit.EncodeAckTrailer(payload, acked)
	if err != nil {
		return 0, fmt.Errorf("simwire: send %s to %s: %w", tmpl.Name, host, err)
	}

	if c.Throttle().CheckOverflow(b.cat, len(payload)) {
		return 0, fmt.Errorf("%s: %w", tmpl.Name, ErrThrottled)
	}
	c.DiscardPendingAcks(len(acked))

	seq := c.NextOutboundSequence()
	datagram := circuit.EncodeHeader(circuit.Header{
		Reliable:  tmpl.Reliable,
		ZeroCoded: tmpl.ZeroCoded,
		Seq:       seq,
		Opcode:    tmpl.Opcode,
	})
	datagram = append(datagram, payload...)

	n, err := b.transport.Send(host, datagram)
	if err != nil {
		return n, fmt.Errorf("simwire: send %s to %s: %w: %w", tmpl.Name, host, ErrTransport, err)
	}

	if tmpl.Reliable {
		clone := make([]byte, len(datagram))
		copy(clone, datagram)
		c.InstallUnacked(seq, clone)
	}

	b.stats.recordSent(n)
	return n, nil
}
