package circuit

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// A Classification tags the outcome of Circuit.RecordInbound, per
// spec.md §4.3. It is a sum type: exactly one of the three constants.
type Classification int

const (
	// InOrder is returned when the sequence is exactly the expected one.
	InOrder Classification = iota
	// InOrderAfterGap is returned when the sequence is ahead of expected;
	// the skipped sequence numbers are counted as lost.
	InOrderAfterGap
	// DuplicateOrReordered is returned when the sequence is behind
	// expected: either a resend of something already seen, or a packet
	// that arrived out of order.
	DuplicateOrReordered
)

func (c Classification) String() string {
	switch c {
	case InOrder:
		return "in-order"
	case InOrderAfterGap:
		return "in-order-after-gap"
	case DuplicateOrReordered:
		return "duplicate-or-reordered"
	default:
		return "unknown"
	}
}

// RTT smoothing weights, per spec.md §3 and the original implementation's
// mPingDelayAveraged update.
const (
	rttWeightNew = 0.05
	rttWeightOld = 0.95
)

// DefaultRetryLimit and DefaultLivenessTimeout are the hard-coded defaults
// from the reference implementation, exposed here as configurable
// defaults per spec.md §9.
const (
	DefaultRetryLimit      = 3
	DefaultRetryTimeout    = 5 * time.Second
	DefaultLivenessTimeout = 60 * time.Second
)

// A Circuit is the per-peer reliability and liveness state for one Host.
// All of its methods are safe for concurrent use: Circuit guards its state
// with its own mutex, not the owning Table's, so a *Circuit obtained from a
// Table, or one used standalone (e.g. in tests), needs no outside lock.
type Circuit struct {
	host Host
	log  *logrus.Entry

	retryLimit      int
	livenessTimeout time.Duration

	mu sync.Mutex

	alive   bool
	blocked bool

	outSeq uint32 // next sequence to assign
	inSeq  uint32 // expected inbound sequence

	packetsSent, packetsRecv, packetsLost uint64

	lastRTT, avgRTT time.Duration
	haveRTT         bool

	unacked      map[uint32]*PacketBuffer
	oldestUnack  uint32
	haveOldest   bool
	retryQueue   []*PacketBuffer

	lastRecv, lastSent time.Time

	pendingAcks []uint32

	throttle *Throttle
}

// circuitOptions configures a Circuit created by newCircuit.
type circuitOptions struct {
	retryLimit      int
	retryTimeout    time.Duration
	livenessTimeout time.Duration
	rates           NominalRates
	log             *logrus.Entry
}

func newCircuit(host Host, opts circuitOptions) *Circuit {
	log := opts.log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	now := time.Now()
	return &Circuit{
		host:            host,
		log:             log.WithField("host", host.String()),
		retryLimit:      opts.retryLimit,
		livenessTimeout: opts.livenessTimeout,
		alive:           true,
		inSeq:           0,
		unacked:         make(map[uint32]*PacketBuffer),
		lastRecv:        now,
		lastSent:        now,
		throttle:        NewThrottle(opts.rates),
	}
}

// Host returns the Circuit's peer.
func (c *Circuit) Host() Host { return c.host }

// IsAlive reports whether the Circuit's liveness flag is set.
func (c *Circuit) IsAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// IsBlocked reports whether the Circuit is blocked from sending.
func (c *Circuit) IsBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocked
}

// SetBlocked sets or clears the Circuit's blocked flag.
func (c *Circuit) SetBlocked(blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked = blocked
}

// Throttle returns the Circuit's owned throttle group.
func (c *Circuit) Throttle() *Throttle { return c.throttle }

// NextOutboundSequence increments and returns the outbound sequence
// counter, updates last-sent time, and increments the sent-packet count.
func (c *Circuit) NextOutboundSequence() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.outSeq
	c.outSeq++
	c.lastSent = time.Now()
	c.packetsSent++
	return seq
}

// RecordInbound updates receive bookkeeping for an inbound datagram
// carrying sequence number seq and classifies it per spec.md §4.3.
func (c *Circuit) RecordInbound(seq uint32) Classification {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastRecv = time.Now()
	c.packetsRecv++

	switch {
	case seq > c.inSeq:
		gap := uint64(seq - c.inSeq)
		c.packetsLost += gap
		c.inSeq = seq + 1
		return InOrderAfterGap
	case seq == c.inSeq:
		c.inSeq++
		return InOrder
	default:
		return DuplicateOrReordered
	}
}

// QueuePendingAck records seq as needing to be acknowledged back to the
// peer on the circuit's next outgoing datagram. Callers queue an ack for
// every inbound datagram whose header set FlagReliable, including
// duplicates: a peer that keeps retransmitting because an earlier ack
// never arrived or was lost needs another chance to see it.
func (c *Circuit) QueuePendingAck(seq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingAcks = append(c.pendingAcks, seq)
}

// DrainPendingAcks removes and returns every sequence number queued by
// QueuePendingAck since the last drain, capped at 255 per call since
// EncodeAckTrailer's count byte cannot carry more. Any remainder stays
// queued for the next call.
func (c *Circuit) DrainPendingAcks() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.takePendingAcksLocked()
}

// PeekPendingAcks returns the same sequence numbers DrainPendingAcks
// would, without removing them, so a caller can size a datagram before
// committing to send it. Pair with DiscardPendingAcks(len(result)) once
// the send actually goes out, rather than DrainPendingAcks up front,
// when a later step (e.g. a throttle check) might still abort the send:
// draining unconditionally would otherwise lose acks the peer is still
// waiting to see.
func (c *Circuit) PeekPendingAcks() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pendingAcks) == 0 {
		return nil
	}
	if len(c.pendingAcks) <= 255 {
		out := make([]uint32, len(c.pendingAcks))
		copy(out, c.pendingAcks)
		return out
	}
	out := make([]uint32, 255)
	copy(out, c.pendingAcks[:255])
	return out
}

// DiscardPendingAcks removes the first n sequence numbers from the
// pending-ack queue, matching a prior PeekPendingAcks whose result was
// actually sent.
func (c *Circuit) DiscardPendingAcks(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n >= len(c.pendingAcks) {
		c.pendingAcks = nil
		return
	}
	c.pendingAcks = c.pendingAcks[n:]
}

func (c *Circuit) takePendingAcksLocked() []uint32 {
	if len(c.pendingAcks) == 0 {
		return nil
	}
	if len(c.pendingAcks) <= 255 {
		out := c.pendingAcks
		c.pendingAcks = nil
		return out
	}
	out := c.pendingAcks[:255]
	c.pendingAcks = c.pendingAcks[255:]
	return out
}

// LossPercent returns 100*lost/(received+lost), or 0 if no packets have
// been accounted for yet.
func (c *Circuit) LossPercent() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lossPercentLocked()
}

func (c *Circuit) lossPercentLocked() float64 {
	denom := c.packetsRecv + c.packetsLost
	if denom == 0 {
		return 0
	}
	return 100 * float64(c.packetsLost) / float64(denom)
}

// LastRTT returns the most recent round-trip sample.
func (c *Circuit) LastRTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRTT
}

// AverageRTT returns the exponentially-weighted moving average RTT.
func (c *Circuit) AverageRTT() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.avgRTT
}

// InstallUnacked transfers ownership of a reliably-sent datagram's bytes
// into the unacked table, stamped with seq and the current time.
func (c *Circuit) InstallUnacked(seq uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.installUnackedLocked(seq, data, time.Now())
}

func (c *Circuit) installUnackedLocked(seq uint32, data []byte, now time.Time) {
	if len(c.unacked) == 0 || !c.haveOldest {
		c.oldestUnack = seq
		c.haveOldest = true
	} else if seq < c.oldestUnack {
		c.oldestUnack = seq
	}
	c.unacked[seq] = newPacketBuffer(seq, data, now)
}

// Acknowledge removes seq from the unacked table if present, sampling and
// smoothing RTT from its send timestamp. It reports whether seq was found.
func (c *Circuit) Acknowledge(seq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, ok := c.unacked[seq]
	if !ok {
		return false
	}
	delete(c.unacked, seq)

	rtt := time.Since(buf.SentAt)
	c.lastRTT = rtt
	if !c.haveRTT {
		c.avgRTT = rtt
		c.haveRTT = true
	} else {
		c.avgRTT = time.Duration(rttWeightNew*float64(rtt) + rttWeightOld*float64(c.avgRTT))
	}

	c.recomputeOldestLocked()
	return true
}

func (c *Circuit) recomputeOldestLocked() {
	if len(c.unacked) == 0 {
		c.haveOldest = false
		return
	}
	seqs := make([]uint32, 0, len(c.unacked))
	for s := range c.unacked {
		seqs = append(seqs, s)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	c.oldestUnack = seqs[0]
	c.haveOldest = true
}

// OldestUnacked returns the smallest outstanding sequence number and
// whether one exists.
func (c *Circuit) OldestUnacked() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oldestUnack, c.haveOldest
}

// PromoteTimeouts promotes unacked entries older than timeout to the
// retry queue (bumping their retry count), and gives up on (and counts as
// lost) any whose retry count has reached the circuit's retry limit. This
// runs regardless of Table.SetTimeoutsEnabled: retry promotion is a
// transport concern, not the liveness-detection one that toggle holds
// open.
func (c *Circuit) PromoteTimeouts(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for seq, buf := range c.unacked {
		if now.Sub(buf.SentAt) <= timeout {
			continue
		}

		delete(c.unacked, seq)
		buf.Retries++

		if buf.Retries < c.retryLimit {
			c.retryQueue = append(c.retryQueue, buf)
			c.log.WithField("seq", seq).Debug("circuit: packet timed out, queued for retry")
		} else {
			c.packetsLost++
			c.log.WithField("seq", seq).Warn("circuit: packet timed out, giving up after retry limit")
		}
	}
	c.recomputeOldestLocked()
}

// CheckLiveness declares the circuit dead if no inbound traffic has been
// seen within the liveness timeout. Table only calls this when timeouts
// are enabled, so SetTimeoutsEnabled(false) holds a circuit open
// indefinitely without otherwise affecting the sweep loop.
func (c *Circuit) CheckLiveness() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.alive && time.Since(c.lastRecv) > c.livenessTimeout {
		c.alive = false
		c.log.Warn("circuit: declared dead after liveness timeout")
	}
}

// DrainRetryQueue removes and returns every packet currently queued for
// resend. Callers are expected to resend each one's bytes over the
// transport and re-install it with ReinstallRetry, preserving its
// original sequence number and retry count.
func (c *Circuit) DrainRetryQueue() []*PacketBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()

	queue := c.retryQueue
	c.retryQueue = nil
	return queue
}

// ReinstallRetry re-installs a packet drained from the retry queue into
// the unacked map with a fresh send timestamp, preserving its original
// sequence number and retry count. Callers use this after successfully
// resending buf.Data over the transport.
func (c *Circuit) ReinstallRetry(buf *PacketBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.installUnackedLocked(buf.Seq, buf.Data, now)
	c.unacked[buf.Seq].Retries = buf.Retries
}

// Stats is a point-in-time snapshot of one Circuit's counters.
type Stats struct {
	Host            Host
	Alive           bool
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
	LossPercent     float64
	LastRTT         time.Duration
	AverageRTT      time.Duration
}

// Snapshot returns a point-in-time copy of the Circuit's counters.
func (c *Circuit) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Host:            c.host,
		Alive:           c.alive,
		PacketsSent:     c.packetsSent,
		PacketsReceived: c.packetsRecv,
		PacketsLost:     c.packetsLost,
		LossPercent:     c.lossPercentLocked(),
		LastRTT:         c.lastRTT,
		AverageRTT:      c.avgRTT,
	}
}
