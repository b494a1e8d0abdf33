package circuit

import "time"

// A PacketBuffer owns a datagram that was sent reliably and is awaiting
// acknowledgment, or that has timed out and is queued for resend. Ownership
// is exclusive: it moves from the circuit's unacked map into the retry
// queue on timeout, and is destroyed on acknowledgment or final give-up.
type PacketBuffer struct {
	Seq     uint32
	Data    []byte
	SentAt  time.Time
	Retries int
}

func newPacketBuffer(seq uint32, data []byte, now time.Time) *PacketBuffer {
	return &PacketBuffer{Seq: seq, Data: data, SentAt: now}
}
