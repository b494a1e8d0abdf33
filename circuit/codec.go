package circuit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Header flag bits. Other bits are reserved and must be zero on send.
const (
	FlagReliable   byte = 1 << 0
	FlagZeroCoded  byte = 1 << 1
	flagsReserved       = ^(FlagReliable | FlagZeroCoded)
)

// Opcode width thresholds, per the wire format in spec.md §4.2.
const (
	opcodeWideMarker  = 0xFF
	opcodeWide1Max    = 0xFF
	opcodeWide2Max    = 0x10000
)

// ErrMalformedHeader reports a header that is too short, uses an invalid
// opcode width, or (in strict mode) sets a reserved flag bit.
var ErrMalformedHeader = errors.New("circuit: malformed header")

// Header is the decoded fixed-format prefix of every datagram.
type Header struct {
	Reliable  bool
	ZeroCoded bool
	Seq       uint32
	Opcode    uint32
}

// EncodeHeader writes the flags/sequence/opcode prefix described in
// spec.md §4.2 to a new byte slice and returns it. Opcode width is chosen
// automatically: one byte if opcode < 0xFF, three bytes (0xFF + 2 BE) if
// opcode < 0x10000, six bytes (0xFF 0xFF + 4 LE) otherwise.
//
// Opcodes in [0xFF00, 0xFFFF] are reserved: the 2-byte form's big-endian
// encoding starts with 0xFF in that range, which DecodeHeader cannot tell
// apart from the second byte of the 0xFF 0xFF four-byte marker. No
// template in the catalogue assigns an opcode in this range; one never
// should.
func EncodeHeader(h Header) []byte {
	var flags byte
	if h.Reliable {
		flags |= FlagReliable
	}
	if h.ZeroCoded {
		flags |= FlagZeroCoded
	}

	buf := make([]byte, 1+4, 1+4+6)
	buf[0] = flags
	binary.LittleEndian.PutUint32(buf[1:5], h.Seq)

	switch {
	case h.Opcode < opcodeWide1Max:
		buf = append(buf, byte(h.Opcode))
	case h.Opcode < opcodeWide2Max:
		buf = append(buf, opcodeWideMarker)
		var wide [2]byte
		binary.BigEndian.PutUint16(wide[:], uint16(h.Opcode))
		buf = append(buf, wide[:]...)
	default:
		buf = append(buf, opcodeWideMarker, opcodeWideMarker)
		var wide [4]byte
		binary.LittleEndian.PutUint32(wide[:], h.Opcode)
		buf = append(buf, wide[:]...)
	}

	return buf
}

// DecodeHeader parses the prefix written by EncodeHeader and returns the
// header along with the remaining payload bytes. strict, when true, treats
// a nonzero reserved flag bit as malformed rather than ignoring it.
func DecodeHeader(data []byte, strict bool) (Header, []byte, error) {
	if len(data) < 5 {
		return Header{}, nil, fmt.Errorf("%w: short header", ErrMalformedHeader)
	}

	flags := data[0]
	if strict && flags&flagsReserved != 0 {
		return Header{}, nil, fmt.Errorf("%w: reserved flag bits set", ErrMalformedHeader)
	}

	h := Header{
		Reliable:  flags&FlagReliable != 0,
		ZeroCoded: flags&FlagZeroCoded != 0,
		Seq:       binary.LittleEndian.Uint32(data[1:5]),
	}

	rest := data[5:]
	if len(rest) < 1 {
		return Header{}, nil, fmt.Errorf("%w: missing opcode", ErrMalformedHeader)
	}

	switch rest[0] {
	case opcodeWideMarker:
		rest = rest[1:]
		if len(rest) < 1 {
			return Header{}, nil, fmt.Errorf("%w: truncated wide opcode", ErrMalformedHeader)
		}
		if rest[0] == opcodeWideMarker {
			rest = rest[1:]
			if len(rest) < 4 {
				return Header{}, nil, fmt.Errorf("%w: truncated 4-byte opcode", ErrMalformedHeader)
			}
			h.Opcode = binary.LittleEndian.Uint32(rest[:4])
			rest = rest[4:]
		} else {
			if len(rest) < 2 {
				return Header{}, nil, fmt.Errorf("%w: truncated 2-byte opcode", ErrMalformedHeader)
			}
			h.Opcode = uint32(binary.BigEndian.Uint16(rest[:2]))
			rest = rest[2:]
		}
	default:
		h.Opcode = uint32(rest[0])
		rest = rest[1:]
	}

	return h, rest, nil
}

// ZeroEncode run-length encodes runs of 0x00 bytes as 0x00 N, splitting
// runs longer than 255 into multiple pairs. A payload with no zero bytes
// is returned unchanged (the identity case).
func ZeroEncode(p []byte) []byte {
	out := make([]byte, 0, len(p))

	for i := 0; i < len(p); {
		if p[i] != 0 {
			out = append(out, p[i])
			i++
			continue
		}

		run := 0
		for i < len(p) && p[i] == 0 && run < 255 {
			run++
			i++
		}
		out = append(out, 0x00, byte(run))
	}

	return out
}

// ZeroDecode expands the 0x00 N run-length encoding written by ZeroEncode.
func ZeroDecode(p []byte) ([]byte, error) {
	out := make([]byte, 0, len(p))

	for i := 0; i < len(p); i++ {
		if p[i] != 0 {
			out = append(out, p[i])
			continue
		}

		i++
		if i >= len(p) {
			return nil, fmt.Errorf("circuit: zero-decode: %w", io.ErrUnexpectedEOF)
		}
		n := p[i]
		if n == 0 {
			return nil, fmt.Errorf("circuit: zero-decode: run length of 0")
		}
		for j := byte(0); j < n; j++ {
			out = append(out, 0)
		}
	}

	return out, nil
}

// EncodeAckTrailer appends a trailing ACK piggyback block to payload: the
// acked sequence numbers (big-endian, four bytes each) followed by a
// single count byte. Up to 255 sequence numbers may be piggybacked on one
// datagram; callers must split larger batches across multiple sends.
func EncodeAckTrailer(payload []byte, acked []uint32) ([]byte, error) {
	if len(acked) > 255 {
		return nil, fmt.Errorf("circuit: too many acks to piggyback: %d", len(acked))
	}

	out := append(payload, make([]byte, 4*len(acked)+1)...)
	tail := out[len(payload):]
	for i, seq := range acked {
		binary.BigEndian.PutUint32(tail[4*i:4*i+4], seq)
	}
	tail[len(tail)-1] = byte(len(acked))

	return out, nil
}

// DecodeAckTrailer splits a datagram's trailing ACK piggyback block off of
// data, returning the remaining payload and the acked sequence numbers.
func DecodeAckTrailer(data []byte) (payload []byte, acked []uint32, err error) {
	if len(data) < 1 {
		return nil, nil, fmt.Errorf("%w: missing ack count", ErrMalformedHeader)
	}

	k := int(data[len(data)-1])
	data = data[:len(data)-1]

	need := 4 * k
	if len(data) < need {
		return nil, nil, fmt.Errorf("%w: truncated ack trailer", ErrMalformedHeader)
	}

	split := len(data) - need
	payload, tail := data[:split], data[split:]

	acked = make([]uint32, k)
	for i := range acked {
		acked[i] = binary.BigEndian.Uint32(tail[4*i : 4*i+4])
	}

	return payload, acked, nil
}
