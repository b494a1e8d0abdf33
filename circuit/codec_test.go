package circuit

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{Reliable: true, ZeroCoded: false, Seq: 1, Opcode: 5},
		{Reliable: false, ZeroCoded: true, Seq: 0xFFFFFFFF, Opcode: 0xFE},
		{Reliable: true, ZeroCoded: true, Seq: 42, Opcode: 0x1234},
		{Reliable: false, ZeroCoded: false, Seq: 7, Opcode: 0x12345678},
	}

	for _, want := range cases {
		encoded := EncodeHeader(want)
		encoded = append(encoded, 0xAB, 0xCD) // trailing payload bytes

		got, rest, err := DecodeHeader(encoded, true)
		if err != nil {
			t.Fatalf("DecodeHeader(%+v): %v", want, err)
		}
		if got != want {
			t.Fatalf("DecodeHeader round trip: want %+v, got %+v", want, got)
		}
		if !bytes.Equal(rest, []byte{0xAB, 0xCD}) {
			t.Fatalf("DecodeHeader leftover: want [AB CD], got %x", rest)
		}
	}
}

func TestDecodeHeaderShort(t *testing.T) {
	if _, _, err := DecodeHeader([]byte{0, 1, 2}, false); err == nil {
		t.Fatal("want error for short header")
	}
}

func TestDecodeHeaderStrictRejectsReservedBits(t *testing.T) {
	h := EncodeHeader(Header{Opcode: 1})
	h[0] |= 0x80 // reserved bit

	if _, _, err := DecodeHeader(h, true); err == nil {
		t.Fatal("want error for reserved flag bit in strict mode")
	}
	if _, _, err := DecodeHeader(h, false); err != nil {
		t.Fatalf("non-strict mode should ignore reserved bits: %v", err)
	}
}

func TestOpcodeWidthSelection(t *testing.T) {
	cases := []struct {
		opcode   uint32
		wantSize int // bytes used for opcode alone
	}{
		{0x01, 1},
		{0xFE, 1},
		{0xFF, 3},     // 0xFF marker + 2-byte BE
		{0xFFFE, 3},
		{0x10000, 6},  // 0xFF 0xFF marker + 4-byte LE
		{0xFFFFFFFF, 6},
	}

	for _, c := range cases {
		buf := EncodeHeader(Header{Opcode: c.opcode})
		gotSize := len(buf) - 5
		if gotSize != c.wantSize {
			t.Errorf("opcode %#x: want %d opcode bytes, got %d", c.opcode, c.wantSize, gotSize)
		}

		h, _, err := DecodeHeader(buf, true)
		if err != nil {
			t.Fatalf("opcode %#x: decode: %v", c.opcode, err)
		}
		if h.Opcode != c.opcode {
			t.Errorf("opcode %#x: round trip got %#x", c.opcode, h.Opcode)
		}
	}
}

func TestZeroEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{1, 2, 3},
		{0, 0, 0},
		{1, 0, 0, 0, 2},
		bytes.Repeat([]byte{0}, 300), // exceeds one run's 255 cap
	}

	for _, p := range cases {
		encoded := ZeroEncode(p)
		decoded, err := ZeroDecode(encoded)
		if err != nil {
			t.Fatalf("ZeroDecode(%v): %v", p, err)
		}
		if !bytes.Equal(decoded, p) {
			t.Fatalf("zero-code round trip: want %v, got %v", p, decoded)
		}
	}
}

func TestZeroEncodeIdentityWhenNoZeros(t *testing.T) {
	p := []byte{1, 2, 3, 4}
	if got := ZeroEncode(p); !bytes.Equal(got, p) {
		t.Fatalf("want identity encoding, got %v", got)
	}
}

func TestZeroDecodeRejectsTruncatedRun(t *testing.T) {
	if _, err := ZeroDecode([]byte{1, 0}); err == nil {
		t.Fatal("want error for run length missing after 0x00")
	}
}

func TestAckTrailerRoundTrip(t *testing.T) {
	payload := []byte{9, 8, 7}
	acked := []uint32{1, 2, 0xFFFFFFFF}

	out, err := EncodeAckTrailer(payload, acked)
	if err != nil {
		t.Fatalf("EncodeAckTrailer: %v", err)
	}

	gotPayload, gotAcked, err := DecodeAckTrailer(out)
	if err != nil {
		t.Fatalf("DecodeAckTrailer: %v", err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload: want %v, got %v", payload, gotPayload)
	}
	if len(gotAcked) != len(acked) {
		t.Fatalf("acked length: want %d, got %d", len(acked), len(gotAcked))
	}
	for i := range acked {
		if gotAcked[i] != acked[i] {
			t.Fatalf("acked[%d]: want %d, got %d", i, acked[i], gotAcked[i])
		}
	}
}

func TestAckTrailerEmpty(t *testing.T) {
	out, err := EncodeAckTrailer([]byte{1, 2}, nil)
	if err != nil {
		t.Fatalf("EncodeAckTrailer: %v", err)
	}
	if len(out) != 3 || out[2] != 0 {
		t.Fatalf("want [1 2 0], got %v", out)
	}

	payload, acked, err := DecodeAckTrailer(out)
	if err != nil {
		t.Fatalf("DecodeAckTrailer: %v", err)
	}
	if !bytes.Equal(payload, []byte{1, 2}) || len(acked) != 0 {
		t.Fatalf("want payload [1 2] and no acks, got %v, %v", payload, acked)
	}
}

func TestAckTrailerRejectsOverflow(t *testing.T) {
	acked := make([]uint32, 256)
	if _, err := EncodeAckTrailer(nil, acked); err == nil {
		t.Fatal("want error for more than 255 piggybacked acks")
	}
}
