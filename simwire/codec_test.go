package simwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBlocksRoundTrip(t *testing.T) {
	reg := NewRegistry(DefaultTemplates())
	tmpl, ok := reg.ByName("RegionHandshake")
	require.True(t, ok)

	values := map[string][]Instance{
		"RegionInfo": {{
			"RegionFlags":    uint32(7),
			"SimAccess":      uint8(13),
			"SimName":        "Ahern",
			"SimOwner":       UUID{1, 2, 3},
			"WaterHeight":    float32(20.5),
			"BillableFactor": float32(1.0),
			"CacheID":        UUID{4, 5, 6},
		}},
		"RegionInfo4": {
			{"RegionFlagsExtended": uint64(1), "RegionProtocols": uint64(2)},
			{"RegionFlagsExtended": uint64(3), "RegionProtocols": uint64(4)},
		},
	}

	encoded, err := encodeBlocks(tmpl, values)
	require.NoError(t, err)

	decoded, rest, err := decodeBlocks(tmpl, encoded)
	require.NoError(t, err)
	require.Empty(t, rest)

	require.Equal(t, values["RegionInfo"], decoded["RegionInfo"])
	require.Equal(t, values["RegionInfo4"], decoded["RegionInfo4"])
}

func TestEncodeBlocksZeroRepeatVariable(t *testing.T) {
	reg := NewRegistry(DefaultTemplates())
	tmpl, ok := reg.ByName("RegionHandshake")
	require.True(t, ok)

	values := map[string][]Instance{
		"RegionInfo": {{
			"RegionFlags":    uint32(0),
			"SimAccess":      uint8(0),
			"SimName":        "",
			"SimOwner":       UUID{},
			"WaterHeight":    float32(0),
			"BillableFactor": float32(0),
			"CacheID":        UUID{},
		}},
		// RegionInfo4 omitted entirely: zero repetitions.
	}

	encoded, err := encodeBlocks(tmpl, values)
	require.NoError(t, err)

	decoded, _, err := decodeBlocks(tmpl, encoded)
	require.NoError(t, err)
	require.Empty(t, decoded["RegionInfo4"])
}

func TestEncodeBlocksRejectsWrongFixedCount(t *testing.T) {
	tmpl := &Template{
		Name: "T",
		Blocks: []Block{{
			Name:   "B",
			Repeat: RepeatFixed,
			Count:  2,
			Vars:   []Variable{{Name: "V", Type: TUint8}},
		}},
	}

	_, err := encodeBlocks(tmpl, map[string][]Instance{
		"B": {{"V": uint8(1)}},
	})
	require.Error(t, err)
}

func TestDecodeBlocksReturnsTrailingBytes(t *testing.T) {
	reg := NewRegistry(DefaultTemplates())
	tmpl, ok := reg.ByName("CompletePingCheck")
	require.True(t, ok)

	encoded, err := encodeBlocks(tmpl, map[string][]Instance{
		"PingID": {{"ID": uint8(9)}},
	})
	require.NoError(t, err)

	encoded = append(encoded, 0xAA, 0xBB)

	decoded, rest, err := decodeBlocks(tmpl, encoded)
	require.NoError(t, err)
	require.Equal(t, uint8(9), decoded["PingID"][0]["ID"])
	require.Equal(t, []byte{0xAA, 0xBB}, rest)
}
