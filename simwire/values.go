package simwire

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"
)

// VarType is the closed set of semantic types a Variable may hold, per
// spec.md §3.
type VarType int

const (
	TUint8 VarType = iota
	TUint16
	TUint32
	TUint64
	TInt8
	TInt16
	TInt32
	TInt64
	TFloat32
	TFloat64
	TVec3       // three float32s
	TVec4       // four float32s
	TQuaternion // four float32s
	TUUID       // fixed 16-byte identifier
	TIPAddr     // network byte order
	TPort       // network byte order, 2 bytes
	TFixedBytes // fixed-length bytes, length given by Variable.FixedLen
	TVarBytes1  // variable-length bytes, 1-byte length prefix
	TVarBytes2  // variable-length bytes, 2-byte length prefix
	TString1    // variable-length UTF-8 string, 1-byte length prefix
	TString2    // variable-length UTF-8 string, 2-byte length prefix
)

// UUID is a fixed 16-byte identifier, per spec.md §3.
type UUID [16]byte

// Quaternion is a 4-vector of 32-bit floats representing an orientation.
type Quaternion [4]float32

var errShortValue = fmt.Errorf("simwire: value too short")

// encodeValue appends the wire encoding of v (whose Go type must match t,
// per the table in decodeValue) to buf and returns the result.
func encodeValue(buf []byte, t VarType, fixedLen int, v interface{}) ([]byte, error) {
	switch t {
	case TUint8:
		return append(buf, v.(uint8)), nil
	case TInt8:
		return append(buf, byte(v.(int8))), nil
	case TUint16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], v.(uint16))
		return append(buf, b[:]...), nil
	case TInt16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v.(int16)))
		return append(buf, b[:]...), nil
	case TUint32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v.(uint32))
		return append(buf, b[:]...), nil
	case TInt32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v.(int32)))
		return append(buf, b[:]...), nil
	case TUint64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v.(uint64))
		return append(buf, b[:]...), nil
	case TInt64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(v.(int64)))
		return append(buf, b[:]...), nil
	case TFloat32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(v.(float32)))
		return append(buf, b[:]...), nil
	case TFloat64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v.(float64)))
		return append(buf, b[:]...), nil
	case TVec3:
		vec := v.([3]float32)
		for _, f := range vec {
			var err error
			buf, err = encodeValue(buf, TFloat32, 0, f)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case TVec4:
		vec := v.([4]float32)
		for _, f := range vec {
			var err error
			buf, err = encodeValue(buf, TFloat32, 0, f)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case TQuaternion:
		q := v.(Quaternion)
		for _, f := range q {
			var err error
			buf, err = encodeValue(buf, TFloat32, 0, f)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case TUUID:
		id := v.(UUID)
		return append(buf, id[:]...), nil
	case TIPAddr:
		addr := v.(netip.Addr).As4()
		return append(buf, addr[:]...), nil
	case TPort:
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], v.(uint16))
		return append(buf, b[:]...), nil
	case TFixedBytes:
		data := v.([]byte)
		if len(data) != fixedLen {
			return nil, fmt.Errorf("simwire: fixed bytes: want %d, got %d", fixedLen, len(data))
		}
		return append(buf, data...), nil
	case TVarBytes1:
		return encodeLenPrefixed(buf, v.([]byte), 1)
	case TVarBytes2:
		return encodeLenPrefixed(buf, v.([]byte), 2)
	case TString1:
		return encodeLenPrefixed(buf, []byte(v.(string)), 1)
	case TString2:
		return encodeLenPrefixed(buf, []byte(v.(string)), 2)
	default:
		return nil, fmt.Errorf("simwire: unknown variable type %d", t)
	}
}

func encodeLenPrefixed(buf, data []byte, prefixLen int) ([]byte, error) {
	switch prefixLen {
	case 1:
		if len(data) > 0xFF {
			return nil, fmt.Errorf("simwire: data too long for 1-byte length prefix: %d", len(data))
		}
		buf = append(buf, byte(len(data)))
	case 2:
		if len(data) > 0xFFFF {
			return nil, fmt.Errorf("simwire: data too long for 2-byte length prefix: %d", len(data))
		}
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(len(data)))
		buf = append(buf, b[:]...)
	}
	return append(buf, data...), nil
}

// decodeValue reads one value of type t (fixedLen only used for
// TFixedBytes) from the front of data and returns the decoded Go value
// along with the remaining bytes.
func decodeValue(data []byte, t VarType, fixedLen int) (interface{}, []byte, error) {
	need := func(n int) error {
		if len(data) < n {
			return errShortValue
		}
		return nil
	}

	switch t {
	case TUint8:
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return data[0], data[1:], nil
	case TInt8:
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return int8(data[0]), data[1:], nil
	case TUint16:
		if err := need(2); err != nil {
			return nil, nil, err
		}
		return binary.LittleEndian.Uint16(data[:2]), data[2:], nil
	case TInt16:
		if err := need(2); err != nil {
			return nil, nil, err
		}
		return int16(binary.LittleEndian.Uint16(data[:2])), data[2:], nil
	case TUint32:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		return binary.LittleEndian.Uint32(data[:4]), data[4:], nil
	case TInt32:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		return int32(binary.LittleEndian.Uint32(data[:4])), data[4:], nil
	case TUint64:
		if err := need(8); err != nil {
			return nil, nil, err
		}
		return binary.LittleEndian.Uint64(data[:8]), data[8:], nil
	case TInt64:
		if err := need(8); err != nil {
			return nil, nil, err
		}
		return int64(binary.LittleEndian.Uint64(data[:8])), data[8:], nil
	case TFloat32:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(data[:4])), data[4:], nil
	case TFloat64:
		if err := need(8); err != nil {
			return nil, nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(data[:8])), data[8:], nil
	case TVec3, TVec4:
		n := 3
		if t == TVec4 {
			n = 4
		}
		var vec [4]float32
		rest := data
		for i := 0; i < n; i++ {
			v, r, err := decodeValue(rest, TFloat32, 0)
			if err != nil {
				return nil, nil, err
			}
			vec[i] = v.(float32)
			rest = r
		}
		if t == TVec3 {
			return [3]float32{vec[0], vec[1], vec[2]}, rest, nil
		}
		return [4]float32{vec[0], vec[1], vec[2], vec[3]}, rest, nil
	case TQuaternion:
		var q Quaternion
		rest := data
		for i := 0; i < 4; i++ {
			v, r, err := decodeValue(rest, TFloat32, 0)
			if err != nil {
				return nil, nil, err
			}
			q[i] = v.(float32)
			rest = r
		}
		return q, rest, nil
	case TUUID:
		if err := need(16); err != nil {
			return nil, nil, err
		}
		var id UUID
		copy(id[:], data[:16])
		return id, data[16:], nil
	case TIPAddr:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		var b [4]byte
		copy(b[:], data[:4])
		return netip.AddrFrom4(b), data[4:], nil
	case TPort:
		if err := need(2); err != nil {
			return nil, nil, err
		}
		return binary.BigEndian.Uint16(data[:2]), data[2:], nil
	case TFixedBytes:
		if err := need(fixedLen); err != nil {
			return nil, nil, err
		}
		out := make([]byte, fixedLen)
		copy(out, data[:fixedLen])
		return out, data[fixedLen:], nil
	case TVarBytes1, TString1:
		if err := need(1); err != nil {
			return nil, nil, err
		}
		n := int(data[0])
		data = data[1:]
		if err := need(n); err != nil {
			return nil, nil, err
		}
		out := make([]byte, n)
		copy(out, data[:n])
		if t == TString1 {
			return string(out), data[n:], nil
		}
		return out, data[n:], nil
	case TVarBytes2, TString2:
		if err := need(2); err != nil {
			return nil, nil, err
		}
		n := int(binary.LittleEndian.Uint16(data[:2]))
		data = data[2:]
		if err := need(n); err != nil {
			return nil, nil, err
		}
		out := make([]byte, n)
		copy(out, data[:n])
		if t == TString2 {
			return string(out), data[n:], nil
		}
		return out, data[n:], nil
	default:
		return nil, nil, fmt.Errorf("simwire: unknown variable type %d", t)
	}
}
