package s7

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
)

// S7 stores multi-byte values big-endian. The functions below are pure and
// need no connection.

// GetBit reports whether bit i (0 = least significant) of b is set.
// Indexes outside 0-7 report false.
func GetBit(b byte, i int) bool {
	if i < 0 || i > 7 {
		return false
	}
	return b&(1<<uint(i)) != 0
}

// SetBit returns b with bit i set to v. Indexes outside 0-7 leave b unchanged.
func SetBit(b byte, i int, v bool) byte {
	if i < 0 || i > 7 {
		return b
	}
	if v {
		return b | 1<<uint(i)
	}
	return b &^ (1 << uint(i))
}

func EncodeInt16(v int16) []byte {
	return EncodeUint16(uint16(v))
}

func DecodeInt16(buf []byte) (int16, error) {
	v, err := DecodeUint16(buf)
	return int16(v), err
}

func EncodeUint16(v uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, v)
	return buf
}

func DecodeUint16(buf []byte) (uint16, error) {
	if err := checkLength("decode uint16", buf, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func EncodeInt32(v int32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(v))
	return buf
}

func DecodeInt32(buf []byte) (int32, error) {
	if err := checkLength("decode int32", buf, 4); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf)), nil
}

// EncodeFloat32 encodes v as an IEEE-754 single (S7 REAL).
func EncodeFloat32(v float32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, math.Float32bits(v))
	return buf
}

func DecodeFloat32(buf []byte) (float32, error) {
	if err := checkLength("decode float32", buf, 4); err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(buf)), nil
}

// DecodeBytes returns a copy of buf, which must be exactly expectedLen long.
// It never pads or truncates.
func DecodeBytes(buf []byte, expectedLen int) ([]byte, error) {
	if err := checkLength("decode bytes", buf, expectedLen); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func checkLength(op string, buf []byte, want int) error {
	if len(buf) != want {
		return invalidArgument(op, "buffer length %d, want %d", len(buf), want)
	}
	return nil
}

// ParseValue encodes the text form of a value of kind: true/false or 0/1 for
// bits, decimal numbers, and hex for ValueBytes.
func ParseValue(kind ValueKind, s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	switch kind {
	case ValueBit:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil, invalidArgument("parse value", "bad bit value %q", s)
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case ValueByte:
		v, err := strconv.ParseUint(s, 0, 8)
		if err != nil {
			return nil, invalidArgument("parse value", "bad byte value %q", s)
		}
		return []byte{byte(v)}, nil
	case ValueInt16:
		v, err := strconv.ParseInt(s, 0, 16)
		if err != nil {
			return nil, invalidArgument("parse value", "bad int16 value %q", s)
		}
		return EncodeInt16(int16(v)), nil
	case ValueUint16:
		v, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return nil, invalidArgument("parse value", "bad uint16 value %q", s)
		}
		return EncodeUint16(uint16(v)), nil
	case ValueInt32:
		v, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return nil, invalidArgument("parse value", "bad int32 value %q", s)
		}
		return EncodeInt32(int32(v)), nil
	case ValueFloat32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, invalidArgument("parse value", "bad float32 value %q", s)
		}
		return EncodeFloat32(float32(v)), nil
	case ValueBytes:
		b, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
		if err != nil {
			return nil, invalidArgument("parse value", "bad hex bytes %q", s)
		}
		return b, nil
	default:
		return nil, invalidArgument("parse value", "unknown value kind %d", int(kind))
	}
}

// FormatValue is the inverse of ParseValue.
func FormatValue(kind ValueKind, buf []byte) (string, error) {
	switch kind {
	case ValueBit:
		if err := checkLength("format bit", buf, 1); err != nil {
			return "", err
		}
		return strconv.FormatBool(buf[0] != 0), nil
	case ValueByte:
		if err := checkLength("format byte", buf, 1); err != nil {
			return "", err
		}
		return strconv.Itoa(int(buf[0])), nil
	case ValueInt16:
		v, err := DecodeInt16(buf)
		return strconv.Itoa(int(v)), err
	case ValueUint16:
		v, err := DecodeUint16(buf)
		return strconv.Itoa(int(v)), err
	case ValueInt32:
		v, err := DecodeInt32(buf)
		return strconv.Itoa(int(v)), err
	case ValueFloat32:
		v, err := DecodeFloat32(buf)
		return strconv.FormatFloat(float64(v), 'g', -1, 32), err
	default:
		return hex.EncodeToString(buf), nil
	}
}

// ParseValueKind maps a type name such as "int16" or "real" to a ValueKind.
func ParseValueKind(name string) (ValueKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bit", "bool":
		return ValueBit, nil
	case "byte":
		return ValueByte, nil
	case "int16", "int":
		return ValueInt16, nil
	case "uint16", "word":
		return ValueUint16, nil
	case "int32", "dint":
		return ValueInt32, nil
	case "float32", "real":
		return ValueFloat32, nil
	case "bytes":
		return ValueBytes, nil
	}
	return 0, invalidArgument("parse value kind", "unknown type %q", name)
}
