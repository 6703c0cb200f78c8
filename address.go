package s7

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Area is an S7 memory area.
type Area int

const (
	AreaDB Area = iota // Data block
	AreaI              // Process image inputs
	AreaQ              // Process image outputs
	AreaM              // Merkers (flags)
	AreaT              // Timers
	AreaC              // Counters
)

func (a Area) String() string {
	switch a {
	case AreaDB:
		return "DB"
	case AreaI:
		return "I"
	case AreaQ:
		return "Q"
	case AreaM:
		return "M"
	case AreaT:
		return "T"
	case AreaC:
		return "C"
	default:
		return "?"
	}
}

// code returns the S7ANY area byte.
func (a Area) code() byte {
	switch a {
	case AreaI:
		return areaCodeI
	case AreaQ:
		return areaCodeQ
	case AreaM:
		return areaCodeM
	case AreaT:
		return areaCodeT
	case AreaC:
		return areaCodeC
	default:
		return areaCodeDB
	}
}

func areaFromCode(code byte) (Area, bool) {
	switch code {
	case areaCodeDB:
		return AreaDB, true
	case areaCodeI:
		return AreaI, true
	case areaCodeQ:
		return AreaQ, true
	case areaCodeM:
		return AreaM, true
	case areaCodeT:
		return AreaT, true
	case areaCodeC:
		return AreaC, true
	}
	return 0, false
}

// counted reports whether the area is addressed by element number instead of byte offset.
func (a Area) counted() bool {
	return a == AreaT || a == AreaC
}

// ValueKind is the type of value stored at an Address.
type ValueKind int

const (
	ValueBytes ValueKind = iota
	ValueBit
	ValueByte
	ValueInt16
	ValueUint16
	ValueInt32
	ValueFloat32
)

func (k ValueKind) String() string {
	switch k {
	case ValueBytes:
		return "bytes"
	case ValueBit:
		return "bit"
	case ValueByte:
		return "byte"
	case ValueInt16:
		return "int16"
	case ValueUint16:
		return "uint16"
	case ValueInt32:
		return "int32"
	case ValueFloat32:
		return "float32"
	default:
		return "?"
	}
}

// Size returns the encoded width in bytes, or 0 for ValueBytes.
func (k ValueKind) Size() int {
	switch k {
	case ValueBit, ValueByte:
		return 1
	case ValueInt16, ValueUint16:
		return 2
	case ValueInt32, ValueFloat32:
		return 4
	default:
		return 0
	}
}

const (
	NoBit = -1

	// MaxOffset is the largest byte offset expressible in the 24-bit S7ANY bit address.
	MaxOffset = 1<<21 - 1
	MaxDB     = 0xFFFF
	MaxLength = 0xFFFF
)

// Address describes a single read/write target. It is a value type; the
// With* helpers return modified copies.
type Address struct {
	Area     Area
	DBNumber int // only for AreaDB
	Offset   int // byte offset, or element number for timers/counters
	Bit      int // 0-7, only read for ValueBit
	Kind     ValueKind
	Length   int // bytes
}

// DBAddress returns the address of a fixed-width value in a data block.
func DBAddress(db, offset int, kind ValueKind) Address {
	return Address{Area: AreaDB, DBNumber: db, Offset: offset, Bit: NoBit, Kind: kind, Length: kind.Size()}
}

// DBBitAddress returns the address of a single bit in a data block.
func DBBitAddress(db, offset, bit int) Address {
	return Address{Area: AreaDB, DBNumber: db, Offset: offset, Bit: bit, Kind: ValueBit, Length: 1}
}

// DBRangeAddress returns the address of a raw byte range in a data block.
func DBRangeAddress(db, offset, length int) Address {
	return Address{Area: AreaDB, DBNumber: db, Offset: offset, Bit: NoBit, Kind: ValueBytes, Length: length}
}

// WithKind returns a copy of a reinterpreted as kind. Fixed-width kinds
// also reset Length.
func (a Address) WithKind(kind ValueKind) Address {
	a.Kind = kind
	if n := kind.Size(); n > 0 {
		a.Length = n
	}
	if kind != ValueBit {
		a.Bit = NoBit
	}
	return a
}

// WithOffset returns a copy of a shifted to offset with the given length.
func (a Address) WithOffset(offset, length int) Address {
	a.Offset = offset
	a.Length = length
	return a
}

// span is the number of offsets the address covers: bytes, or elements for
// timers and counters.
func (a Address) span() int {
	switch {
	case a.Kind == ValueBit:
		return 1
	case a.Area.counted():
		return a.Length / 2
	default:
		return a.Length
	}
}

// Validate checks the address without touching the network.
func (a Address) Validate() error {
	switch a.Area {
	case AreaDB:
		if a.DBNumber < 1 || a.DBNumber > MaxDB {
			return invalidArgument("", "db number %d out of range 1-%d", a.DBNumber, MaxDB)
		}
	case AreaI, AreaQ, AreaM, AreaT, AreaC:
		if a.DBNumber != 0 {
			return invalidArgument("", "db number is only valid for the DB area, got %d for %s", a.DBNumber, a.Area)
		}
	default:
		return invalidArgument("", "unknown area %d", int(a.Area))
	}
	if a.Offset < 0 || a.Offset > MaxOffset {
		return invalidArgument("", "offset %d out of range 0-%d", a.Offset, MaxOffset)
	}
	if a.Kind == ValueBit {
		if a.Bit < 0 || a.Bit > 7 {
			return invalidArgument("", "bit index %d out of range 0-7", a.Bit)
		}
		if a.Area.counted() {
			return invalidArgument("", "bit access is not supported for %s", a.Area)
		}
	}
	if a.Length <= 0 || a.Length > MaxLength {
		return invalidArgument("", "length %d out of range 1-%d", a.Length, MaxLength)
	}
	if n := a.Kind.Size(); n > 0 && a.Length != n {
		return invalidArgument("", "length %d does not match %s width %d", a.Length, a.Kind, n)
	}
	if a.Area.counted() && a.Length%2 != 0 {
		return invalidArgument("", "%s values are 2 bytes wide, length %d", a.Area, a.Length)
	}
	// Every chunk of a split transfer must stay addressable.
	if end := a.Offset + a.span() - 1; end > MaxOffset {
		return invalidArgument("", "range %d-%d exceeds offset limit %d", a.Offset, end, MaxOffset)
	}
	return nil
}

func (a Address) String() string {
	var letter string
	switch a.Kind {
	case ValueBit:
		letter = "X"
	case ValueInt16, ValueUint16:
		letter = "W"
	case ValueInt32, ValueFloat32:
		letter = "D"
	default:
		letter = "B"
	}
	var s string
	switch a.Area {
	case AreaDB:
		s = fmt.Sprintf("DB%d.DB%s%d", a.DBNumber, letter, a.Offset)
	case AreaT, AreaC:
		s = fmt.Sprintf("%s%d", a.Area, a.Offset)
	default:
		if a.Kind == ValueBit {
			s = fmt.Sprintf("%s%d", a.Area, a.Offset)
		} else {
			s = fmt.Sprintf("%s%s%d", a.Area, letter, a.Offset)
		}
	}
	if a.Kind == ValueBit {
		s += "." + strconv.Itoa(a.Bit)
	}
	if a.Kind == ValueBytes && !a.Area.counted() {
		s += fmt.Sprintf("[%d]", a.Length)
	}
	return s
}

var (
	// DB1.DBX0.0, DB1.DBB0, DB1.DBW0, DB1.DBD0, DB1.DBB0[16]
	reDB = regexp.MustCompile(`^DB(\d+)\.DB([XBWD])(\d+)(?:\.(\d))?(?:\[(\d+)\])?$`)
	// M0.0, MB0, MW0, MD0, I0.0, QB0[4]
	reIQM = regexp.MustCompile(`^([IQM])([XBWD])?(\d+)(?:\.(\d))?(?:\[(\d+)\])?$`)
	// T0, C0
	reTC = regexp.MustCompile(`^([TC])(\d+)$`)
)

// ParseAddress parses the usual S7 address notation:
//
//	DB1.DBX0.0   bit
//	DB1.DBB0     byte
//	DB1.DBW0     int16
//	DB1.DBD0     int32
//	DB1.DBB0[16] 16 raw bytes
//	M0.0, MB0, MW0, MD0 (and I/Q equivalents)
//	T0, C0       timer/counter word
//
// Use Address.WithKind to read a word or double word as another type.
func ParseAddress(s string) (Address, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Address{}, invalidArgument("parse address", "empty address")
	}

	if m := reDB.FindStringSubmatch(s); m != nil {
		db, _ := strconv.Atoi(m[1])
		addr, err := typedAddress(m[2], m[3], m[4], m[5])
		if err != nil {
			return Address{}, err
		}
		addr.Area = AreaDB
		addr.DBNumber = db
		return addr, addr.Validate()
	}

	if m := reIQM.FindStringSubmatch(s); m != nil {
		letter := m[2]
		if letter == "" {
			letter = "X"
		}
		addr, err := typedAddress(letter, m[3], m[4], m[5])
		if err != nil {
			return Address{}, err
		}
		switch m[1] {
		case "I":
			addr.Area = AreaI
		case "Q":
			addr.Area = AreaQ
		default:
			addr.Area = AreaM
		}
		return addr, addr.Validate()
	}

	if m := reTC.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[2])
		area := AreaT
		if m[1] == "C" {
			area = AreaC
		}
		addr := Address{Area: area, Offset: n, Bit: NoBit, Kind: ValueBytes, Length: 2}
		return addr, addr.Validate()
	}

	return Address{}, invalidArgument("parse address", "unrecognised address %q", s)
}

func typedAddress(letter, offset, bit, count string) (Address, error) {
	off, err := strconv.Atoi(offset)
	if err != nil {
		return Address{}, invalidArgument("parse address", "bad offset %q", offset)
	}
	addr := Address{Offset: off, Bit: NoBit}
	switch letter {
	case "X":
		if bit == "" {
			return Address{}, invalidArgument("parse address", "bit access requires a bit index, e.g. DB1.DBX0.0")
		}
		if count != "" {
			return Address{}, invalidArgument("parse address", "bit access cannot have a length")
		}
		addr.Bit, _ = strconv.Atoi(bit)
		addr.Kind = ValueBit
		addr.Length = 1
		return addr, nil
	case "B":
		addr.Kind = ValueByte
		addr.Length = 1
	case "W":
		addr.Kind = ValueInt16
		addr.Length = 2
	case "D":
		addr.Kind = ValueInt32
		addr.Length = 4
	}
	if bit != "" {
		return Address{}, invalidArgument("parse address", "bit index is only valid for bit access")
	}
	if count != "" {
		if letter != "B" {
			return Address{}, invalidArgument("parse address", "a length is only valid for byte ranges")
		}
		n, err := strconv.Atoi(count)
		if err != nil {
			return Address{}, invalidArgument("parse address", "bad length %q", count)
		}
		addr.Kind = ValueBytes
		addr.Length = n
	}
	return addr, nil
}
