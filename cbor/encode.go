package cbor

import (
	"encoding/binary"
	"math"
)

// Major types, pre-shifted into the top three bits of the initial byte.
const (
	majorUnsigned byte = 0 << 5
	majorNegative byte = 1 << 5
	majorBytes    byte = 2 << 5
	majorText     byte = 3 << 5
	majorArray    byte = 4 << 5
	majorMap      byte = 5 << 5
	majorTag      byte = 6 << 5
	majorSimple   byte = 7 << 5
)

// Additional information values in the low five bits of the initial byte.
const (
	maxInline      = 23
	argUint8       = 24
	argUint16      = 25
	argUint32      = 26
	argUint64      = 27
	argIndefinite  = 31
	infoMask  byte = 0x1f
)

// Simple values with a fixed meaning.
const (
	simpleFalse     = 20
	simpleTrue      = 21
	simpleNull      = 22
	simpleUndefined = 23
	simpleHalf      = 25
	simpleFloat32   = 26
	simpleFloat64   = 27

	// Simple values 24-31 are reserved; a one-byte argument must be at
	// least 32.
	simpleReservedMin = 24
	simpleReservedMax = 31
)

// Single-byte encodings.
const (
	codeFalse       byte = majorSimple | simpleFalse
	codeTrue        byte = majorSimple | simpleTrue
	codeNull        byte = majorSimple | simpleNull
	codeUndefined   byte = majorSimple | simpleUndefined
	codeFloat32     byte = majorSimple | simpleFloat32
	codeFloat64     byte = majorSimple | simpleFloat64
	codeBreak       byte = majorSimple | argIndefinite
	codeArrayStream byte = majorArray | argIndefinite
	codeMapStream   byte = majorMap | argIndefinite
	codeBytesStream byte = majorBytes | argIndefinite
	codeTextStream  byte = majorText | argIndefinite
)

// Marshal returns the encoding of v.
func Marshal(v Value) []byte {
	return Append(nil, v)
}

// Append appends the encoding of v to dst and returns the extended buffer.
//
// Maps are written with their entries ordered by encoded key so that a given
// value always produces the same bytes. Half floats are written as undefined.
// The invalid zero Value is written as undefined as well.
func Append(dst []byte, v Value) []byte {
	switch v.kind {
	case KindUnsigned:
		return appendHead(dst, majorUnsigned, v.num)
	case KindNegative:
		return appendHead(dst, majorNegative, v.num)
	case KindBytes:
		dst = appendHead(dst, majorBytes, uint64(len(v.bytes)))
		return append(dst, v.bytes...)
	case KindText:
		dst = appendHead(dst, majorText, uint64(len(v.text)))
		return append(dst, v.text...)
	case KindArray:
		dst = appendHead(dst, majorArray, uint64(len(v.items)))
		for _, item := range v.items {
			dst = Append(dst, item)
		}
		return dst
	case KindMap:
		dst = appendHead(dst, majorMap, uint64(len(v.pairs)))
		for _, e := range sortedEntries(v.pairs) {
			dst = Append(dst, e.Key)
			dst = Append(dst, e.Value)
		}
		return dst
	case KindTagged:
		dst = appendHead(dst, majorTag, v.num)
		if v.inner == nil {
			return append(dst, codeUndefined)
		}
		return Append(dst, *v.inner)
	case KindSimple:
		if v.num <= maxInline {
			return append(dst, majorSimple|byte(v.num))
		}
		return append(dst, majorSimple|argUint8, byte(v.num))
	case KindBool:
		if v.num == 1 {
			return append(dst, codeTrue)
		}
		return append(dst, codeFalse)
	case KindNull:
		return append(dst, codeNull)
	case KindFloat32:
		dst = append(dst, codeFloat32)
		return binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v.flt)))
	case KindFloat64:
		dst = append(dst, codeFloat64)
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v.flt))
	case KindBreak:
		return append(dst, codeBreak)
	default:
		// KindUndefined, KindHalf and KindInvalid.
		return append(dst, codeUndefined)
	}
}

// appendHead writes the initial byte for major and the smallest argument
// encoding that holds arg.
func appendHead(dst []byte, major byte, arg uint64) []byte {
	switch {
	case arg <= maxInline:
		return append(dst, major|byte(arg))
	case arg <= math.MaxUint8:
		return append(dst, major|argUint8, byte(arg))
	case arg <= math.MaxUint16:
		dst = append(dst, major|argUint16)
		return binary.BigEndian.AppendUint16(dst, uint16(arg))
	case arg <= math.MaxUint32:
		dst = append(dst, major|argUint32)
		return binary.BigEndian.AppendUint32(dst, uint32(arg))
	default:
		dst = append(dst, major|argUint64)
		return binary.BigEndian.AppendUint64(dst, arg)
	}
}

// HeadSize returns the number of bytes used by the initial byte and argument
// for a length or integer of value arg.
func HeadSize(arg uint64) int {
	switch {
	case arg <= maxInline:
		return 1
	case arg <= math.MaxUint8:
		return 2
	case arg <= math.MaxUint16:
		return 3
	case arg <= math.MaxUint32:
		return 5
	default:
		return 9
	}
}
