package cbor

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"
)

// MaxDepth is the deepest nesting of arrays, maps and tags the decoder
// accepts.
const MaxDepth = 64

// Decode decodes the first data item in data and returns it with the number
// of bytes it occupied. A lone break byte decodes to Break().
//
// Indefinite-length arrays, maps and strings are folded into their definite
// equivalents, so re-encoding a decoded stream yields the definite form.
func Decode(data []byte) (Value, int, error) {
	d := decoder{data: data}
	v, err := d.item(0, true)
	if err != nil {
		return Value{}, 0, err
	}
	return v, d.off, nil
}

// Unmarshal decodes data, which must hold exactly one data item.
func Unmarshal(data []byte) (Value, error) {
	v, n, err := Decode(data)
	if err != nil {
		return Value{}, err
	}
	if n != len(data) {
		return Value{}, malformed(n, "%d trailing bytes", len(data)-n)
	}
	return v, nil
}

type decoder struct {
	data []byte
	off  int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.off
}

// head reads an initial byte and its argument. For additional information 31
// the returned argument is zero and indefinite is true.
func (d *decoder) head() (major byte, info byte, arg uint64, indefinite bool, err error) {
	start := d.off
	if d.remaining() < 1 {
		return 0, 0, 0, false, truncated(start, "missing initial byte")
	}
	ib := d.data[d.off]
	d.off++
	major = ib &^ infoMask
	info = ib & infoMask

	var width int
	switch {
	case info <= maxInline:
		return major, info, uint64(info), false, nil
	case info == argUint8:
		width = 1
	case info == argUint16:
		width = 2
	case info == argUint32:
		width = 4
	case info == argUint64:
		width = 8
	case info == argIndefinite:
		return major, info, 0, true, nil
	default:
		return 0, 0, 0, false, malformed(start, "reserved additional information %d", info)
	}

	if d.remaining() < width {
		return 0, 0, 0, false, truncated(start, "argument needs %d bytes, %d left", width, d.remaining())
	}
	b := d.data[d.off : d.off+width]
	d.off += width
	switch width {
	case 1:
		arg = uint64(b[0])
	case 2:
		arg = uint64(binary.BigEndian.Uint16(b))
	case 4:
		arg = uint64(binary.BigEndian.Uint32(b))
	default:
		arg = binary.BigEndian.Uint64(b)
	}
	return major, info, arg, false, nil
}

// item decodes one data item. allowBreak reports whether a break byte is a
// legal terminator at this position; when it is, the break is returned as
// Break() for the caller to act on.
func (d *decoder) item(depth int, allowBreak bool) (Value, error) {
	start := d.off
	major, info, arg, indefinite, err := d.head()
	if err != nil {
		return Value{}, err
	}

	switch major {
	case majorUnsigned, majorNegative, majorTag:
		if indefinite {
			return Value{}, malformed(start, "indefinite length on major type %d", major>>5)
		}
	}

	switch major {
	case majorUnsigned:
		return Uint(arg), nil

	case majorNegative:
		return Negative(arg), nil

	case majorBytes:
		if indefinite {
			b, err := d.chunks(majorBytes)
			if err != nil {
				return Value{}, err
			}
			return Bytes(b), nil
		}
		b, err := d.take(start, arg)
		if err != nil {
			return Value{}, err
		}
		return Bytes(append([]byte{}, b...)), nil

	case majorText:
		if indefinite {
			b, err := d.chunks(majorText)
			if err != nil {
				return Value{}, err
			}
			return Text(string(b)), nil
		}
		b, err := d.take(start, arg)
		if err != nil {
			return Value{}, err
		}
		return Text(string(b)), nil

	case majorArray:
		if depth >= MaxDepth {
			return Value{}, malformed(start, "nesting deeper than %d", MaxDepth)
		}
		if indefinite {
			items := []Value{}
			for {
				v, err := d.item(depth+1, true)
				if err != nil {
					return Value{}, err
				}
				if v.kind == KindBreak {
					return Array(items...), nil
				}
				items = append(items, v)
			}
		}
		if arg > uint64(d.remaining()) {
			return Value{}, truncated(start, "array of %d items exceeds %d remaining bytes", arg, d.remaining())
		}
		items := make([]Value, 0, int(arg))
		for i := uint64(0); i < arg; i++ {
			v, err := d.item(depth+1, false)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Array(items...), nil

	case majorMap:
		if depth >= MaxDepth {
			return Value{}, malformed(start, "nesting deeper than %d", MaxDepth)
		}
		if indefinite {
			entries := []Entry{}
			for {
				k, err := d.item(depth+1, true)
				if err != nil {
					return Value{}, err
				}
				if k.kind == KindBreak {
					return Map(entries...), nil
				}
				v, err := d.item(depth+1, false)
				if err != nil {
					return Value{}, err
				}
				entries = append(entries, Entry{Key: k, Value: v})
			}
		}
		if arg > uint64(d.remaining())/2 {
			return Value{}, truncated(start, "map of %d entries exceeds %d remaining bytes", arg, d.remaining())
		}
		entries := make([]Entry, 0, int(arg))
		for i := uint64(0); i < arg; i++ {
			k, err := d.item(depth+1, false)
			if err != nil {
				return Value{}, err
			}
			v, err := d.item(depth+1, false)
			if err != nil {
				return Value{}, err
			}
			entries = append(entries, Entry{Key: k, Value: v})
		}
		return Map(entries...), nil

	case majorTag:
		if depth >= MaxDepth {
			return Value{}, malformed(start, "nesting deeper than %d", MaxDepth)
		}
		inner, err := d.item(depth+1, false)
		if err != nil {
			return Value{}, err
		}
		return Tag(arg, inner), nil

	default:
		return d.simple(start, info, arg, indefinite, allowBreak)
	}
}

func (d *decoder) simple(start int, info byte, arg uint64, indefinite, allowBreak bool) (Value, error) {
	if indefinite {
		if !allowBreak {
			return Value{}, malformed(start, "unexpected break")
		}
		return Break(), nil
	}
	switch info {
	case simpleHalf:
		return Half(float16.Frombits(uint16(arg)).Float32()), nil
	case simpleFloat32:
		return Float32(math.Float32frombits(uint32(arg))), nil
	case simpleFloat64:
		return Float64(math.Float64frombits(arg)), nil
	case argUint8:
		if arg <= simpleReservedMax {
			return Value{}, malformed(start, "invalid simple value %d", arg)
		}
	}
	return Simple(uint8(arg)), nil
}

// take returns the next n bytes of input.
func (d *decoder) take(start int, n uint64) ([]byte, error) {
	if n > uint64(d.remaining()) {
		return nil, truncated(start, "length %d exceeds %d remaining bytes", n, d.remaining())
	}
	b := d.data[d.off : d.off+int(n)]
	d.off += int(n)
	return b, nil
}

// chunks concatenates the definite-length chunks of an indefinite string up
// to its break.
func (d *decoder) chunks(major byte) ([]byte, error) {
	out := []byte{}
	for {
		start := d.off
		m, _, arg, indefinite, err := d.head()
		if err != nil {
			return nil, err
		}
		if m == majorSimple && indefinite {
			return out, nil
		}
		if m != major || indefinite {
			return nil, malformed(start, "invalid chunk in indefinite string")
		}
		b, err := d.take(start, arg)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
}
