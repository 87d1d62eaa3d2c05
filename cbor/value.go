package cbor

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds. The zero Value has KindInvalid.
const (
	KindInvalid Kind = iota
	KindUnsigned
	KindNegative
	KindBytes
	KindText
	KindArray
	KindMap
	KindTagged
	KindSimple
	KindBool
	KindNull
	KindUndefined
	KindHalf
	KindFloat32
	KindFloat64
	KindBreak
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindUnsigned:  "unsigned",
	KindNegative:  "negative",
	KindBytes:     "bytes",
	KindText:      "text",
	KindArray:     "array",
	KindMap:       "map",
	KindTagged:    "tagged",
	KindSimple:    "simple",
	KindBool:      "bool",
	KindNull:      "null",
	KindUndefined: "undefined",
	KindHalf:      "half",
	KindFloat32:   "float32",
	KindFloat64:   "float64",
	KindBreak:     "break",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is one decoded or to-be-encoded data item.
//
// Values are immutable once built; slices handed to constructors are not
// copied, so callers must not modify them afterwards.
type Value struct {
	kind  Kind
	num   uint64 // unsigned value, negative n (value = -1-n), tag number or simple value
	flt   float64
	bytes []byte
	text  string
	items []Value
	pairs []Entry
	inner *Value
}

// Entry is one key/value pair of a map.
type Entry struct {
	Key   Value
	Value Value
}

// Uint returns an unsigned integer value.
func Uint(u uint64) Value { return Value{kind: KindUnsigned, num: u} }

// Negative returns the negative integer -1-n.
func Negative(n uint64) Value { return Value{kind: KindNegative, num: n} }

// Int returns i as an unsigned or negative integer value.
func Int(i int64) Value {
	if i < 0 {
		return Negative(uint64(-(i + 1)))
	}
	return Uint(uint64(i))
}

// Bytes returns a byte string value.
func Bytes(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{kind: KindBytes, bytes: b}
}

// Text returns a UTF-8 text string value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Array returns an array value.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, items: items}
}

// Map returns a map value from entries.
func Map(entries ...Entry) Value {
	if entries == nil {
		entries = []Entry{}
	}
	return Value{kind: KindMap, pairs: entries}
}

// TextMap returns a map value keyed by text strings.
func TextMap(m map[string]Value) Value {
	entries := make([]Entry, 0, len(m))
	for k, v := range m {
		entries = append(entries, Entry{Key: Text(k), Value: v})
	}
	return Map(entries...)
}

// Tag wraps v with the given tag number.
func Tag(tag uint64, v Value) Value {
	inner := v
	return Value{kind: KindTagged, num: tag, inner: &inner}
}

// Simple returns a simple value. Values 20-23 alias false, true, null and
// undefined and are returned as those kinds. Values 24-31 are reserved and
// have no valid encoding; for them Simple returns the invalid zero Value.
func Simple(x uint8) Value {
	if x >= simpleReservedMin && x <= simpleReservedMax {
		return Value{}
	}
	switch x {
	case simpleFalse:
		return Bool(false)
	case simpleTrue:
		return Bool(true)
	case simpleNull:
		return Null()
	case simpleUndefined:
		return Undefined()
	}
	return Value{kind: KindSimple, num: uint64(x)}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return Value{kind: KindBool, num: 1}
	}
	return Value{kind: KindBool}
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Undefined returns the undefined value.
func Undefined() Value { return Value{kind: KindUndefined} }

// Half returns a half-precision float value. Half floats can be decoded but
// are written as undefined.
func Half(f float32) Value { return Value{kind: KindHalf, flt: float64(f)} }

// Float32 returns a single-precision float value.
func Float32(f float32) Value { return Value{kind: KindFloat32, flt: float64(f)} }

// Float64 returns a double-precision float value.
func Float64(f float64) Value { return Value{kind: KindFloat64, flt: f} }

// Break returns the stream terminator marker. It only has meaning between
// the start and end of an Encoder stream: a Break placed inside an Array,
// Map or Tag value marshals to bytes that do not decode.
func Break() Value { return Value{kind: KindBreak} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a variant.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Uint returns the value of an unsigned integer.
func (v Value) Uint() (uint64, bool) {
	if v.kind != KindUnsigned {
		return 0, false
	}
	return v.num, true
}

// Int returns the value of an unsigned or negative integer that fits in an
// int64.
func (v Value) Int() (int64, bool) {
	switch v.kind {
	case KindUnsigned:
		if v.num > math.MaxInt64 {
			return 0, false
		}
		return int64(v.num), true
	case KindNegative:
		if v.num > math.MaxInt64 {
			return 0, false
		}
		return -1 - int64(v.num), true
	}
	return 0, false
}

// NegativeArg returns n for a negative integer -1-n.
func (v Value) NegativeArg() (uint64, bool) {
	if v.kind != KindNegative {
		return 0, false
	}
	return v.num, true
}

// Bytes returns the contents of a byte string.
func (v Value) Bytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

// Text returns the contents of a text string.
func (v Value) Text() (string, bool) {
	if v.kind != KindText {
		return "", false
	}
	return v.text, true
}

// Bool returns the value of a boolean.
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.num == 1, true
}

// Float returns the value of a half, single or double precision float.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindHalf, KindFloat32, KindFloat64:
		return v.flt, true
	}
	return 0, false
}

// Array returns the items of an array.
func (v Value) Array() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.items, true
}

// Entries returns the entries of a map.
func (v Value) Entries() ([]Entry, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.pairs, true
}

// Tagged returns the tag number and wrapped value of a tagged value.
func (v Value) Tagged() (uint64, Value, bool) {
	if v.kind != KindTagged || v.inner == nil {
		return 0, Value{}, false
	}
	return v.num, *v.inner, true
}

// SimpleValue returns the number of a simple value.
func (v Value) SimpleValue() (uint8, bool) {
	if v.kind != KindSimple {
		return 0, false
	}
	return uint8(v.num), true
}

// Get looks up a text key in a map. It reports false when v is not a map or
// the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	for _, e := range v.pairs {
		if e.Key.kind == KindText && e.Key.text == key {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Len returns the number of items of an array, entries of a map, or bytes of
// a string. It returns 0 for other kinds.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindMap:
		return len(v.pairs)
	case KindBytes:
		return len(v.bytes)
	case KindText:
		return len(v.text)
	}
	return 0
}

// Equal reports whether a and b hold the same data item. Map entries are
// compared without regard to order. NaN floats compare equal to NaN of the
// same kind.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUnsigned, KindNegative, KindSimple, KindBool:
		return a.num == b.num
	case KindBytes:
		return bytes.Equal(a.bytes, b.bytes)
	case KindText:
		return a.text == b.text
	case KindHalf, KindFloat32, KindFloat64:
		if math.IsNaN(a.flt) && math.IsNaN(b.flt) {
			return true
		}
		return a.flt == b.flt
	case KindArray:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.pairs) != len(b.pairs) {
			return false
		}
		used := make([]bool, len(b.pairs))
	next:
		for _, ea := range a.pairs {
			for j, eb := range b.pairs {
				if !used[j] && Equal(ea.Key, eb.Key) && Equal(ea.Value, eb.Value) {
					used[j] = true
					continue next
				}
			}
			return false
		}
		return true
	case KindTagged:
		if a.num != b.num {
			return false
		}
		_, ai, _ := a.Tagged()
		_, bi, _ := b.Tagged()
		return Equal(ai, bi)
	}
	return true
}

// String renders v in a compact diagnostic notation.
func (v Value) String() string {
	var sb strings.Builder
	v.writeDiag(&sb)
	return sb.String()
}

func (v Value) writeDiag(sb *strings.Builder) {
	switch v.kind {
	case KindUnsigned:
		fmt.Fprintf(sb, "%d", v.num)
	case KindNegative:
		if v.num == math.MaxUint64 {
			sb.WriteString("-18446744073709551616")
			return
		}
		fmt.Fprintf(sb, "-%d", v.num+1)
	case KindBytes:
		fmt.Fprintf(sb, "h'%X'", v.bytes)
	case KindText:
		fmt.Fprintf(sb, "%q", v.text)
	case KindArray:
		sb.WriteByte('[')
		for i, item := range v.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			item.writeDiag(sb)
		}
		sb.WriteByte(']')
	case KindMap:
		sb.WriteByte('{')
		for i, e := range sortedEntries(v.pairs) {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.Key.writeDiag(sb)
			sb.WriteString(": ")
			e.Value.writeDiag(sb)
		}
		sb.WriteByte('}')
	case KindTagged:
		fmt.Fprintf(sb, "%d(", v.num)
		if v.inner != nil {
			v.inner.writeDiag(sb)
		}
		sb.WriteByte(')')
	case KindSimple:
		fmt.Fprintf(sb, "simple(%d)", v.num)
	case KindBool:
		if v.num == 1 {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case KindNull:
		sb.WriteString("null")
	case KindUndefined:
		sb.WriteString("undefined")
	case KindHalf, KindFloat32, KindFloat64:
		fmt.Fprintf(sb, "%g", v.flt)
	case KindBreak:
		sb.WriteString("break")
	default:
		sb.WriteString("<invalid>")
	}
}

type encodedEntry struct {
	key   []byte
	entry Entry
}

// sortedEntries orders entries by the bytewise order of their encoded keys.
func sortedEntries(entries []Entry) []Entry {
	if len(entries) < 2 {
		return entries
	}
	enc := make([]encodedEntry, len(entries))
	for i, e := range entries {
		enc[i] = encodedEntry{key: Marshal(e.Key), entry: e}
	}
	sort.SliceStable(enc, func(i, j int) bool {
		return bytes.Compare(enc[i].key, enc[j].key) < 0
	})
	out := make([]Entry, len(entries))
	for i := range enc {
		out[i] = enc[i].entry
	}
	return out
}
