package cbor

import (
	"errors"
	"fmt"
	"io"
)

// ErrNoStream is returned by Encoder.End when no stream is open.
var ErrNoStream = errors.New("cbor: no open stream")

// Encoder writes data items to an io.Writer, including indefinite-length
// streams for producers that do not know a container's size up front.
//
//	enc := cbor.NewEncoder(w)
//	enc.BeginArray()
//	enc.Encode(cbor.Uint(1))
//	enc.Encode(cbor.Text("two"))
//	enc.End()
type Encoder struct {
	w    io.Writer
	open []Kind
	buf  []byte
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one definite-length data item. Inside a byte or text stream
// only definite strings of the same kind may be written.
func (e *Encoder) Encode(v Value) error {
	if n := len(e.open); n > 0 {
		if k := e.open[n-1]; (k == KindBytes || k == KindText) && v.kind != k {
			return fmt.Errorf("cbor: %s chunk inside %s stream", v.kind, k)
		}
	}
	e.buf = Append(e.buf[:0], v)
	return e.flush()
}

// BeginArray starts an indefinite-length array.
func (e *Encoder) BeginArray() error { return e.begin(KindArray, codeArrayStream) }

// BeginMap starts an indefinite-length map. Keys and values are written with
// alternating calls to Encode or nested Begin calls.
func (e *Encoder) BeginMap() error { return e.begin(KindMap, codeMapStream) }

// BeginBytes starts an indefinite-length byte string.
func (e *Encoder) BeginBytes() error { return e.begin(KindBytes, codeBytesStream) }

// BeginText starts an indefinite-length text string.
func (e *Encoder) BeginText() error { return e.begin(KindText, codeTextStream) }

// End closes the innermost open stream with a break.
func (e *Encoder) End() error {
	if len(e.open) == 0 {
		return ErrNoStream
	}
	e.open = e.open[:len(e.open)-1]
	e.buf = append(e.buf[:0], codeBreak)
	return e.flush()
}

// Depth returns the number of streams still open.
func (e *Encoder) Depth() int {
	return len(e.open)
}

func (e *Encoder) begin(k Kind, code byte) error {
	if n := len(e.open); n > 0 {
		if parent := e.open[n-1]; parent == KindBytes || parent == KindText {
			return fmt.Errorf("cbor: nested stream inside %s stream", parent)
		}
	}
	e.open = append(e.open, k)
	e.buf = append(e.buf[:0], code)
	return e.flush()
}

func (e *Encoder) flush() error {
	if _, err := e.w.Write(e.buf); err != nil {
		return fmt.Errorf("cbor: write: %w", err)
	}
	return nil
}
