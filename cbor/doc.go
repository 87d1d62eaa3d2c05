// Package cbor implements the subset of CBOR (RFC 8949) used by MCU manager
// command payloads.
//
// Data items are held in Value, a tagged union with typed accessors that
// report false on a kind mismatch rather than failing:
//
//	v, err := cbor.Unmarshal(payload)
//	if err != nil {
//	    return err
//	}
//	if off, ok := v.Get("off"); ok {
//	    n, _ := off.Uint()
//	    // ...
//	}
//
// # Encoding
//
// Marshal writes every item with the smallest head for its argument and
// writes map entries sorted by their encoded keys, so equal values always
// produce equal bytes. Half-precision floats are accepted by the decoder but
// are written as undefined.
//
// # Streams
//
// Encoder writes indefinite-length arrays, maps and strings terminated by a
// break. The decoder folds such streams into definite values.
//
// # Errors
//
// Decoding failures are *SyntaxError values wrapping ErrMalformed or
// ErrTruncated:
//
//	if errors.Is(err, cbor.ErrTruncated) {
//	    // wait for more input
//	}
package cbor
