package cbor

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for input that is not a valid encoding.
	ErrMalformed = errors.New("cbor: malformed encoding")

	// ErrTruncated is returned when the input ends before a data item does.
	ErrTruncated = errors.New("cbor: truncated input")
)

// SyntaxError describes where and why decoding failed.
// Err is ErrMalformed or ErrTruncated.
type SyntaxError struct {
	// Offset is the byte offset of the initial byte of the offending item
	Offset int

	// Msg describes the problem
	Msg string

	Err error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

func malformed(off int, format string, args ...any) error {
	return &SyntaxError{Offset: off, Msg: fmt.Sprintf(format, args...), Err: ErrMalformed}
}

func truncated(off int, format string, args ...any) error {
	return &SyntaxError{Offset: off, Msg: fmt.Sprintf(format, args...), Err: ErrTruncated}
}
