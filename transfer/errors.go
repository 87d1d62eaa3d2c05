package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidData is returned when a chunk cannot be cut from the upload data.
	ErrInvalidData = errors.New("invalid upload data")

	// ErrInvalidPayload is returned when a reply is malformed or lacks the
	// acknowledged offset.
	ErrInvalidPayload = errors.New("invalid response payload")

	// ErrMtuTooSmall is returned when the MTU leaves no room for chunk data.
	ErrMtuTooSmall = errors.New("mtu too small for chunk")
)

// MtuTooSmallError reports the MTU and overhead that left no room for data.
type MtuTooSmallError struct {
	Mtu      int
	Overhead int
}

func (e *MtuTooSmallError) Error() string {
	return fmt.Sprintf("mtu %d leaves no room for data after %d bytes of overhead", e.Mtu, e.Overhead)
}

func (e *MtuTooSmallError) Unwrap() error {
	return ErrMtuTooSmall
}
