package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncatedResponse is returned when a response is shorter than a
	// header or a CoAP response has no payload.
	ErrTruncatedResponse = errors.New("truncated response")

	// ErrInvalidPayload is returned when a response payload cannot be
	// decoded into a map or lacks the embedded header.
	ErrInvalidPayload = errors.New("invalid response payload")
)

// ReturnCodeError represents a non-success return code reported by the device.
type ReturnCodeError struct {
	// Operation is the command that failed
	Operation string

	// Code is the mapped return code
	Code ReturnCode

	// Raw is the rc value as received
	Raw uint64
}

func (e *ReturnCodeError) Error() string {
	if e.Operation == "" {
		return fmt.Sprintf("device returned %s (rc=%d)", e.Code, e.Raw)
	}
	return fmt.Sprintf("%s failed: %s (rc=%d)", e.Operation, e.Code, e.Raw)
}

// IsReturnCodeError returns true if err is or wraps a ReturnCodeError.
func IsReturnCodeError(err error) bool {
	var rce *ReturnCodeError
	return errors.As(err, &rce)
}
