// Package transport defines the contract between MCU manager clients and the
// links that carry their packets.
//
// A Transport sends one framed packet and delivers exactly one Reply on the
// returned channel, from any goroutine. Implementations report link failures
// as *Error values; an InsufficientMtu error tells the caller to shrink its
// packets and retry.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/moffa90/go-mcumgr/protocol"
)

// Transport carries framed packets to a device.
type Transport interface {
	// Scheme returns the framing style the transport expects.
	Scheme() protocol.Scheme

	// Send transmits packet and returns a channel that receives exactly one
	// Reply. The channel must be buffered so an abandoned reply never blocks
	// the transport.
	Send(ctx context.Context, packet []byte) <-chan Reply
}

// Reply is the outcome of one Send.
type Reply struct {
	// Packet is the raw response; for CoAP schemes the full CoAP message
	Packet []byte

	// CoapPayload is the CoAP payload, nil for raw schemes
	CoapPayload []byte

	// CoapCode is the CoAP response code (class*100 + detail)
	CoapCode int

	Err error
}

// Resolved returns a buffered channel already holding r.
func Resolved(r Reply) <-chan Reply {
	ch := make(chan Reply, 1)
	ch <- r
	return ch
}

// Failed returns a buffered channel holding a Reply with err.
func Failed(err error) <-chan Reply {
	return Resolved(Reply{Err: err})
}

// Kind classifies a transport failure.
type Kind int

// Failure kinds.
const (
	KindConnectionTimeout Kind = iota + 1
	KindConnectionFailed
	KindSendTimeout
	KindSendFailed
	KindInsufficientMtu
	KindBadResponse
)

func (k Kind) String() string {
	switch k {
	case KindConnectionTimeout:
		return "connection timeout"
	case KindConnectionFailed:
		return "connection failed"
	case KindSendTimeout:
		return "send timeout"
	case KindSendFailed:
		return "send failed"
	case KindInsufficientMtu:
		return "insufficient mtu"
	case KindBadResponse:
		return "bad response"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a failure reported by a transport.
type Error struct {
	Kind Kind

	// Mtu is the largest packet the link accepts; set for KindInsufficientMtu
	Mtu int

	// Err is the underlying cause, if any
	Err error
}

func (e *Error) Error() string {
	msg := "transport: " + e.Kind.String()
	if e.Kind == KindInsufficientMtu {
		msg += fmt.Sprintf(" (mtu %d)", e.Mtu)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns an *Error of the given kind wrapping cause.
func NewError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// ErrInsufficientMtu returns the error a transport reports when a packet
// exceeds the link MTU.
func ErrInsufficientMtu(mtu int) *Error {
	return &Error{Kind: KindInsufficientMtu, Mtu: mtu}
}

// InsufficientMtu reports whether err is an insufficient-MTU failure and
// returns the MTU the transport asked for.
func InsufficientMtu(err error) (int, bool) {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindInsufficientMtu {
		return te.Mtu, true
	}
	return 0, false
}

// IsKind reports whether err is a transport failure of the given kind.
func IsKind(err error, kind Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}
