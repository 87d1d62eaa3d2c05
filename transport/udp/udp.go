// Package udp carries MCU management packets over UDP.
//
// Each datagram holds one packet with the 8-byte header prepended
// (protocol.SchemeUDP). One request is in flight at a time; replies whose
// sequence number does not match the request are discarded as stale.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
)

// DefaultPort is the port MCU management servers listen on.
const DefaultPort = 1337

// maxDatagram is the largest UDP payload.
const maxDatagram = 65507

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("udp transport closed")

// Transport is a transport.Transport over a connected UDP socket.
type Transport struct {
	conn   *net.UDPConn
	config Config
	logger *zap.Logger

	// sem admits one request at a time
	sem chan struct{}

	mu     sync.Mutex
	closed bool
}

// Dial connects to the device at addr. A missing port selects DefaultPort.
//
// Example:
//
//	t, err := udp.Dial("192.0.2.10", udp.WithTimeout(2*time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer t.Close()
func Dial(addr string, opts ...Option) (*Transport, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, fmt.Sprint(DefaultPort))
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, transport.NewError(transport.KindConnectionFailed, fmt.Errorf("resolve %s: %w", addr, err))
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, transport.NewError(transport.KindConnectionFailed, fmt.Errorf("dial %s: %w", addr, err))
	}

	return &Transport{
		conn:   conn,
		config: cfg,
		logger: cfg.Logger.With(zap.String("remote", raddr.String())),
		sem:    make(chan struct{}, 1),
	}, nil
}

// Scheme returns protocol.SchemeUDP.
func (t *Transport) Scheme() protocol.Scheme {
	return protocol.SchemeUDP
}

// Send writes packet and waits for the matching response on another
// goroutine.
func (t *Transport) Send(ctx context.Context, packet []byte) <-chan transport.Reply {
	ch := make(chan transport.Reply, 1)
	go func() {
		ch <- t.roundTrip(ctx, packet)
	}()
	return ch
}

func (t *Transport) roundTrip(ctx context.Context, packet []byte) transport.Reply {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return transport.Reply{Err: transport.NewError(transport.KindSendFailed, ctx.Err())}
	}
	defer func() { <-t.sem }()

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.Reply{Err: transport.NewError(transport.KindConnectionFailed, ErrClosed)}
	}

	if len(packet) > t.config.Mtu {
		return transport.Reply{Err: transport.ErrInsufficientMtu(t.config.Mtu)}
	}
	req, err := protocol.ParseHeader(packet)
	if err != nil {
		return transport.Reply{Err: transport.NewError(transport.KindSendFailed, err)}
	}

	deadline := time.Now().Add(t.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetDeadline(deadline); err != nil {
		return transport.Reply{Err: transport.NewError(transport.KindSendFailed, err)}
	}

	// Unblock the read when ctx is cancelled. The watcher has exited before
	// the semaphore is released, so it never moves the next request's
	// deadline.
	done := make(chan struct{})
	watcher := make(chan struct{})
	go func() {
		defer close(watcher)
		select {
		case <-ctx.Done():
			_ = t.conn.SetDeadline(time.Now())
		case <-done:
		}
	}()
	defer func() {
		close(done)
		<-watcher
	}()

	if _, err := t.conn.Write(packet); err != nil {
		return transport.Reply{Err: transport.NewError(classify(err, transport.KindSendTimeout, transport.KindSendFailed), err)}
	}

	buf := make([]byte, maxDatagram)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return transport.Reply{Err: transport.NewError(transport.KindSendTimeout, ctx.Err())}
			}
			return transport.Reply{Err: transport.NewError(classify(err, transport.KindSendTimeout, transport.KindSendFailed), err)}
		}

		resp, err := protocol.ParseHeader(buf[:n])
		if err != nil {
			t.logger.Debug("discarding short datagram", zap.Int("size", n))
			continue
		}
		if resp.Sequence != req.Sequence || resp.Group != req.Group || resp.Command != req.Command {
			t.logger.Debug("discarding stale response",
				zap.Uint8("seq", resp.Sequence),
				zap.Uint8("want", req.Sequence))
			continue
		}

		want, _ := protocol.ExpectedLength(protocol.SchemeUDP, buf[:n])
		if n < want {
			return transport.Reply{Err: transport.NewError(transport.KindBadResponse,
				fmt.Errorf("%w: got %d bytes, header declares %d", protocol.ErrTruncatedResponse, n, want))}
		}
		out := make([]byte, want)
		copy(out, buf[:want])
		return transport.Reply{Packet: out}
	}
}

// Close closes the socket. Pending and later sends fail.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// LocalAddr returns the local address of the socket.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func classify(err error, timeout, other transport.Kind) transport.Kind {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return timeout
	}
	return other
}
