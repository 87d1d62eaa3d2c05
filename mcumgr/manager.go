package mcumgr

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
)

// Manager sends the commands of one group over a transport.
//
// Manager is safe for concurrent use. Each request takes the next sequence
// number; the MTU is shared by all requests and uploads of the manager.
type Manager struct {
	group     protocol.Group
	transport transport.Transport
	config    Config
	logger    *zap.Logger

	seq atomic.Uint32

	mu  sync.Mutex
	mtu int
}

// New creates a Manager for group that sends through t.
//
// Example:
//
//	mgr := mcumgr.New(protocol.GroupDefault, t, mcumgr.WithLogger(logger))
//	resp, err := mgr.Send(ctx, protocol.OpWrite, protocol.CmdEcho,
//	    map[string]cbor.Value{"d": cbor.Text("hello")})
func New(group protocol.Group, t transport.Transport, opts ...Option) *Manager {
	if t == nil {
		panic("transport cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	mtu := cfg.Mtu
	if mtu == 0 {
		mtu = DefaultMtu(t.Scheme())
	}

	return &Manager{
		group:     group,
		transport: t,
		config:    cfg,
		logger:    cfg.Logger.With(zap.Stringer("group", group)),
		mtu:       mtu,
	}
}

// DefaultMtu returns the MTU a manager starts with for scheme.
func DefaultMtu(scheme protocol.Scheme) int {
	return scheme.DefaultMtu()
}

// Group returns the manager's command group.
func (m *Manager) Group() protocol.Group {
	return m.group
}

// Scheme returns the framing scheme of the transport.
func (m *Manager) Scheme() protocol.Scheme {
	return m.transport.Scheme()
}

// Mtu returns the current MTU.
func (m *Manager) Mtu() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mtu
}

// SetMtu changes the MTU. Values outside [protocol.MinMtu, protocol.MaxMtu]
// are rejected and leave the MTU unchanged.
func (m *Manager) SetMtu(mtu int) error {
	if !validMtu(mtu) {
		return fmt.Errorf("%w: %d (valid range %d-%d)", ErrInvalidMtu, mtu, protocol.MinMtu, protocol.MaxMtu)
	}
	m.mu.Lock()
	old := m.mtu
	m.mtu = mtu
	m.mu.Unlock()

	m.logger.Debug("mtu changed", zap.Int("from", old), zap.Int("to", mtu))
	return nil
}

// BuildPacket frames a request for the manager's group with the current
// sequence number.
func (m *Manager) BuildPacket(op protocol.Op, cmd uint8, payload map[string]cbor.Value) []byte {
	return protocol.BuildPacket(m.Scheme(), op, 0, m.group, uint8(m.seq.Load()), cmd, payload)
}

// SendAsync frames a request with the next sequence number and sends it. The
// returned channel receives exactly one reply.
func (m *Manager) SendAsync(ctx context.Context, op protocol.Op, cmd uint8, payload map[string]cbor.Value) <-chan transport.Reply {
	seq := uint8(m.seq.Add(1) - 1)
	packet := protocol.BuildPacket(m.Scheme(), op, 0, m.group, seq, cmd, payload)

	m.logger.Debug("sending request",
		zap.Stringer("op", op),
		zap.Uint8("cmd", cmd),
		zap.Uint8("seq", seq),
		zap.Int("size", len(packet)),
	)

	return m.transport.Send(ctx, packet)
}

// Send sends a request and waits for its response. A response with a
// non-success return code is returned together with a
// *protocol.ReturnCodeError.
func (m *Manager) Send(ctx context.Context, op protocol.Op, cmd uint8, payload map[string]cbor.Value) (*protocol.Response, error) {
	replies := m.SendAsync(ctx, op, cmd, payload)

	var reply transport.Reply
	select {
	case reply = <-replies:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	resp, err := protocol.ParseResponse(m.Scheme(), reply.Packet, reply.CoapPayload, reply.CoapCode)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("received response",
		zap.Stringer("header", resp.Header),
		zap.Stringer("rc", resp.RC),
	)

	if !resp.IsSuccess() {
		return resp, resp.Err("")
	}
	return resp, nil
}

// call sends a request and names the command in any error.
func (m *Manager) call(ctx context.Context, operation string, op protocol.Op, cmd uint8, payload map[string]cbor.Value) (*protocol.Response, error) {
	resp, err := m.Send(ctx, op, cmd, payload)
	if err != nil {
		if resp != nil {
			return nil, resp.Err(operation)
		}
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return resp, nil
}

func validMtu(mtu int) bool {
	return mtu >= protocol.MinMtu && mtu <= protocol.MaxMtu
}
