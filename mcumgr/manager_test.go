package mcumgr

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
	"github.com/moffa90/go-mcumgr/transport/sim"
)

func TestNewPanicsWithoutTransport(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("New(nil) did not panic")
		}
	}()
	New(protocol.GroupDefault, nil)
}

func TestDefaultMtu(t *testing.T) {
	tests := []struct {
		scheme protocol.Scheme
		want   int
	}{
		{protocol.SchemeBLE, protocol.DefaultBleMtu},
		{protocol.SchemeCoapBLE, protocol.DefaultBleMtu},
		{protocol.SchemeCoapUDP, protocol.DefaultMtu},
		{protocol.SchemeUDP, protocol.DefaultMtu},
	}
	for _, tt := range tests {
		m := New(protocol.GroupDefault, sim.New(sim.WithScheme(tt.scheme)))
		if got := m.Mtu(); got != tt.want {
			t.Errorf("%s: Mtu() = %d, want %d", tt.scheme, got, tt.want)
		}
		if got := DefaultMtu(tt.scheme); got != tt.want {
			t.Errorf("DefaultMtu(%s) = %d, want %d", tt.scheme, got, tt.want)
		}
	}
}

func TestSetMtu(t *testing.T) {
	m := New(protocol.GroupDefault, sim.New(), WithMtu(100))
	if m.Mtu() != 100 {
		t.Fatalf("Mtu() = %d, want 100", m.Mtu())
	}

	tests := []struct {
		mtu     int
		wantErr bool
		wantMtu int
	}{
		{protocol.MinMtu, false, protocol.MinMtu},
		{protocol.MaxMtu, false, protocol.MaxMtu},
		{protocol.MinMtu - 1, true, protocol.MaxMtu},
		{protocol.MaxMtu + 1, true, protocol.MaxMtu},
		{0, true, protocol.MaxMtu},
	}
	for _, tt := range tests {
		err := m.SetMtu(tt.mtu)
		if (err != nil) != tt.wantErr {
			t.Errorf("SetMtu(%d) error = %v, wantErr %v", tt.mtu, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidMtu) {
			t.Errorf("SetMtu(%d) error = %v, want ErrInvalidMtu", tt.mtu, err)
		}
		if got := m.Mtu(); got != tt.wantMtu {
			t.Errorf("after SetMtu(%d): Mtu() = %d, want %d", tt.mtu, got, tt.wantMtu)
		}
	}
}

func TestWithMtuIgnoresInvalid(t *testing.T) {
	m := New(protocol.GroupDefault, sim.New(), WithMtu(5000))
	if m.Mtu() != protocol.DefaultBleMtu {
		t.Errorf("Mtu() = %d, want default %d", m.Mtu(), protocol.DefaultBleMtu)
	}
}

func TestSequenceNumbers(t *testing.T) {
	dev := sim.New()
	m := New(protocol.GroupDefault, dev, WithLogger(zaptest.NewLogger(t)))

	for i := 0; i < 300; i++ {
		if _, err := m.Send(context.Background(), protocol.OpRead, protocol.CmdDateTime, nil); err != nil {
			t.Fatalf("Send() #%d: %v", i, err)
		}
	}

	reqs := dev.Requests()
	for i, req := range reqs {
		if want := uint8(i); req.Header.Sequence != want {
			t.Fatalf("request %d sequence = %d, want %d", i, req.Header.Sequence, want)
		}
	}
}

func TestSendReturnCode(t *testing.T) {
	dev := sim.New(sim.WithFault(func(sim.Request) (uint64, error) {
		return uint64(protocol.RCTimeout), nil
	}))
	m := New(protocol.GroupDefault, dev)

	resp, err := m.Send(context.Background(), protocol.OpRead, protocol.CmdDateTime, nil)
	var rce *protocol.ReturnCodeError
	if !errors.As(err, &rce) {
		t.Fatalf("Send() error = %v, want *protocol.ReturnCodeError", err)
	}
	if rce.Code != protocol.RCTimeout {
		t.Errorf("Code = %v, want timeout", rce.Code)
	}
	if resp == nil || resp.RC != protocol.RCTimeout {
		t.Errorf("response = %+v, want rc timeout", resp)
	}
}

func TestSendTransportError(t *testing.T) {
	failure := transport.NewError(transport.KindConnectionFailed, nil)
	dev := sim.New(sim.WithFault(func(sim.Request) (uint64, error) { return 0, failure }))
	m := NewDefaultManager(dev)

	_, err := m.Echo(context.Background(), "x")
	if !transport.IsKind(err, transport.KindConnectionFailed) {
		t.Errorf("Echo() error = %v, want connection failed", err)
	}
}

func TestSendContextDone(t *testing.T) {
	m := New(protocol.GroupDefault, blockingTransport{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Send(ctx, protocol.OpRead, protocol.CmdDateTime, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want context.Canceled", err)
	}
}

func TestSendInvalidResponse(t *testing.T) {
	m := New(protocol.GroupDefault, rawTransport{reply: []byte{0x01, 0x02}})
	if _, err := m.Send(context.Background(), protocol.OpRead, protocol.CmdDateTime, nil); !errors.Is(err, protocol.ErrTruncatedResponse) {
		t.Errorf("Send() error = %v, want ErrTruncatedResponse", err)
	}
}

func TestBuildPacketUsesGroup(t *testing.T) {
	m := New(protocol.GroupStats, sim.New())
	packet := m.BuildPacket(protocol.OpRead, protocol.CmdStatsList, map[string]cbor.Value{})
	h, err := protocol.ParseHeader(packet)
	if err != nil {
		t.Fatal(err)
	}
	if h.Group != protocol.GroupStats || h.Command != protocol.CmdStatsList {
		t.Errorf("header = %v", h)
	}
}

// blockingTransport never replies.
type blockingTransport struct{}

func (blockingTransport) Scheme() protocol.Scheme { return protocol.SchemeBLE }

func (blockingTransport) Send(context.Context, []byte) <-chan transport.Reply {
	return make(chan transport.Reply, 1)
}

// rawTransport answers every request with the same bytes.
type rawTransport struct {
	reply []byte
}

func (rawTransport) Scheme() protocol.Scheme { return protocol.SchemeBLE }

func (r rawTransport) Send(context.Context, []byte) <-chan transport.Reply {
	return transport.Resolved(transport.Reply{Packet: r.reply})
}
