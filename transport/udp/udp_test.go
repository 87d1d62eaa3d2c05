package udp

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
	"github.com/moffa90/go-mcumgr/transport/sim"
)

// server answers datagrams with a simulated device. before, when set, may
// write extra datagrams ahead of each reply.
type server struct {
	conn   *net.UDPConn
	dev    *sim.Device
	before func(conn *net.UDPConn, addr *net.UDPAddr, req []byte)
	drop   bool
}

func newServer(t *testing.T) *server {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &server{conn: conn, dev: sim.New(sim.WithScheme(protocol.SchemeUDP))}
	t.Cleanup(func() { _ = conn.Close() })
	return s
}

func (s *server) serve() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if s.drop {
			continue
		}
		req := append([]byte(nil), buf[:n]...)
		if s.before != nil {
			s.before(s.conn, addr, req)
		}
		reply := <-s.dev.Send(context.Background(), req)
		if reply.Err != nil {
			continue
		}
		_, _ = s.conn.WriteToUDP(reply.Packet, addr)
	}
}

func dial(t *testing.T, s *server, opts ...Option) *Transport {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	tr, err := Dial(s.conn.LocalAddr().String(), opts...)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func echoPacket(seq uint8, msg string) []byte {
	return protocol.BuildPacket(protocol.SchemeUDP, protocol.OpWrite, 0, protocol.GroupDefault, seq, protocol.CmdEcho,
		map[string]cbor.Value{"d": cbor.Text(msg)})
}

func TestRoundTrip(t *testing.T) {
	s := newServer(t)
	go s.serve()
	tr := dial(t, s)

	if tr.Scheme() != protocol.SchemeUDP {
		t.Errorf("Scheme() = %v, want udp", tr.Scheme())
	}

	reply := <-tr.Send(context.Background(), echoPacket(3, "over udp"))
	if reply.Err != nil {
		t.Fatalf("Send() error: %v", reply.Err)
	}
	resp, err := protocol.ParseResponse(protocol.SchemeUDP, reply.Packet, nil, 0)
	if err != nil {
		t.Fatalf("ParseResponse() error: %v", err)
	}
	if got := protocol.ParseEchoResponse(resp).Echo; got != "over udp" {
		t.Errorf("echo = %q", got)
	}
	if resp.Header.Sequence != 3 {
		t.Errorf("Sequence = %d, want 3", resp.Header.Sequence)
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	s := newServer(t)
	s.before = func(conn *net.UDPConn, addr *net.UDPAddr, req []byte) {
		h, _ := protocol.ParseHeader(req)
		stale := protocol.BuildPacket(protocol.SchemeUDP, protocol.OpWriteResponse, 0, h.Group, h.Sequence-1, h.Command,
			map[string]cbor.Value{"r": cbor.Text("stale")})
		_, _ = conn.WriteToUDP(stale, addr)
		_, _ = conn.WriteToUDP([]byte{0x01}, addr)
	}
	go s.serve()
	tr := dial(t, s)

	reply := <-tr.Send(context.Background(), echoPacket(9, "fresh"))
	if reply.Err != nil {
		t.Fatalf("Send() error: %v", reply.Err)
	}
	resp, err := protocol.ParseResponse(protocol.SchemeUDP, reply.Packet, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := protocol.ParseEchoResponse(resp).Echo; got != "fresh" {
		t.Errorf("echo = %q, want fresh", got)
	}
}

func TestTimeout(t *testing.T) {
	s := newServer(t)
	s.drop = true
	go s.serve()
	tr := dial(t, s, WithTimeout(50*time.Millisecond))

	reply := <-tr.Send(context.Background(), echoPacket(0, "lost"))
	if !transport.IsKind(reply.Err, transport.KindSendTimeout) {
		t.Errorf("Send() error = %v, want send timeout", reply.Err)
	}
}

func TestContextCancel(t *testing.T) {
	s := newServer(t)
	s.drop = true
	go s.serve()
	tr := dial(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	replies := tr.Send(ctx, echoPacket(0, "lost"))
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case reply := <-replies:
		if !errors.Is(reply.Err, context.Canceled) {
			t.Errorf("Send() error = %v, want context.Canceled", reply.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send() did not return after cancel")
	}
}

func TestCancelAfterReplyKeepsNextDeadline(t *testing.T) {
	s := newServer(t)
	go s.serve()
	tr := dial(t, s)

	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		reply := <-tr.Send(ctx, echoPacket(uint8(2*i), "first"))
		cancel()
		if reply.Err != nil {
			t.Fatalf("round %d: first Send() error: %v", i, reply.Err)
		}

		// Cancelling a finished request must not cut the next one short.
		reply = <-tr.Send(context.Background(), echoPacket(uint8(2*i+1), "second"))
		if reply.Err != nil {
			t.Fatalf("round %d: second Send() error: %v", i, reply.Err)
		}
	}
}

func TestInsufficientMtu(t *testing.T) {
	s := newServer(t)
	go s.serve()
	tr := dial(t, s, WithMtu(32))

	reply := <-tr.Send(context.Background(), echoPacket(0, "this message does not fit in 32 bytes"))
	mtu, ok := transport.InsufficientMtu(reply.Err)
	if !ok || mtu != 32 {
		t.Errorf("Send() error = %v, want insufficient mtu 32", reply.Err)
	}
}

func TestClosed(t *testing.T) {
	s := newServer(t)
	tr := dial(t, s)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}

	reply := <-tr.Send(context.Background(), echoPacket(0, "x"))
	if !errors.Is(reply.Err, ErrClosed) {
		t.Errorf("Send() error = %v, want ErrClosed", reply.Err)
	}
}

func TestDialDefaultPort(t *testing.T) {
	tr, err := Dial("127.0.0.1")
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer tr.Close()
	if got := tr.conn.RemoteAddr().(*net.UDPAddr).Port; got != DefaultPort {
		t.Errorf("port = %d, want %d", got, DefaultPort)
	}
}
