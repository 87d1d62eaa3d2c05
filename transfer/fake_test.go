package transfer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
)

// request is one chunk as seen by fakeClient.
type request struct {
	size    int
	payload cbor.Value
	off     uint64
	data    []byte
}

func (r request) has(key string) bool {
	_, ok := r.payload.Get(key)
	return ok
}

func (r request) uint(key string) uint64 {
	v, _ := r.payload.Get(key)
	n, _ := v.Uint()
	return n
}

// fakeClient is an in-memory device that stores uploaded bytes and
// acknowledges each chunk.
type fakeClient struct {
	t      *testing.T
	scheme protocol.Scheme

	mu       sync.Mutex
	mtu      int
	ackLimit uint64
	stored   []byte
	requests []request
	inFlight int
	maxIn    int

	// hold queues replies until release is called
	hold    bool
	pending []func()

	// respond overrides the default acknowledgement when it returns true
	respond func(n int, req request) (transport.Reply, bool)
}

func newFakeClient(t *testing.T, scheme protocol.Scheme, mtu int) *fakeClient {
	return &fakeClient{t: t, scheme: scheme, mtu: mtu}
}

func (f *fakeClient) Scheme() protocol.Scheme { return f.scheme }

func (f *fakeClient) Mtu() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mtu
}

func (f *fakeClient) SetMtu(mtu int) error {
	if mtu < protocol.MinMtu || mtu > protocol.MaxMtu {
		return fmt.Errorf("mtu %d out of range", mtu)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mtu = mtu
	return nil
}

func (f *fakeClient) BuildPacket(op protocol.Op, cmd uint8, payload map[string]cbor.Value) []byte {
	return protocol.BuildPacket(f.scheme, op, 0, protocol.GroupFS, 0, cmd, payload)
}

func (f *fakeClient) SendAsync(_ context.Context, op protocol.Op, cmd uint8, payload map[string]cbor.Value) <-chan transport.Reply {
	packet := f.BuildPacket(op, cmd, payload)
	body := packet
	if !f.scheme.IsCoap() {
		body = packet[protocol.HeaderLength:]
	}
	v, err := cbor.Unmarshal(body)
	if err != nil {
		f.t.Errorf("uploader sent undecodable packet: %v", err)
	}
	req := request{size: len(packet), payload: v}
	req.off = req.uint("off")
	if d, ok := v.Get("data"); ok {
		req.data, _ = d.Bytes()
	}

	f.mu.Lock()
	n := len(f.requests)
	f.requests = append(f.requests, req)
	f.inFlight++
	if f.inFlight > f.maxIn {
		f.maxIn = f.inFlight
	}
	f.mu.Unlock()

	ch := make(chan transport.Reply, 1)
	deliver := func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
		ch <- f.reply(n, req)
	}

	f.mu.Lock()
	hold := f.hold
	if hold {
		f.pending = append(f.pending, deliver)
	}
	f.mu.Unlock()
	if !hold {
		deliver()
	}
	return ch
}

func (f *fakeClient) reply(n int, req request) transport.Reply {
	if f.respond != nil {
		if r, ok := f.respond(n, req); ok {
			return r
		}
	}
	return f.ack(req)
}

// ack stores the chunk and acknowledges up to ackLimit bytes of it.
func (f *fakeClient) ack(req request) transport.Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.off == 0 {
		f.stored = f.stored[:0]
	}
	accepted := uint64(len(req.data))
	if f.ackLimit > 0 && accepted > f.ackLimit {
		accepted = f.ackLimit
	}
	if req.off != uint64(len(f.stored)) {
		return f.replyWith(map[string]cbor.Value{"off": cbor.Uint(uint64(len(f.stored)))})
	}
	f.stored = append(f.stored, req.data[:accepted]...)
	return f.replyWith(map[string]cbor.Value{"off": cbor.Uint(req.off + accepted)})
}

func (f *fakeClient) replyWith(payload map[string]cbor.Value) transport.Reply {
	packet := protocol.BuildPacket(f.scheme, protocol.OpWriteResponse, 0, protocol.GroupFS, 0, protocol.CmdFile, payload)
	if f.scheme.IsCoap() {
		return transport.Reply{Packet: packet, CoapPayload: packet, CoapCode: 204}
	}
	return transport.Reply{Packet: packet}
}

// release delivers the oldest held reply.
func (f *fakeClient) release() {
	f.t.Helper()
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		f.t.Fatal("no reply to release")
	}
	deliver := f.pending[0]
	f.pending = f.pending[1:]
	f.mu.Unlock()
	deliver()
}

func (f *fakeClient) setHold(hold bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = hold
}

func (f *fakeClient) sent() []request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]request(nil), f.requests...)
}

func (f *fakeClient) data() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.stored...)
}

// waitSent blocks until n requests have been sent.
func (f *fakeClient) waitSent(n int) {
	f.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(f.sent()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	f.t.Fatalf("timed out waiting for %d requests, have %d", n, len(f.sent()))
}

// recorder is an Observer that records every callback.
type recorder struct {
	mu        sync.Mutex
	progress  []uint64
	totals    []uint64
	failed    []error
	cancelled int
	finished  int
	done      chan struct{}
	closeOnce sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) ProgressChanged(sent, total uint64, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, sent)
	r.totals = append(r.totals, total)
}

func (r *recorder) Failed(err error) {
	r.mu.Lock()
	r.failed = append(r.failed, err)
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *recorder) Cancelled() {
	r.mu.Lock()
	r.cancelled++
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *recorder) Finished() {
	r.mu.Lock()
	r.finished++
	r.mu.Unlock()
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a terminal callback")
	}
}

// terminals returns the number of terminal callbacks received.
func (r *recorder) terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failed) + r.cancelled + r.finished
}

func (r *recorder) progressed() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.progress...)
}

func (r *recorder) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failed) == 0 {
		return nil
	}
	return r.failed[0]
}

// settle gives reply goroutines time to run before asserting that nothing
// else happened.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

// waitFor polls cond until it holds.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}
