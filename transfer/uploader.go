package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/image"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
)

// Client is the manager capability an Uploader drives.
type Client interface {
	// Scheme returns the framing scheme of the underlying transport.
	Scheme() protocol.Scheme

	// Mtu returns the current MTU.
	Mtu() int

	// SetMtu changes the MTU, rejecting values outside the valid range.
	SetMtu(mtu int) error

	// BuildPacket frames a request for the client's group.
	BuildPacket(op protocol.Op, cmd uint8, payload map[string]cbor.Value) []byte

	// SendAsync frames and sends a request; the channel receives one reply.
	SendAsync(ctx context.Context, op protocol.Op, cmd uint8, payload map[string]cbor.Value) <-chan transport.Reply
}

// Target describes what an upload writes to.
type Target struct {
	// Operation names the upload in logs and errors
	Operation string

	// Command is the command id each chunk is sent with
	Command uint8

	// Named uploads send the upload name as "name" with every chunk
	Named bool

	// FirstChunk returns extra fields sent only with the chunk at offset 0
	FirstChunk func(data []byte) map[string]cbor.Value
}

// FileTarget returns the target for file system uploads.
func FileTarget() Target {
	return Target{
		Operation: "file upload",
		Command:   protocol.CmdFile,
		Named:     true,
	}
}

// ImageTarget returns the target for firmware image uploads. The first chunk
// carries the image's SHA-256 as "sha".
func ImageTarget() Target {
	return Target{
		Operation: "image upload",
		Command:   protocol.CmdImageUpload,
		FirstChunk: func(data []byte) map[string]cbor.Value {
			return map[string]cbor.Value{"sha": cbor.Bytes(image.Hash(data))}
		},
	}
}

// State is the state of an Uploader.
type State int

// Uploader states.
const (
	StateIdle State = iota
	StateTransferring
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTransferring:
		return "transferring"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// session is the mutable state of one upload. All fields are guarded by the
// owning Uploader's mutex.
type session struct {
	state    State
	name     string
	data     []byte
	extra    map[string]cbor.Value
	obs      Observer
	offset   uint64
	restarts int

	// inFlight is set while a chunk has been sent and its reply not handled
	inFlight bool

	// terminal is set once the session's one terminal callback is decided
	terminal bool
}

// Uploader sends a byte buffer to a device in MTU-sized chunks.
//
// At most one upload is live per Uploader, and at most one chunk of it is in
// flight. The uploader's lock is never held across a transport send or an
// observer callback.
type Uploader struct {
	client Client
	target Target
	config Config

	mu   sync.Mutex
	sess *session
}

// New creates an Uploader that sends chunks through client.
//
// Example:
//
//	up := transfer.New(fsManager, transfer.FileTarget(),
//	    transfer.WithLogger(logger),
//	)
func New(client Client, target Target, opts ...Option) *Uploader {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Uploader{
		client: client,
		target: target,
		config: config,
	}
}

// Start begins uploading data under name. It returns false, leaving the
// current upload untouched, if an upload is already transferring or paused.
func (u *Uploader) Start(name string, data []byte, obs Observer) bool {
	if obs == nil {
		obs = ObserverFuncs{}
	}

	u.mu.Lock()
	if u.sess != nil {
		state := u.sess.state
		u.mu.Unlock()
		u.config.Logger.Debug("upload already in progress",
			zap.String("operation", u.target.Operation),
			zap.Stringer("state", state))
		return false
	}
	sess := &session{
		state:    StateTransferring,
		name:     name,
		data:     data,
		obs:      obs,
		inFlight: true,
	}
	if u.target.FirstChunk != nil {
		sess.extra = u.target.FirstChunk(data)
	}
	u.sess = sess
	u.mu.Unlock()

	u.config.Logger.Info("upload started",
		zap.String("operation", u.target.Operation),
		zap.String("name", name),
		zap.Int("size", len(data)),
		zap.Int("mtu", u.client.Mtu()))

	u.send(sess, 0)
	return true
}

// Pause stops sending new chunks. A chunk already in flight is still
// acknowledged and reported. Pause is a no-op unless transferring.
func (u *Uploader) Pause() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sess != nil && u.sess.state == StateTransferring {
		u.sess.state = StatePaused
		u.config.Logger.Debug("upload paused", zap.Uint64("offset", u.sess.offset))
	}
}

// Resume continues a paused upload from the last acknowledged offset. It is
// a no-op unless paused.
func (u *Uploader) Resume() {
	u.mu.Lock()
	sess := u.sess
	if sess == nil || sess.state != StatePaused {
		u.mu.Unlock()
		return
	}
	sess.state = StateTransferring
	if sess.inFlight {
		// The pending reply will send the next chunk.
		u.mu.Unlock()
		return
	}
	sess.inFlight = true
	off := sess.offset
	u.mu.Unlock()

	u.config.Logger.Debug("upload resumed", zap.Uint64("offset", off))
	u.send(sess, off)
}

// Cancel stops the current upload. With a non-nil err the observer's Failed
// is called. Otherwise a paused upload reports Cancelled at once, and a
// transferring upload reports Cancelled when its in-flight chunk is answered.
// If a new upload has been started by then, the late reply is discarded and
// the cancelled upload's observer receives no further callback.
// Cancel is a no-op when idle.
func (u *Uploader) Cancel(err error) {
	u.mu.Lock()
	sess := u.sess
	if sess == nil {
		u.mu.Unlock()
		return
	}
	u.sess = nil
	prev := sess.state
	sess.state = StateIdle

	var notify func()
	switch {
	case err != nil:
		sess.terminal = true
		notify = func() { sess.obs.Failed(err) }
	case prev == StatePaused || !sess.inFlight:
		sess.terminal = true
		notify = sess.obs.Cancelled
	}
	u.mu.Unlock()

	u.config.Logger.Info("upload cancelled",
		zap.String("operation", u.target.Operation),
		zap.Stringer("state", prev),
		zap.Error(err))
	if notify != nil {
		notify()
	}
}

// State returns the current state.
func (u *Uploader) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sess == nil {
		return StateIdle
	}
	return u.sess.state
}

// Offset returns the last acknowledged offset of the live upload, or 0.
func (u *Uploader) Offset() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sess == nil {
		return 0
	}
	return u.sess.offset
}

// send builds and sends the chunk at off. The caller must have marked the
// session in flight.
func (u *Uploader) send(sess *session, off uint64) {
	payload, err := u.chunk(sess, off)
	if err != nil {
		u.finish(sess, err)
		return
	}
	u.config.Logger.Debug("sending chunk",
		zap.Uint64("offset", off),
		zap.Int("length", payloadDataLen(payload)))

	ch := u.client.SendAsync(context.Background(), protocol.OpWrite, u.target.Command, payload)
	go func() {
		u.handle(sess, <-ch)
	}()
}

// chunk builds the request payload for the chunk at off, sized to fit the
// client's MTU.
func (u *Uploader) chunk(sess *session, off uint64) (map[string]cbor.Value, error) {
	total := uint64(len(sess.data))
	if off > total {
		return nil, fmt.Errorf("%w: offset %d beyond %d bytes", ErrInvalidData, off, total)
	}

	payload := map[string]cbor.Value{
		"off":  cbor.Uint(off),
		"data": cbor.Bytes(nil),
	}
	if u.target.Named {
		payload["name"] = cbor.Text(sess.name)
	}
	if off == 0 {
		payload["len"] = cbor.Uint(total)
		for k, v := range sess.extra {
			payload[k] = v
		}
	}

	mtu := u.client.Mtu()
	overhead := len(u.client.BuildPacket(protocol.OpWrite, u.target.Command, payload))
	if u.client.Scheme().IsCoap() {
		overhead += protocol.CoapHeaderOverhead
	}

	// The placeholder's byte string head is one byte; longer data needs a
	// wider head out of the same room.
	room := mtu - overhead
	maxData := room
	for maxData > 0 && maxData+cbor.HeadSize(uint64(maxData))-1 > room {
		maxData--
	}

	remaining := total - off
	if remaining > 0 && maxData <= 0 {
		return nil, &MtuTooSmallError{Mtu: mtu, Overhead: overhead}
	}
	n := remaining
	if uint64(maxData) < n {
		n = uint64(maxData)
	}
	payload["data"] = cbor.Bytes(sess.data[off : off+n])
	return payload, nil
}

// handle processes the reply to the session's in-flight chunk.
func (u *Uploader) handle(sess *session, reply transport.Reply) {
	if reply.Err != nil {
		if mtu, ok := transport.InsufficientMtu(reply.Err); ok {
			u.renegotiate(sess, mtu, reply.Err)
			return
		}
		u.finish(sess, fmt.Errorf("%s: %w", u.target.Operation, reply.Err))
		return
	}

	resp, err := protocol.ParseResponse(u.client.Scheme(), reply.Packet, reply.CoapPayload, reply.CoapCode)
	if err != nil {
		u.finish(sess, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
		return
	}
	if err := resp.Err(u.target.Operation); err != nil {
		u.finish(sess, err)
		return
	}
	ack := protocol.ParseUploadResponse(resp).Off
	if ack == nil {
		u.finish(sess, fmt.Errorf("%w: missing offset", ErrInvalidPayload))
		return
	}
	off := *ack
	total := uint64(len(sess.data))
	if off > total {
		u.finish(sess, fmt.Errorf("%w: offset %d beyond %d bytes", ErrInvalidPayload, off, total))
		return
	}

	u.mu.Lock()
	sess.inFlight = false
	if u.sess != sess {
		u.detached(sess)
		return
	}
	sess.offset = off
	done := off == total
	next := !done && sess.state == StateTransferring
	if done {
		u.sess = nil
		sess.state = StateIdle
		sess.terminal = true
	}
	if next {
		sess.inFlight = true
	}
	u.mu.Unlock()

	sess.obs.ProgressChanged(off, total, time.Now())
	if done {
		u.config.Logger.Info("upload finished",
			zap.String("operation", u.target.Operation),
			zap.String("name", sess.name),
			zap.Uint64("size", total))
		sess.obs.Finished()
		return
	}
	if next {
		u.send(sess, off)
	}
}

// renegotiate lowers the MTU after an insufficient-MTU reply and restarts the
// upload from offset 0.
func (u *Uploader) renegotiate(sess *session, mtu int, cause error) {
	u.mu.Lock()
	if u.sess != sess {
		sess.inFlight = false
		u.detached(sess)
		return
	}
	if sess.restarts >= u.config.MaxMtuRestarts {
		u.mu.Unlock()
		u.finish(sess, fmt.Errorf("%s: giving up after %d mtu restarts: %w", u.target.Operation, sess.restarts, cause))
		return
	}
	u.mu.Unlock()

	if err := u.client.SetMtu(mtu); err != nil {
		u.config.Logger.Error("mtu renegotiation failed", zap.Int("mtu", mtu), zap.Error(err))
		u.finish(sess, fmt.Errorf("%s: %w", u.target.Operation, cause))
		return
	}

	u.mu.Lock()
	sess.inFlight = false
	if u.sess != sess {
		u.detached(sess)
		return
	}
	sess.restarts++
	sess.offset = 0
	restart := sess.state == StateTransferring
	if restart {
		sess.inFlight = true
	}
	restarts := sess.restarts
	u.mu.Unlock()

	u.config.Logger.Info("mtu lowered, restarting upload",
		zap.String("operation", u.target.Operation),
		zap.Int("mtu", mtu),
		zap.Int("restart", restarts))
	if restart {
		u.send(sess, 0)
	}
}

// detached reports Cancelled for a session that was cancelled while its chunk
// was in flight, unless another upload has started since. It must be called
// with the lock held and releases it.
func (u *Uploader) detached(sess *session) {
	fire := !sess.terminal && u.sess == nil
	sess.terminal = true
	u.mu.Unlock()
	if fire {
		sess.obs.Cancelled()
	}
}

// finish ends the session with err. A session that was already cancelled
// reports Cancelled instead.
func (u *Uploader) finish(sess *session, err error) {
	u.mu.Lock()
	sess.inFlight = false
	if sess.terminal {
		u.mu.Unlock()
		return
	}
	if u.sess != sess {
		u.detached(sess)
		return
	}
	u.sess = nil
	sess.state = StateIdle
	sess.terminal = true
	off := sess.offset
	u.mu.Unlock()

	u.config.Logger.Error("upload failed",
		zap.String("operation", u.target.Operation),
		zap.String("name", sess.name),
		zap.Uint64("offset", off),
		zap.Error(err))
	sess.obs.Failed(err)
}

func payloadDataLen(payload map[string]cbor.Value) int {
	if v, ok := payload["data"]; ok {
		return v.Len()
	}
	return 0
}
