// Package sim provides an in-memory device that answers MCU management
// requests.
//
// A Device implements transport.Transport for every scheme. It keeps files,
// image slots, settings, statistics and logs in memory so managers, uploads
// and the CLI can run without hardware. Options enforce a device MTU, cap
// the bytes accepted per upload chunk, delay replies and inject faults.
package sim

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

// rcNotSupported is the rc a device returns for an unknown command.
const rcNotSupported = 8

// Request is a decoded request as seen by the device.
type Request struct {
	Header  protocol.Header
	Payload cbor.Value
	Size    int
}

// Device is a simulated MCU management server.
//
// Device is safe for concurrent use.
type Device struct {
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	files    map[string][]byte
	uploads  map[string]*upload
	image    *upload
	slots    []slot
	settings map[string]string
	stats    map[string]map[string]uint64
	logs     []logRecord
	clock    time.Duration
	resets   int
	requests []Request
}

// upload is a file or image being received.
type upload struct {
	data  []byte
	total uint64
	sha   []byte
}

// slot is one image slot.
type slot struct {
	data      []byte
	hash      []byte
	version   string
	bootable  bool
	pending   bool
	confirmed bool
	active    bool
	permanent bool
}

// logRecord is one entry of the reboot log.
type logRecord struct {
	msg    string
	ts     uint64
	level  uint64
	module uint64
}

// New creates a simulated device with an active, confirmed image in slot 0.
//
// Example:
//
//	dev := sim.New(sim.WithScheme(protocol.SchemeCoapBLE), sim.WithMtu(128))
//	mgr := mcumgr.NewDefaultManager(dev)
func New(opts ...Option) *Device {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	boot := []byte("sim boot image")
	return &Device{
		config:   cfg,
		logger:   cfg.Logger.With(zap.Stringer("scheme", cfg.Scheme)),
		files:    map[string][]byte{},
		uploads:  map[string]*upload{},
		settings: map[string]string{},
		stats:    map[string]map[string]uint64{},
		slots: []slot{{
			data:      boot,
			hash:      image.Hash(boot),
			version:   "1.0.0",
			bootable:  true,
			confirmed: true,
			active:    true,
		}},
		logs: []logRecord{{msg: "booted", level: 1}},
	}
}

// Scheme returns the framing scheme of the device.
func (d *Device) Scheme() protocol.Scheme {
	return d.config.Scheme
}

// Send handles packet and returns the device's reply.
func (d *Device) Send(ctx context.Context, packet []byte) <-chan transport.Reply {
	if err := ctx.Err(); err != nil {
		return transport.Failed(transport.NewError(transport.KindSendFailed, err))
	}

	size := len(packet)
	if d.config.Scheme.IsCoap() {
		size += protocol.CoapHeaderOverhead
	}
	if d.config.Mtu > 0 && size > d.config.Mtu {
		d.logger.Debug("packet exceeds mtu", zap.Int("size", size), zap.Int("mtu", d.config.Mtu))
		return transport.Failed(transport.ErrInsufficientMtu(d.config.Mtu))
	}

	req, err := d.decode(packet)
	if err != nil {
		return transport.Failed(transport.NewError(transport.KindSendFailed, err))
	}

	reply := d.handle(req)
	if d.config.Latency <= 0 {
		return transport.Resolved(reply)
	}

	ch := make(chan transport.Reply, 1)
	go func() {
		select {
		case <-time.After(d.config.Latency):
			ch <- reply
		case <-ctx.Done():
			ch <- transport.Reply{Err: transport.NewError(transport.KindSendTimeout, ctx.Err())}
		}
	}()
	return ch
}

func (d *Device) decode(packet []byte) (Request, error) {
	req := Request{Size: len(packet)}

	var body []byte
	if d.config.Scheme.IsCoap() {
		body = packet
	} else {
		h, err := protocol.ParseHeader(packet)
		if err != nil {
			return req, err
		}
		req.Header = h
		body = packet[protocol.HeaderLength:]
	}

	req.Payload = cbor.Map()
	if len(body) > 0 {
		v, err := cbor.Unmarshal(body)
		if err != nil {
			return req, fmt.Errorf("decode payload: %w", err)
		}
		req.Payload = v
	}

	if d.config.Scheme.IsCoap() {
		hv, ok := req.Payload.Get(protocol.HeaderKey)
		if !ok {
			return req, fmt.Errorf("missing %q header", protocol.HeaderKey)
		}
		hb, _ := hv.Bytes()
		h, err := protocol.ParseHeader(hb)
		if err != nil {
			return req, err
		}
		req.Header = h
	}
	return req, nil
}

func (d *Device) handle(req Request) transport.Reply {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	d.logger.Debug("request",
		zap.Stringer("header", req.Header),
		zap.Int("size", req.Size),
	)

	var (
		payload map[string]cbor.Value
		rc      uint64
	)
	if d.config.Fault != nil {
		var err error
		rc, err = d.config.Fault(req)
		if err != nil {
			return transport.Reply{Err: err}
		}
	}
	if rc == 0 {
		if req.Payload.Kind() != cbor.KindMap {
			rc = uint64(protocol.RCInValue)
		} else {
			payload, rc = d.dispatch(req)
		}
	}

	if payload == nil {
		payload = map[string]cbor.Value{}
	}
	if rc != 0 {
		payload["rc"] = cbor.Uint(rc)
	}

	h := req.Header
	packet := protocol.BuildPacket(d.config.Scheme, h.Op|1, 0, h.Group, h.Sequence, h.Command, payload)
	if !d.config.Scheme.IsCoap() {
		return transport.Reply{Packet: packet}
	}
	code := 205
	if h.Op == protocol.OpWrite {
		code = 204
	}
	return transport.Reply{Packet: packet, CoapPayload: packet, CoapCode: code}
}

// File returns the contents of an uploaded file.
func (d *Device) File(name string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.files[name]
	return append([]byte(nil), b...), ok
}

// PutFile stores a file on the device.
func (d *Device) PutFile(name string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[name] = append([]byte(nil), data...)
}

// Image returns the image in slot 1, if one has been uploaded.
func (d *Device) Image() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.slots) < 2 {
		return nil, false
	}
	return append([]byte(nil), d.slots[1].data...), true
}

// SetSetting sets a device setting.
func (d *Device) SetSetting(name, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settings[name] = value
}

// SetStats sets the counters of a statistics group.
func (d *Device) SetStats(group string, fields map[string]uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stats[group] = fields
}

// Resets returns the number of reset commands received.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// Requests returns every request received, in order.
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}
