package sim

import (
	"bytes"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/image"
	"github.com/moffa90/go-mcumgr/protocol"
)

// downloadOverhead approximates the bytes of a download response that are
// not file data.
const downloadOverhead = 32

// defaultDownloadChunk is the chunk size used when the device has no MTU.
const defaultDownloadChunk = 512

var levelNames = []string{"DEBUG", "INFO", "WARN", "ERROR", "CRITICAL"}

type handler func(d *Device, req Request) (map[string]cbor.Value, uint64)

type route struct {
	group protocol.Group
	cmd   uint8
	op    protocol.Op
}

var routes = map[route]handler{
	{protocol.GroupDefault, protocol.CmdEcho, protocol.OpWrite}:     (*Device).echo,
	{protocol.GroupDefault, protocol.CmdTaskStats, protocol.OpRead}: (*Device).taskStats,
	{protocol.GroupDefault, protocol.CmdMpStats, protocol.OpRead}:   (*Device).mpStats,
	{protocol.GroupDefault, protocol.CmdDateTime, protocol.OpRead}:  (*Device).readDatetime,
	{protocol.GroupDefault, protocol.CmdDateTime, protocol.OpWrite}: (*Device).writeDatetime,
	{protocol.GroupDefault, protocol.CmdReset, protocol.OpWrite}:    (*Device).reset,

	{protocol.GroupImage, protocol.CmdImageState, protocol.OpRead}:   (*Device).imageState,
	{protocol.GroupImage, protocol.CmdImageState, protocol.OpWrite}:  (*Device).setImageState,
	{protocol.GroupImage, protocol.CmdImageUpload, protocol.OpWrite}: (*Device).imageUpload,
	{protocol.GroupImage, protocol.CmdImageErase, protocol.OpWrite}:  (*Device).imageErase,

	{protocol.GroupFS, protocol.CmdFile, protocol.OpWrite}: (*Device).fileUpload,
	{protocol.GroupFS, protocol.CmdFile, protocol.OpRead}:  (*Device).fileDownload,

	{protocol.GroupStats, protocol.CmdStatsRead, protocol.OpRead}: (*Device).statsRead,
	{protocol.GroupStats, protocol.CmdStatsList, protocol.OpRead}: (*Device).statsList,

	{protocol.GroupConfig, protocol.CmdConfig, protocol.OpRead}:  (*Device).configRead,
	{protocol.GroupConfig, protocol.CmdConfig, protocol.OpWrite}: (*Device).configWrite,

	{protocol.GroupLogs, protocol.CmdLogShow, protocol.OpRead}:       (*Device).logShow,
	{protocol.GroupLogs, protocol.CmdLogClear, protocol.OpWrite}:     (*Device).logClear,
	{protocol.GroupLogs, protocol.CmdLogList, protocol.OpRead}:       (*Device).logList,
	{protocol.GroupLogs, protocol.CmdLogLevelList, protocol.OpRead}:  (*Device).levelList,
	{protocol.GroupLogs, protocol.CmdLogModuleList, protocol.OpRead}: (*Device).moduleList,
}

func (d *Device) dispatch(req Request) (map[string]cbor.Value, uint64) {
	h, ok := routes[route{req.Header.Group, req.Header.Command, req.Header.Op}]
	if !ok {
		return nil, rcNotSupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return h(d, req)
}

func invalid() (map[string]cbor.Value, uint64) {
	return nil, uint64(protocol.RCInValue)
}

func noEntry() (map[string]cbor.Value, uint64) {
	return nil, uint64(protocol.RCNoEntry)
}

func text(req Request, key string) (string, bool) {
	v, ok := req.Payload.Get(key)
	if !ok {
		return "", false
	}
	return v.Text()
}

func unsigned(req Request, key string) (uint64, bool) {
	v, ok := req.Payload.Get(key)
	if !ok {
		return 0, false
	}
	return v.Uint()
}

func byteString(req Request, key string) ([]byte, bool) {
	v, ok := req.Payload.Get(key)
	if !ok {
		return nil, false
	}
	return v.Bytes()
}

func (d *Device) echo(req Request) (map[string]cbor.Value, uint64) {
	s, ok := text(req, "d")
	if !ok {
		return invalid()
	}
	return map[string]cbor.Value{"r": cbor.Text(s)}, 0
}

func (d *Device) taskStats(Request) (map[string]cbor.Value, uint64) {
	task := func(prio, tid, stkuse uint64) cbor.Value {
		return cbor.TextMap(map[string]cbor.Value{
			"prio":    cbor.Uint(prio),
			"tid":     cbor.Uint(tid),
			"state":   cbor.Uint(1),
			"stkuse":  cbor.Uint(stkuse),
			"stksiz":  cbor.Uint(1024),
			"cswcnt":  cbor.Uint(uint64(len(d.requests))),
			"runtime": cbor.Uint(0),
		})
	}
	return map[string]cbor.Value{
		"tasks": cbor.TextMap(map[string]cbor.Value{
			"main": task(0, 1, 312),
			"idle": task(15, 0, 64),
		}),
	}, 0
}

func (d *Device) mpStats(Request) (map[string]cbor.Value, uint64) {
	return map[string]cbor.Value{
		"mpools": cbor.TextMap(map[string]cbor.Value{
			"msys": cbor.TextMap(map[string]cbor.Value{
				"blksiz": cbor.Uint(128),
				"nblks":  cbor.Uint(16),
				"nfree":  cbor.Uint(12),
				"min":    cbor.Uint(9),
			}),
		}),
	}, 0
}

func (d *Device) now() time.Time {
	return time.Now().Add(d.clock).UTC()
}

func (d *Device) readDatetime(Request) (map[string]cbor.Value, uint64) {
	return map[string]cbor.Value{"datetime": cbor.Text(d.now().Format("2006-01-02T15:04:05"))}, 0
}

func (d *Device) writeDatetime(req Request) (map[string]cbor.Value, uint64) {
	s, ok := text(req, "datetime")
	if !ok {
		return invalid()
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return invalid()
	}
	d.clock = time.Until(t)
	return nil, 0
}

func (d *Device) reset(Request) (map[string]cbor.Value, uint64) {
	d.resets++
	d.logs = append(d.logs, logRecord{msg: "reset requested", ts: uint64(d.now().UnixMilli()), level: 1})
	d.boot()
	return nil, 0
}

// boot applies what the bootloader does on reboot. A pending secondary image
// is swapped in, confirmed only if it was marked permanent. An active image
// that was booted for test and never confirmed is swapped back out.
func (d *Device) boot() {
	if len(d.slots) < 2 {
		return
	}
	primary, secondary := d.slots[0], d.slots[1]
	switch {
	case secondary.pending:
		d.slots[0] = secondary.moved(true, secondary.permanent)
		d.slots[1] = primary.moved(false, false)
		d.logger.Info("swapped in secondary image", zap.String("version", secondary.version),
			zap.Bool("confirmed", secondary.permanent))
	case !primary.confirmed:
		d.slots[0] = secondary.moved(true, true)
		d.slots[1] = primary.moved(false, false)
		d.logger.Info("reverted unconfirmed image", zap.String("version", primary.version))
	}
}

// moved returns s as it looks after a swap into a slot.
func (s slot) moved(active, confirmed bool) slot {
	return slot{
		data:      s.data,
		hash:      s.hash,
		version:   s.version,
		bootable:  true,
		active:    active,
		confirmed: confirmed,
	}
}

func (d *Device) imageState(Request) (map[string]cbor.Value, uint64) {
	return d.slotList(), 0
}

func (d *Device) slotList() map[string]cbor.Value {
	images := make([]cbor.Value, 0, len(d.slots))
	for i, s := range d.slots {
		images = append(images, cbor.TextMap(map[string]cbor.Value{
			"slot":      cbor.Uint(uint64(i)),
			"version":   cbor.Text(s.version),
			"hash":      cbor.Bytes(s.hash),
			"bootable":  cbor.Bool(s.bootable),
			"pending":   cbor.Bool(s.pending),
			"confirmed": cbor.Bool(s.confirmed),
			"active":    cbor.Bool(s.active),
			"permanent": cbor.Bool(s.permanent),
		}))
	}
	return map[string]cbor.Value{
		"images":      cbor.Array(images...),
		"splitStatus": cbor.Uint(0),
	}
}

func (d *Device) setImageState(req Request) (map[string]cbor.Value, uint64) {
	confirm := false
	if v, ok := req.Payload.Get("confirm"); ok {
		confirm, _ = v.Bool()
	}
	h, hasHash := byteString(req, "hash")

	idx := -1
	for i, s := range d.slots {
		if (hasHash && bytes.Equal(s.hash, h)) || (!hasHash && confirm && s.active) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return invalid()
	}

	s := &d.slots[idx]
	switch {
	case confirm && s.active:
		s.confirmed = true
	case confirm:
		s.pending = true
		s.permanent = true
	case s.active:
		return nil, uint64(protocol.RCBadState)
	default:
		s.pending = true
	}
	return d.slotList(), 0
}

func (d *Device) imageUpload(req Request) (map[string]cbor.Value, uint64) {
	off, ok := unsigned(req, "off")
	if !ok {
		return invalid()
	}
	if off == 0 {
		total, ok := unsigned(req, "len")
		if !ok {
			return invalid()
		}
		sha, _ := byteString(req, "sha")
		d.image = &upload{total: total, sha: sha}
	}
	if d.image == nil {
		return invalid()
	}

	next, rc := d.receive(d.image, off, req)
	if rc != 0 {
		return nil, rc
	}
	if uint64(len(d.image.data)) == d.image.total {
		d.installImage(d.image)
		d.image = nil
	}
	return map[string]cbor.Value{"off": cbor.Uint(next)}, 0
}

func (d *Device) installImage(u *upload) {
	version := "0.0.0"
	if hdr, err := image.ParseHeader(u.data); err == nil {
		version = hdr.Version.String()
	}
	s := slot{
		data:     u.data,
		hash:     image.Hash(u.data),
		version:  version,
		bootable: true,
	}
	if len(d.slots) < 2 {
		d.slots = append(d.slots, s)
	} else {
		d.slots[1] = s
	}
}

func (d *Device) imageErase(Request) (map[string]cbor.Value, uint64) {
	if len(d.slots) > 1 {
		if d.slots[1].pending {
			return nil, uint64(protocol.RCBadState)
		}
		d.slots = d.slots[:1]
	}
	return nil, 0
}

// receive appends a chunk to u and returns the next offset the device
// expects. A chunk at an unexpected offset is ignored and the current
// length acknowledged instead.
func (d *Device) receive(u *upload, off uint64, req Request) (uint64, uint64) {
	data, ok := byteString(req, "data")
	if !ok {
		return 0, uint64(protocol.RCInValue)
	}
	have := uint64(len(u.data))
	if off != have {
		return have, 0
	}
	if limit := d.config.AckLimit; limit > 0 && len(data) > limit {
		data = data[:limit]
	}
	if have+uint64(len(data)) > u.total {
		return 0, uint64(protocol.RCInValue)
	}
	u.data = append(u.data, data...)
	return uint64(len(u.data)), 0
}

func (d *Device) fileUpload(req Request) (map[string]cbor.Value, uint64) {
	name, ok := text(req, "name")
	if !ok {
		return invalid()
	}
	off, ok := unsigned(req, "off")
	if !ok {
		return invalid()
	}
	if off == 0 {
		total, ok := unsigned(req, "len")
		if !ok {
			return invalid()
		}
		d.uploads[name] = &upload{total: total}
	}
	u, ok := d.uploads[name]
	if !ok {
		return invalid()
	}

	next, rc := d.receive(u, off, req)
	if rc != 0 {
		return nil, rc
	}
	if uint64(len(u.data)) == u.total {
		d.files[name] = u.data
		delete(d.uploads, name)
	}
	return map[string]cbor.Value{"off": cbor.Uint(next)}, 0
}

func (d *Device) fileDownload(req Request) (map[string]cbor.Value, uint64) {
	name, ok := text(req, "name")
	if !ok {
		return invalid()
	}
	off, ok := unsigned(req, "off")
	if !ok {
		return invalid()
	}
	data, ok := d.files[name]
	if !ok {
		return noEntry()
	}
	if off > uint64(len(data)) {
		return invalid()
	}

	n := defaultDownloadChunk
	if d.config.Mtu > downloadOverhead {
		n = d.config.Mtu - downloadOverhead
	}
	if d.config.AckLimit > 0 && n > d.config.AckLimit {
		n = d.config.AckLimit
	}
	rest := data[off:]
	if len(rest) < n {
		n = len(rest)
	}

	resp := map[string]cbor.Value{
		"off":  cbor.Uint(off),
		"data": cbor.Bytes(rest[:n]),
	}
	if off == 0 {
		resp["len"] = cbor.Uint(uint64(len(data)))
	}
	return resp, 0
}

func (d *Device) statsRead(req Request) (map[string]cbor.Value, uint64) {
	name, ok := text(req, "name")
	if !ok {
		return invalid()
	}
	fields, ok := d.stats[name]
	if !ok {
		return noEntry()
	}
	fm := make(map[string]cbor.Value, len(fields))
	for k, v := range fields {
		fm[k] = cbor.Uint(v)
	}
	return map[string]cbor.Value{
		"name":   cbor.Text(name),
		"group":  cbor.Text(name),
		"fields": cbor.TextMap(fm),
	}, 0
}

func (d *Device) statsList(Request) (map[string]cbor.Value, uint64) {
	names := make([]cbor.Value, 0, len(d.stats))
	for _, name := range sortedKeys(d.stats) {
		names = append(names, cbor.Text(name))
	}
	return map[string]cbor.Value{"stat_list": cbor.Array(names...)}, 0
}

func (d *Device) configRead(req Request) (map[string]cbor.Value, uint64) {
	name, ok := text(req, "name")
	if !ok {
		return invalid()
	}
	val, ok := d.settings[name]
	if !ok {
		return noEntry()
	}
	return map[string]cbor.Value{"val": cbor.Text(val)}, 0
}

func (d *Device) configWrite(req Request) (map[string]cbor.Value, uint64) {
	name, ok := text(req, "name")
	if !ok {
		return invalid()
	}
	val, ok := text(req, "val")
	if !ok {
		return invalid()
	}
	d.settings[name] = val
	return nil, 0
}

const rebootLog = "reboot_log"

func (d *Device) logShow(req Request) (map[string]cbor.Value, uint64) {
	if name, ok := text(req, "log_name"); ok && name != rebootLog {
		return noEntry()
	}
	index, _ := unsigned(req, "index")

	var entries []cbor.Value
	for i := index; i < uint64(len(d.logs)); i++ {
		r := d.logs[i]
		entries = append(entries, cbor.TextMap(map[string]cbor.Value{
			"msg":    cbor.Bytes([]byte(r.msg)),
			"ts":     cbor.Uint(r.ts),
			"level":  cbor.Uint(r.level),
			"index":  cbor.Uint(i),
			"module": cbor.Uint(r.module),
		}))
	}
	return map[string]cbor.Value{
		"next_index": cbor.Uint(uint64(len(d.logs))),
		"logs": cbor.Array(cbor.TextMap(map[string]cbor.Value{
			"name":    cbor.Text(rebootLog),
			"type":    cbor.Uint(1),
			"entries": cbor.Array(entries...),
		})),
	}, 0
}

func (d *Device) logClear(Request) (map[string]cbor.Value, uint64) {
	d.logs = nil
	return nil, 0
}

func (d *Device) logList(Request) (map[string]cbor.Value, uint64) {
	return map[string]cbor.Value{"log_list": cbor.Array(cbor.Text(rebootLog))}, 0
}

func (d *Device) levelList(Request) (map[string]cbor.Value, uint64) {
	names := make([]cbor.Value, len(levelNames))
	for i, n := range levelNames {
		names[i] = cbor.Text(n)
	}
	return map[string]cbor.Value{"level_map": cbor.Array(names...)}, 0
}

func (d *Device) moduleList(Request) (map[string]cbor.Value, uint64) {
	return map[string]cbor.Value{
		"module_map": cbor.TextMap(map[string]cbor.Value{
			"DEFAULT": cbor.Uint(0),
			"OS":      cbor.Uint(1),
		}),
	}, 0
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
