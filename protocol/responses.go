package protocol

import (
	"fmt"

	"github.com/moffa90/go-mcumgr/cbor"
)

// Response is a decoded response packet.
type Response struct {
	Scheme Scheme
	Header Header

	// Payload is the decoded payload map
	Payload cbor.Value

	// RC is the mapped return code; RCOk when the payload has no "rc"
	RC ReturnCode

	// RawRC is the rc value as received
	RawRC uint64

	// CoapCode is the CoAP response code (class*100 + detail), 0 for raw schemes
	CoapCode int
}

// IsSuccess reports whether the response carries RCOk.
func (r *Response) IsSuccess() bool {
	return r.RC.IsSuccess()
}

// Err returns a *ReturnCodeError for a non-success response, or nil.
func (r *Response) Err(operation string) error {
	if r.IsSuccess() {
		return nil
	}
	return &ReturnCodeError{Operation: operation, Code: r.RC, Raw: r.RawRC}
}

// ParseResponse decodes a response packet.
//
// For raw schemes the header is the first HeaderLength bytes of raw and the
// rest is the encoded payload. For CoAP schemes raw is the full CoAP message,
// the encoded payload is coapPayload and the header is read from HeaderKey.
//
// Unknown keys and keys of an unexpected type are ignored by the projections;
// only a payload that is not a decodable map is an error.
func ParseResponse(scheme Scheme, raw, coapPayload []byte, coapCode int) (*Response, error) {
	if len(raw) < HeaderLength {
		return nil, fmt.Errorf("%w: got %d bytes, minimum is %d", ErrTruncatedResponse, len(raw), HeaderLength)
	}

	var (
		header Header
		body   []byte
		err    error
	)
	if scheme.IsCoap() {
		if coapPayload == nil {
			return nil, fmt.Errorf("%w: missing CoAP payload", ErrTruncatedResponse)
		}
		body = coapPayload
	} else {
		header, err = ParseHeader(raw)
		if err != nil {
			return nil, err
		}
		body = raw[HeaderLength:]
	}

	payload := cbor.Map()
	if len(body) > 0 {
		payload, err = cbor.Unmarshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if payload.Kind() != cbor.KindMap {
			return nil, fmt.Errorf("%w: payload is %s, expected map", ErrInvalidPayload, payload.Kind())
		}
	}

	if scheme.IsCoap() {
		h, ok := bytesField(payload, HeaderKey)
		if !ok {
			return nil, fmt.Errorf("%w: missing %q header", ErrInvalidPayload, HeaderKey)
		}
		header, err = ParseHeader(h)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	rawRC, _ := uintField(payload, "rc")
	return &Response{
		Scheme:   scheme,
		Header:   header,
		Payload:  payload,
		RC:       ReturnCodeFromRaw(rawRC),
		RawRC:    rawRC,
		CoapCode: coapCode,
	}, nil
}

// ExpectedLength returns the total length, header included, of the raw-scheme
// response that starts with data. It reports false for CoAP schemes and when
// data is shorter than a header.
func ExpectedLength(scheme Scheme, data []byte) (int, bool) {
	if scheme.IsCoap() {
		return 0, false
	}
	h, err := ParseHeader(data)
	if err != nil {
		return 0, false
	}
	return int(h.Length) + HeaderLength, true
}

// ParseEchoResponse extracts the echoed string.
func ParseEchoResponse(r *Response) *EchoResponse {
	s, _ := textField(r.Payload, "r")
	return &EchoResponse{Echo: s}
}

// ParseUploadResponse extracts the acknowledged offset of an image or file
// upload chunk. Off is nil when the device did not report one.
func ParseUploadResponse(r *Response) *UploadResponse {
	out := &UploadResponse{}
	if off, ok := uintField(r.Payload, "off"); ok {
		out.Off = &off
	}
	return out
}

// ParseFileDownloadResponse extracts one chunk of a file download.
func ParseFileDownloadResponse(r *Response) *FileDownloadResponse {
	out := &FileDownloadResponse{}
	if off, ok := uintField(r.Payload, "off"); ok {
		out.Off = &off
	}
	if n, ok := uintField(r.Payload, "len"); ok {
		out.Len = &n
	}
	out.Data, _ = bytesField(r.Payload, "data")
	return out
}

// ParseDateTimeResponse extracts the device's date and time string.
func ParseDateTimeResponse(r *Response) *DateTimeResponse {
	s, _ := textField(r.Payload, "datetime")
	return &DateTimeResponse{DateTime: s}
}

// ParseTaskStatsResponse extracts per-task statistics keyed by task name.
func ParseTaskStatsResponse(r *Response) *TaskStatsResponse {
	out := &TaskStatsResponse{Tasks: map[string]TaskStat{}}
	tasks, _ := r.Payload.Get("tasks")
	entries, _ := tasks.Entries()
	for _, e := range entries {
		name, ok := e.Key.Text()
		if !ok || e.Value.Kind() != cbor.KindMap {
			continue
		}
		v := e.Value
		var t TaskStat
		t.Priority, _ = uintField(v, "prio")
		t.TaskID, _ = uintField(v, "tid")
		t.State, _ = uintField(v, "state")
		t.StackUse, _ = uintField(v, "stkuse")
		t.StackSize, _ = uintField(v, "stksiz")
		t.ContextSwitches, _ = uintField(v, "cswcnt")
		t.Runtime, _ = uintField(v, "runtime")
		t.LastCheckin, _ = uintField(v, "last_checkin")
		t.NextCheckin, _ = uintField(v, "next_checkin")
		out.Tasks[name] = t
	}
	return out
}

// ParseMemoryPoolStatsResponse extracts memory pool statistics keyed by pool
// name.
func ParseMemoryPoolStatsResponse(r *Response) *MemoryPoolStatsResponse {
	out := &MemoryPoolStatsResponse{Pools: map[string]MemoryPool{}}
	pools, _ := r.Payload.Get("mpools")
	entries, _ := pools.Entries()
	for _, e := range entries {
		name, ok := e.Key.Text()
		if !ok || e.Value.Kind() != cbor.KindMap {
			continue
		}
		var p MemoryPool
		p.BlockSize, _ = uintField(e.Value, "blksiz")
		p.Blocks, _ = uintField(e.Value, "nblks")
		p.Free, _ = uintField(e.Value, "nfree")
		p.MinFree, _ = uintField(e.Value, "min")
		out.Pools[name] = p
	}
	return out
}

// ParseImageStateResponse extracts the image slot list.
func ParseImageStateResponse(r *Response) *ImageStateResponse {
	out := &ImageStateResponse{}
	if s, ok := uintField(r.Payload, "splitStatus"); ok {
		out.SplitStatus = &s
	}
	images, _ := r.Payload.Get("images")
	items, _ := images.Array()
	for _, item := range items {
		if item.Kind() != cbor.KindMap {
			continue
		}
		var s ImageSlot
		s.Slot, _ = uintField(item, "slot")
		s.Version, _ = textField(item, "version")
		s.Hash, _ = bytesField(item, "hash")
		s.Bootable, _ = boolField(item, "bootable")
		s.Pending, _ = boolField(item, "pending")
		s.Confirmed, _ = boolField(item, "confirmed")
		s.Active, _ = boolField(item, "active")
		s.Permanent, _ = boolField(item, "permanent")
		out.Images = append(out.Images, s)
	}
	return out
}

// ParseStatsResponse extracts one statistics group.
func ParseStatsResponse(r *Response) *StatsResponse {
	out := &StatsResponse{Fields: map[string]uint64{}}
	out.Name, _ = textField(r.Payload, "name")
	out.Group, _ = textField(r.Payload, "group")
	fields, _ := r.Payload.Get("fields")
	entries, _ := fields.Entries()
	for _, e := range entries {
		name, ok := e.Key.Text()
		if !ok {
			continue
		}
		if n, ok := e.Value.Uint(); ok {
			out.Fields[name] = n
		}
	}
	return out
}

// ParseStatsListResponse extracts the names of the statistics groups.
func ParseStatsListResponse(r *Response) *StatsListResponse {
	return &StatsListResponse{Names: textList(r.Payload, "stat_list")}
}

// ParseConfigResponse extracts a configuration value.
func ParseConfigResponse(r *Response) *ConfigResponse {
	s, _ := textField(r.Payload, "val")
	return &ConfigResponse{Value: s}
}

// ParseLogShowResponse extracts log entries.
func ParseLogShowResponse(r *Response) *LogShowResponse {
	out := &LogShowResponse{}
	if n, ok := uintField(r.Payload, "next_index"); ok {
		out.NextIndex = &n
	}
	logs, _ := r.Payload.Get("logs")
	items, _ := logs.Array()
	for _, item := range items {
		if item.Kind() != cbor.KindMap {
			continue
		}
		var res LogResult
		res.Name, _ = textField(item, "name")
		res.Type, _ = uintField(item, "type")
		entries, _ := item.Get("entries")
		list, _ := entries.Array()
		for _, ev := range list {
			if ev.Kind() != cbor.KindMap {
				continue
			}
			var e LogEntry
			e.Msg, _ = bytesField(ev, "msg")
			e.Timestamp, _ = uintField(ev, "ts")
			e.Level, _ = uintField(ev, "level")
			e.Index, _ = uintField(ev, "index")
			e.Module, _ = uintField(ev, "module")
			e.Type, _ = textField(ev, "type")
			res.Entries = append(res.Entries, e)
		}
		out.Logs = append(out.Logs, res)
	}
	return out
}

// ParseLogListResponse extracts the names of the device's logs.
func ParseLogListResponse(r *Response) *LogListResponse {
	return &LogListResponse{Names: textList(r.Payload, "log_list")}
}

// ParseLevelListResponse extracts the names of the log levels.
func ParseLevelListResponse(r *Response) *LevelListResponse {
	return &LevelListResponse{Names: textList(r.Payload, "level_map")}
}

// ParseModuleListResponse extracts the log module ids keyed by module name.
func ParseModuleListResponse(r *Response) *ModuleListResponse {
	out := &ModuleListResponse{Modules: map[string]uint64{}}
	m, _ := r.Payload.Get("module_map")
	entries, _ := m.Entries()
	for _, e := range entries {
		name, ok := e.Key.Text()
		if !ok {
			continue
		}
		if id, ok := e.Value.Uint(); ok {
			out.Modules[name] = id
		}
	}
	return out
}

func uintField(m cbor.Value, key string) (uint64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	return v.Uint()
}

func textField(m cbor.Value, key string) (string, bool) {
	v, ok := m.Get(key)
	if !ok {
		return "", false
	}
	return v.Text()
}

func bytesField(m cbor.Value, key string) ([]byte, bool) {
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	return v.Bytes()
}

func boolField(m cbor.Value, key string) (bool, bool) {
	v, ok := m.Get(key)
	if !ok {
		return false, false
	}
	return v.Bool()
}

func textList(m cbor.Value, key string) []string {
	v, _ := m.Get(key)
	items, _ := v.Array()
	var out []string
	for _, item := range items {
		if s, ok := item.Text(); ok {
			out = append(out, s)
		}
	}
	return out
}
