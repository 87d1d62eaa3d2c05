package protocol

import (
	"fmt"

	"github.com/moffa90/go-mcumgr/cbor"
)

// Op is the operation field of a packet header.
type Op uint8

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpReadResponse:
		return "read-response"
	case OpWrite:
		return "write"
	case OpWriteResponse:
		return "write-response"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// Group is a command group id.
type Group uint16

var groupNames = map[Group]string{
	GroupDefault: "default",
	GroupImage:   "image",
	GroupStats:   "stats",
	GroupConfig:  "config",
	GroupLogs:    "logs",
	GroupCrash:   "crash",
	GroupSplit:   "split",
	GroupRun:     "run",
	GroupFS:      "fs",
	GroupPerUser: "peruser",
}

func (g Group) String() string {
	if name, ok := groupNames[g]; ok {
		return name
	}
	return fmt.Sprintf("group(%d)", uint16(g))
}

// Scheme is the framing style of a transport.
type Scheme uint8

// Transport schemes.
const (
	// SchemeBLE prepends the header to the payload and uses BLE MTU defaults
	SchemeBLE Scheme = iota

	// SchemeCoapBLE embeds the header in the payload under HeaderKey
	SchemeCoapBLE

	// SchemeCoapUDP embeds the header in the payload under HeaderKey
	SchemeCoapUDP

	// SchemeUDP prepends the header to the payload over a datagram socket
	SchemeUDP
)

// IsCoap reports whether the scheme carries the header inside the payload.
func (s Scheme) IsCoap() bool {
	return s == SchemeCoapBLE || s == SchemeCoapUDP
}

// IsBle reports whether the scheme runs over Bluetooth LE.
func (s Scheme) IsBle() bool {
	return s == SchemeBLE || s == SchemeCoapBLE
}

// DefaultMtu returns the initial MTU for the scheme.
func (s Scheme) DefaultMtu() int {
	if s.IsBle() {
		return DefaultBleMtu
	}
	return DefaultMtu
}

func (s Scheme) String() string {
	switch s {
	case SchemeBLE:
		return "ble"
	case SchemeCoapBLE:
		return "coap-ble"
	case SchemeCoapUDP:
		return "coap-udp"
	case SchemeUDP:
		return "udp"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// ParseScheme returns the scheme named by s, as printed by Scheme.String.
func ParseScheme(s string) (Scheme, error) {
	for _, sc := range []Scheme{SchemeBLE, SchemeCoapBLE, SchemeCoapUDP, SchemeUDP} {
		if sc.String() == s {
			return sc, nil
		}
	}
	return 0, fmt.Errorf("unknown scheme %q", s)
}

// ReturnCode is the protocol status carried in a response's "rc" field.
type ReturnCode uint16

// ReturnCodeFromRaw maps a raw rc value onto the known codes, returning
// RCUnrecognized for anything else.
func ReturnCodeFromRaw(rc uint64) ReturnCode {
	if rc <= uint64(RCBadState) {
		return ReturnCode(rc)
	}
	return RCUnrecognized
}

// IsSuccess reports whether the code is RCOk.
func (c ReturnCode) IsSuccess() bool {
	return c == RCOk
}

func (c ReturnCode) String() string {
	switch c {
	case RCOk:
		return "ok"
	case RCUnknown:
		return "unknown error"
	case RCNoMemory:
		return "out of memory"
	case RCInValue:
		return "invalid value"
	case RCTimeout:
		return "timeout"
	case RCNoEntry:
		return "no such entry"
	case RCBadState:
		return "bad state"
	default:
		return "unrecognized return code"
	}
}

// EchoResponse is the reply to an echo command.
type EchoResponse struct {
	Echo string
}

// UploadResponse is the reply to one image or file upload chunk.
type UploadResponse struct {
	// Off is the offset the device expects next; nil if absent
	Off *uint64
}

// FileDownloadResponse is one chunk of a file download.
type FileDownloadResponse struct {
	// Off is the offset of Data within the file
	Off *uint64

	// Len is the total file length; only sent with the first chunk
	Len *uint64

	Data []byte
}

// DateTimeResponse carries the device clock as an RFC 3339 string.
type DateTimeResponse struct {
	DateTime string
}

// TaskStat holds the statistics of one task.
type TaskStat struct {
	Priority        uint64
	TaskID          uint64
	State           uint64
	StackUse        uint64
	StackSize       uint64
	ContextSwitches uint64
	Runtime         uint64
	LastCheckin     uint64
	NextCheckin     uint64
}

// TaskStatsResponse holds task statistics keyed by task name.
type TaskStatsResponse struct {
	Tasks map[string]TaskStat
}

// MemoryPool holds the statistics of one memory pool.
type MemoryPool struct {
	BlockSize uint64
	Blocks    uint64
	Free      uint64
	MinFree   uint64
}

// MemoryPoolStatsResponse holds memory pool statistics keyed by pool name.
type MemoryPoolStatsResponse struct {
	Pools map[string]MemoryPool
}

// ImageSlot describes one image slot on the device.
type ImageSlot struct {
	Slot      uint64
	Version   string
	Hash      []byte
	Bootable  bool
	Pending   bool
	Confirmed bool
	Active    bool
	Permanent bool
}

// ImageStateResponse is the reply to an image state read or write.
type ImageStateResponse struct {
	Images      []ImageSlot
	SplitStatus *uint64
}

// StatsResponse holds the counters of one statistics group.
type StatsResponse struct {
	Name   string
	Group  string
	Fields map[string]uint64
}

// StatsListResponse lists the statistics groups.
type StatsListResponse struct {
	Names []string
}

// ConfigResponse carries a configuration value.
type ConfigResponse struct {
	Value string
}

// LogEntry is one log record.
type LogEntry struct {
	Msg       []byte
	Timestamp uint64
	Level     uint64
	Index     uint64
	Module    uint64

	// Type is "cbor" when Msg holds an encoded item, otherwise Msg is text
	Type string
}

// Message renders Msg according to Type. It reports false when an encoded
// message cannot be decoded.
func (e LogEntry) Message() (string, bool) {
	if e.Type == "cbor" {
		v, err := cbor.Unmarshal(e.Msg)
		if err != nil {
			return "", false
		}
		return v.String(), true
	}
	return string(e.Msg), true
}

// LogResult holds the entries read from one log.
type LogResult struct {
	Name    string
	Type    uint64
	Entries []LogEntry
}

// LogShowResponse is the reply to a log show command.
type LogShowResponse struct {
	NextIndex *uint64
	Logs      []LogResult
}

// LogListResponse lists the device's logs.
type LogListResponse struct {
	Names []string
}

// LevelListResponse lists the log level names.
type LevelListResponse struct {
	Names []string
}

// ModuleListResponse maps log module names to ids.
type ModuleListResponse struct {
	Modules map[string]uint64
}
