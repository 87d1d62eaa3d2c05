package protocol

// ProtocolVersion is the SMP header version this library writes (version 0).
const ProtocolVersion = 0

// Header layout constants.
const (
	// HeaderLength is the size of the packet header in bytes
	HeaderLength = 8

	// HeaderKey is the payload map key carrying the header in CoAP schemes
	HeaderKey = "_h"

	// opMask selects the operation bits of header byte 0
	opMask = 0x07
)

// MTU limits shared by every scheme.
const (
	// MinMtu is the smallest MTU SetMtu accepts
	MinMtu = 23

	// MaxMtu is the largest MTU SetMtu accepts
	MaxMtu = 1024

	// DefaultBleMtu is the default MTU for BLE schemes
	DefaultBleMtu = 524

	// DefaultMtu is the default MTU for non-BLE schemes
	DefaultMtu = 1024

	// CoapHeaderOverhead estimates the CoAP header bytes that share the MTU
	// with the payload in CoAP schemes
	CoapHeaderOverhead = 25
)

// Operation codes.
const (
	// OpRead requests data from the device
	OpRead Op = 0

	// OpReadResponse is the device's reply to OpRead
	OpReadResponse Op = 1

	// OpWrite sends data to the device
	OpWrite Op = 2

	// OpWriteResponse is the device's reply to OpWrite
	OpWriteResponse Op = 3
)

// Command groups.
const (
	GroupDefault Group = 0
	GroupImage   Group = 1
	GroupStats   Group = 2
	GroupConfig  Group = 3
	GroupLogs    Group = 4
	GroupCrash   Group = 5
	GroupSplit   Group = 6
	GroupRun     Group = 7
	GroupFS      Group = 8

	// GroupPerUser is the first group id available to applications
	GroupPerUser Group = 64
)

// Default group command ids.
const (
	CmdEcho        = 0
	CmdConsoleEcho = 1
	CmdTaskStats   = 2
	CmdMpStats     = 3
	CmdDateTime    = 4
	CmdReset       = 5
)

// Image group command ids.
const (
	CmdImageState  = 0
	CmdImageUpload = 1
	CmdImageErase  = 5
)

// Stats group command ids.
const (
	CmdStatsRead = 0
	CmdStatsList = 1
)

// Config group command ids.
const (
	CmdConfig = 0
)

// Logs group command ids.
const (
	CmdLogShow       = 0
	CmdLogClear      = 1
	CmdLogModuleList = 3
	CmdLogLevelList  = 4
	CmdLogList       = 5
)

// File system group command ids.
const (
	CmdFile = 0
)

// Return codes carried in the "rc" field of a response.
const (
	RCOk       ReturnCode = 0
	RCUnknown  ReturnCode = 1
	RCNoMemory ReturnCode = 2
	RCInValue  ReturnCode = 3
	RCTimeout  ReturnCode = 4
	RCNoEntry  ReturnCode = 5
	RCBadState ReturnCode = 6

	// RCUnrecognized stands for any rc value outside the set above. The raw
	// value is kept in Response.RawRC.
	RCUnrecognized ReturnCode = 0xFFFF
)
