package mcumgr

import (
	"context"
	"fmt"
	"time"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
)

// DateTimeLayout is the layout used to write the device clock.
const DateTimeLayout = "2006-01-02T15:04:05Z07:00"

// Devices report their clock with or without a zone and fraction.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// DefaultManager sends the commands of the default (OS) group.
type DefaultManager struct {
	*Manager
}

// NewDefaultManager creates a manager for the default group.
func NewDefaultManager(t transport.Transport, opts ...Option) *DefaultManager {
	return &DefaultManager{Manager: New(protocol.GroupDefault, t, opts...)}
}

// Echo sends msg to the device and returns the echoed string.
func (m *DefaultManager) Echo(ctx context.Context, msg string) (string, error) {
	resp, err := m.call(ctx, "echo", protocol.OpWrite, protocol.CmdEcho,
		map[string]cbor.Value{"d": cbor.Text(msg)})
	if err != nil {
		return "", err
	}
	return protocol.ParseEchoResponse(resp).Echo, nil
}

// TaskStats reads per-task statistics.
func (m *DefaultManager) TaskStats(ctx context.Context) (*protocol.TaskStatsResponse, error) {
	resp, err := m.call(ctx, "task stats", protocol.OpRead, protocol.CmdTaskStats, nil)
	if err != nil {
		return nil, err
	}
	return protocol.ParseTaskStatsResponse(resp), nil
}

// MemoryPoolStats reads memory pool statistics.
func (m *DefaultManager) MemoryPoolStats(ctx context.Context) (*protocol.MemoryPoolStatsResponse, error) {
	resp, err := m.call(ctx, "memory pool stats", protocol.OpRead, protocol.CmdMpStats, nil)
	if err != nil {
		return nil, err
	}
	return protocol.ParseMemoryPoolStatsResponse(resp), nil
}

// ReadDatetime reads the device clock. A clock reported without a zone is
// interpreted as UTC.
func (m *DefaultManager) ReadDatetime(ctx context.Context) (time.Time, error) {
	resp, err := m.call(ctx, "read datetime", protocol.OpRead, protocol.CmdDateTime, nil)
	if err != nil {
		return time.Time{}, err
	}
	return ParseDatetime(protocol.ParseDateTimeResponse(resp).DateTime)
}

// WriteDatetime sets the device clock.
func (m *DefaultManager) WriteDatetime(ctx context.Context, t time.Time) error {
	_, err := m.call(ctx, "write datetime", protocol.OpWrite, protocol.CmdDateTime,
		map[string]cbor.Value{"datetime": cbor.Text(t.Format(DateTimeLayout))})
	return err
}

// Reset asks the device to reboot.
func (m *DefaultManager) Reset(ctx context.Context) error {
	_, err := m.call(ctx, "reset", protocol.OpWrite, protocol.CmdReset, nil)
	return err
}

// ParseDatetime parses a device clock string.
func ParseDatetime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: datetime %q", ErrInvalidResponse, s)
}
