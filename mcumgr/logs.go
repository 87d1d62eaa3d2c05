package mcumgr

import (
	"context"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
)

// LogManager reads and clears device logs.
type LogManager struct {
	*Manager
}

// NewLogManager creates a manager for the logs group.
func NewLogManager(t transport.Transport, opts ...Option) *LogManager {
	return &LogManager{Manager: New(protocol.GroupLogs, t, opts...)}
}

// Show reads the entries of log starting at index. An empty log name reads
// every log.
func (m *LogManager) Show(ctx context.Context, log string, index uint64) (*protocol.LogShowResponse, error) {
	payload := map[string]cbor.Value{"index": cbor.Uint(index)}
	if log != "" {
		payload["log_name"] = cbor.Text(log)
	}
	resp, err := m.call(ctx, "log show", protocol.OpRead, protocol.CmdLogShow, payload)
	if err != nil {
		return nil, err
	}
	return protocol.ParseLogShowResponse(resp), nil
}

// Clear erases every log.
func (m *LogManager) Clear(ctx context.Context) error {
	_, err := m.call(ctx, "log clear", protocol.OpWrite, protocol.CmdLogClear, nil)
	return err
}

// List returns the names of the device's logs.
func (m *LogManager) List(ctx context.Context) ([]string, error) {
	resp, err := m.call(ctx, "log list", protocol.OpRead, protocol.CmdLogList, nil)
	if err != nil {
		return nil, err
	}
	return protocol.ParseLogListResponse(resp).Names, nil
}

// LevelList returns the names of the log levels.
func (m *LogManager) LevelList(ctx context.Context) ([]string, error) {
	resp, err := m.call(ctx, "log level list", protocol.OpRead, protocol.CmdLogLevelList, nil)
	if err != nil {
		return nil, err
	}
	return protocol.ParseLevelListResponse(resp).Names, nil
}

// ModuleList returns the log module ids keyed by module name.
func (m *LogManager) ModuleList(ctx context.Context) (map[string]uint64, error) {
	resp, err := m.call(ctx, "log module list", protocol.OpRead, protocol.CmdLogModuleList, nil)
	if err != nil {
		return nil, err
	}
	return protocol.ParseModuleListResponse(resp).Modules, nil
}
