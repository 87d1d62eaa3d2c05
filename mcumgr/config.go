package mcumgr

import (
	"context"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
)

// ConfigManager reads and writes device settings.
type ConfigManager struct {
	*Manager
}

// NewConfigManager creates a manager for the config group.
func NewConfigManager(t transport.Transport, opts ...Option) *ConfigManager {
	return &ConfigManager{Manager: New(protocol.GroupConfig, t, opts...)}
}

// Read returns the value of the setting name.
func (m *ConfigManager) Read(ctx context.Context, name string) (string, error) {
	resp, err := m.call(ctx, "config read", protocol.OpRead, protocol.CmdConfig,
		map[string]cbor.Value{"name": cbor.Text(name)})
	if err != nil {
		return "", err
	}
	return protocol.ParseConfigResponse(resp).Value, nil
}

// Write sets the setting name to value. With save the device also persists
// its settings.
func (m *ConfigManager) Write(ctx context.Context, name, value string, save bool) error {
	_, err := m.call(ctx, "config write", protocol.OpWrite, protocol.CmdConfig, map[string]cbor.Value{
		"name": cbor.Text(name),
		"val":  cbor.Text(value),
		"save": cbor.Bool(save),
	})
	return err
}
