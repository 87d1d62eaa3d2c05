package mcumgr

import (
	"context"

	"github.com/moffa90/go-mcumgr/cbor"
	"github.com/moffa90/go-mcumgr/protocol"
	"github.com/moffa90/go-mcumgr/transport"
)

// StatsManager reads statistics groups.
type StatsManager struct {
	*Manager
}

// NewStatsManager creates a manager for the statistics group.
func NewStatsManager(t transport.Transport, opts ...Option) *StatsManager {
	return &StatsManager{Manager: New(protocol.GroupStats, t, opts...)}
}

// Read reads the counters of the statistics group module.
func (m *StatsManager) Read(ctx context.Context, module string) (*protocol.StatsResponse, error) {
	resp, err := m.call(ctx, "stats read", protocol.OpRead, protocol.CmdStatsRead,
		map[string]cbor.Value{"name": cbor.Text(module)})
	if err != nil {
		return nil, err
	}
	return protocol.ParseStatsResponse(resp), nil
}

// List returns the names of the statistics groups.
func (m *StatsManager) List(ctx context.Context) ([]string, error) {
	resp, err := m.call(ctx, "stats list", protocol.OpRead, protocol.CmdStatsList, nil)
	if err != nil {
		return nil, err
	}
	return protocol.ParseStatsListResponse(resp).Names, nil
}
