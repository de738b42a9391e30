package journal

import (
	"context"
	"sort"
	"sync"

	"main/internal/ledger"
	"main/internal/schema"
)

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// Memory is an in-memory Store for tests and paper trading.
type Memory struct {
	mu       sync.Mutex
	trades   []schema.TradeRecord
	snapshot *ledger.Snapshot
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// AppendTrade implements Store.
func (m *Memory) AppendTrade(ctx context.Context, record schema.TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, record)
	return nil
}

// TradesSince implements Store.
func (m *Memory) TradesSince(ctx context.Context, seq uint64) ([]schema.TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.TradeRecord, 0, len(m.trades))
	for _, record := range m.trades {
		if record.Seq > seq {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// SaveSnapshot implements Store.
func (m *Memory) SaveSnapshot(ctx context.Context, snapshot ledger.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = &snapshot
	return nil
}

// LatestSnapshot implements Store.
func (m *Memory) LatestSnapshot(ctx context.Context) (ledger.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return ledger.Snapshot{}, false, nil
	}
	return *m.snapshot, true, nil
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
