// Package journal persists the durable audit trail: append-only trade
// records plus periodic ledger snapshots. Startup replays the latest
// snapshot and the records appended since it.
package journal

import (
	"context"

	"main/internal/ledger"
	"main/internal/schema"
)

// Store is the document-store boundary. Trade records are write-once;
// implementations must be safe for concurrent appends on different
// instruments (appends within one instrument are already serialized by the
// coordinator's critical section).
type Store interface {
	// AppendTrade persists a single write-once trade record.
	AppendTrade(ctx context.Context, record schema.TradeRecord) error

	// TradesSince returns records with sequence strictly greater than seq,
	// in ascending sequence order. TradesSince(ctx, 0) returns everything.
	TradesSince(ctx context.Context, seq uint64) ([]schema.TradeRecord, error)

	// SaveSnapshot stores the snapshot as the latest recovery point.
	SaveSnapshot(ctx context.Context, snapshot ledger.Snapshot) error

	// LatestSnapshot returns the stored snapshot, if one exists.
	LatestSnapshot(ctx context.Context) (ledger.Snapshot, bool, error)

	Close() error
}
