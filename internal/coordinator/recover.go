package coordinator

import (
	"context"

	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/org"
	"main/internal/risk"
	"main/internal/venue"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Recover rebuilds a coordinator from the journal: the latest snapshot
// plus every trade record past it reproduces the ledger, and the keys of
// all journaled records re-arm the dedupe set.
func Recover(ctx context.Context, cfg Config, gate *risk.Engine, adapter venue.Adapter, store journal.Store, dir *org.Directory, metrics *obs.Metrics) (*Coordinator, error) {
	snapshot, found, err := store.LatestSnapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load ledger snapshot")
	}

	var base *ledger.Snapshot
	if found {
		base = &snapshot
	}

	all, err := store.TradesSince(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "load trade records")
	}

	keys := make([]uuid.UUID, 0, len(all))
	for _, record := range all {
		keys = append(keys, record.IdempotencyKey)
	}

	book, err := ledger.Recover(base, all)
	if err != nil {
		return nil, errors.Wrap(err, "replay trade records")
	}

	c := New(cfg, book, gate, adapter, store, dir, metrics)
	c.MarkSeen(keys...)
	if found || len(all) > 0 {
		logs.Infof("ledger recovered: snapshot=%v, records=%d, seq=%d", found, len(all), book.LastSeq())
	}
	return c, nil
}
