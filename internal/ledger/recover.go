package ledger

import (
	"main/internal/schema"
	"main/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// ApplyRecord replays a single committed trade record into the book. It is
// used only during startup recovery; live commits go through Commit.
func (b *Book) ApplyRecord(record schema.TradeRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.positions[record.Instrument]
	nextQty := current.Quantity.Add(record.QuantityDelta)
	nextAvg := nextAvgEntry(current, record.QuantityDelta, record.FillPrice)
	if nextQty.IsZero() {
		delete(b.positions, record.Instrument)
	} else {
		b.positions[record.Instrument] = VenuePosition{
			Instrument:    record.Instrument,
			Quantity:      nextQty,
			AvgEntryPrice: nextAvg,
			Currency:      currencyOf(current, record.Currency),
		}
	}

	allocs, ok := b.allocations[record.Instrument]
	if !ok {
		allocs = make(map[string]decimal.Decimal)
		b.allocations[record.Instrument] = allocs
	}
	after := allocs[record.Fund].Add(record.QuantityDelta)
	if after.IsZero() {
		delete(allocs, record.Fund)
		if len(allocs) == 0 {
			delete(b.allocations, record.Instrument)
		}
	} else {
		allocs[record.Fund] = after
	}

	if record.Seq > b.seq {
		b.seq = record.Seq
	}
}

// Recover rebuilds a book from the latest snapshot plus the trade records
// appended since it. Records at or below the snapshot sequence are skipped.
// The conservation invariant is verified for every instrument before the
// book is returned.
func Recover(snapshot *Snapshot, records []schema.TradeRecord) (*Book, error) {
	b := NewBook()
	if snapshot != nil {
		b.ApplySnapshot(*snapshot)
	}
	for _, record := range records {
		if snapshot != nil && record.Seq <= snapshot.LastSeq {
			continue
		}
		b.ApplyRecord(record)
	}
	if err := b.verifyConservation(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Book) verifyConservation() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for instrument, pos := range b.positions {
		total := decimal.Zero
		for _, qty := range b.allocations[instrument] {
			total = total.Add(qty)
		}
		if !total.Equal(pos.Quantity) {
			return errors.Wrapf(exception.ErrConservationViolated,
				"instrument: %s, allocated: %s, venue: %s", instrument, total, pos.Quantity)
		}
	}
	for instrument, allocs := range b.allocations {
		if _, ok := b.positions[instrument]; ok {
			continue
		}
		total := decimal.Zero
		for _, qty := range allocs {
			total = total.Add(qty)
		}
		if !total.IsZero() {
			return errors.Wrapf(exception.ErrConservationViolated,
				"instrument: %s, allocated: %s, venue: 0", instrument, total)
		}
	}
	return nil
}
