package ledger

import (
	"fmt"
	"sort"
	"time"

	"main/internal/schema"

	"github.com/shopspring/decimal"
)

// Snapshot captures venue positions and fund allocations at a point in
// time, together with the last trade record sequence it covers.
type Snapshot struct {
	Timestamp   time.Time         `json:"timestamp"`
	LastSeq     uint64            `json:"lastSeq"`
	Positions   []PositionEntry   `json:"positions"`
	Allocations []AllocationEntry `json:"allocations"`
}

// PositionEntry is a single venue position entry.
type PositionEntry struct {
	Instrument    schema.Instrument `json:"instrument"`
	Quantity      decimal.Decimal   `json:"quantity"`
	AvgEntryPrice decimal.Decimal   `json:"avgEntryPrice"`
	Currency      string            `json:"currency"`
}

// AllocationEntry is a single (instrument, fund) allocation entry.
type AllocationEntry struct {
	Instrument schema.Instrument `json:"instrument"`
	Fund       string            `json:"fund"`
	Quantity   decimal.Decimal   `json:"quantity"`
}

// Snapshot builds a sorted snapshot of current book state.
func (b *Book) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]PositionEntry, 0, len(b.positions))
	for _, pos := range b.positions {
		positions = append(positions, PositionEntry{
			Instrument:    pos.Instrument,
			Quantity:      pos.Quantity,
			AvgEntryPrice: pos.AvgEntryPrice,
			Currency:      pos.Currency,
		})
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Instrument < positions[j].Instrument
	})

	allocations := make([]AllocationEntry, 0)
	for instrument, allocs := range b.allocations {
		for fund, qty := range allocs {
			allocations = append(allocations, AllocationEntry{
				Instrument: instrument,
				Fund:       fund,
				Quantity:   qty,
			})
		}
	}
	sort.Slice(allocations, func(i, j int) bool {
		if allocations[i].Instrument != allocations[j].Instrument {
			return allocations[i].Instrument < allocations[j].Instrument
		}
		return allocations[i].Fund < allocations[j].Fund
	})

	return Snapshot{
		Timestamp:   time.Now().UTC(),
		LastSeq:     b.seq,
		Positions:   positions,
		Allocations: allocations,
	}
}

// ApplySnapshot replaces book state with the snapshot contents.
func (b *Book) ApplySnapshot(snapshot Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.positions = make(map[schema.Instrument]VenuePosition, len(snapshot.Positions))
	for _, entry := range snapshot.Positions {
		b.positions[entry.Instrument] = VenuePosition{
			Instrument:    entry.Instrument,
			Quantity:      entry.Quantity,
			AvgEntryPrice: entry.AvgEntryPrice,
			Currency:      entry.Currency,
		}
	}

	b.allocations = make(map[schema.Instrument]map[string]decimal.Decimal, len(snapshot.Positions))
	for _, entry := range snapshot.Allocations {
		allocs, ok := b.allocations[entry.Instrument]
		if !ok {
			allocs = make(map[string]decimal.Decimal)
			b.allocations[entry.Instrument] = allocs
		}
		allocs[entry.Fund] = entry.Quantity
	}

	b.seq = snapshot.LastSeq
}

// CompareSnapshots checks that two snapshots describe the same positions
// and allocations. Timestamps are ignored.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("position count mismatch: expected=%d actual=%d",
			len(expected.Positions), len(actual.Positions))
	}
	want := make(map[schema.Instrument]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		want[entry.Instrument] = entry
	}
	for _, entry := range actual.Positions {
		w, ok := want[entry.Instrument]
		if !ok {
			return fmt.Errorf("unexpected position: %s", entry.Instrument)
		}
		if !w.Quantity.Equal(entry.Quantity) {
			return fmt.Errorf("position qty mismatch: instrument=%s expected=%s actual=%s",
				entry.Instrument, w.Quantity, entry.Quantity)
		}
	}

	if len(expected.Allocations) != len(actual.Allocations) {
		return fmt.Errorf("allocation count mismatch: expected=%d actual=%d",
			len(expected.Allocations), len(actual.Allocations))
	}
	type key struct {
		instrument schema.Instrument
		fund       string
	}
	wantAllocs := make(map[key]decimal.Decimal, len(expected.Allocations))
	for _, entry := range expected.Allocations {
		wantAllocs[key{entry.Instrument, entry.Fund}] = entry.Quantity
	}
	for _, entry := range actual.Allocations {
		w, ok := wantAllocs[key{entry.Instrument, entry.Fund}]
		if !ok {
			return fmt.Errorf("unexpected allocation: instrument=%s fund=%s",
				entry.Instrument, entry.Fund)
		}
		if !w.Equal(entry.Quantity) {
			return fmt.Errorf("allocation qty mismatch: instrument=%s fund=%s expected=%s actual=%s",
				entry.Instrument, entry.Fund, w, entry.Quantity)
		}
	}
	return nil
}
