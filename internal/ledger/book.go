package ledger

import (
	"sort"
	"sync"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// VenuePosition mirrors the single real position the venue holds per
// instrument. It is owned exclusively by the Book and mutated only by
// Commit after a confirmed venue fill.
type VenuePosition struct {
	Instrument    schema.Instrument `json:"instrument"`
	Quantity      decimal.Decimal   `json:"quantity"`
	AvgEntryPrice decimal.Decimal   `json:"avgEntryPrice"`
	Currency      string            `json:"currency"`
}

// Commit describes one atomic ledger mutation derived from a confirmed
// venue fill. FundDeltas must sum to the filled net quantity exactly.
type Commit struct {
	IdempotencyKey uuid.UUID
	FundDeltas     map[string]decimal.Decimal
	FillPrice      decimal.Decimal
	Currency       string
	VenueRef       string
	Flags          uint16
	ExecutedAt     time.Time
}

// Book is the authoritative record of how each venue-level position is
// apportioned across funds. All reads and writes of positions and
// allocations go through it; nothing else holds a reference to them.
//
// Internal state is guarded by a short mutex so snapshots and commits on
// different instruments can run concurrently. Serialization of a full
// signal evaluation (risk, venue call, commit) per instrument is the
// coordinator's job, not the Book's.
type Book struct {
	mu          sync.Mutex
	positions   map[schema.Instrument]VenuePosition
	allocations map[schema.Instrument]map[string]decimal.Decimal
	seq         uint64
}

// NewBook creates an empty ledger.
func NewBook() *Book {
	return &Book{
		positions:   make(map[schema.Instrument]VenuePosition),
		allocations: make(map[schema.Instrument]map[string]decimal.Decimal),
	}
}

// ProposeDelta sums per-fund deltas into the single quantity the venue must
// move. It does not mutate state.
func ProposeDelta(fundDeltas map[string]decimal.Decimal) decimal.Decimal {
	net := decimal.Zero
	for _, d := range fundDeltas {
		net = net.Add(d)
	}
	return net
}

// Position returns the venue position for an instrument, if any.
func (b *Book) Position(instrument schema.Instrument) (VenuePosition, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[instrument]
	return pos, ok
}

// Allocations returns a copy of the active allocation set for an instrument.
func (b *Book) Allocations(instrument schema.Instrument) map[string]decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	allocs := b.allocations[instrument]
	out := make(map[string]decimal.Decimal, len(allocs))
	for fund, qty := range allocs {
		out[fund] = qty
	}
	return out
}

// Allocation returns a fund's share of an instrument's venue position.
// Funds with no active allocation report zero.
func (b *Book) Allocation(instrument schema.Instrument, fund string) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocations[instrument][fund]
}

// Instruments returns all instruments with an active venue position, sorted.
func (b *Book) Instruments() []schema.Instrument {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]schema.Instrument, 0, len(b.positions))
	for instrument := range b.positions {
		out = append(out, instrument)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LastSeq returns the highest trade record sequence the book has assigned
// or replayed.
func (b *Book) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Commit applies all fund deltas atomically and returns one trade record
// per affected fund. Either every delta applies or none does. The
// conservation invariant (sum of allocations == venue position quantity)
// is asserted post-commit; a violation leaves the book untouched and is a
// fatal internal-consistency error, never silently repaired.
//
// An allocation reaching exactly zero is removed from the active set. A
// delta may flip a fund from long to short in one commit; that is a single
// netted movement, not two.
func (b *Book) Commit(instrument schema.Instrument, c Commit) ([]schema.TradeRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	funds := make([]string, 0, len(c.FundDeltas))
	for fund, delta := range c.FundDeltas {
		if !delta.IsZero() {
			funds = append(funds, fund)
		}
	}
	if len(funds) == 0 {
		return nil, exception.ErrEmptyCommit
	}
	sort.Strings(funds)

	net := ProposeDelta(c.FundDeltas)
	current := b.positions[instrument]
	nextQty := current.Quantity.Add(net)
	nextAvg := nextAvgEntry(current, net, c.FillPrice)

	// Copy-on-write keeps the visible allocation set intact until every
	// delta has applied and the invariant has been checked.
	next := make(map[string]decimal.Decimal, len(b.allocations[instrument]))
	for fund, qty := range b.allocations[instrument] {
		next[fund] = qty
	}

	records := make([]schema.TradeRecord, 0, len(funds))
	for _, fund := range funds {
		delta := c.FundDeltas[fund]
		after := next[fund].Add(delta)
		if after.IsZero() {
			delete(next, fund)
		} else {
			next[fund] = after
		}
		records = append(records, schema.TradeRecord{
			Version:        schema.SchemaVersion,
			IdempotencyKey: c.IdempotencyKey,
			Instrument:     instrument,
			Fund:           fund,
			QuantityDelta:  delta,
			FillPrice:      c.FillPrice,
			Currency:       currencyOf(current, c.Currency),
			VenueRef:       c.VenueRef,
			Flags:          c.Flags,
			ExecutedAt:     c.ExecutedAt,
			Allocation:     after,
		})
	}

	total := decimal.Zero
	for _, qty := range next {
		total = total.Add(qty)
	}
	if !total.Equal(nextQty) {
		return nil, errors.Wrapf(exception.ErrConservationViolated,
			"instrument: %s, allocated: %s, venue: %s", instrument, total, nextQty)
	}

	if nextQty.IsZero() {
		delete(b.positions, instrument)
	} else {
		b.positions[instrument] = VenuePosition{
			Instrument:    instrument,
			Quantity:      nextQty,
			AvgEntryPrice: nextAvg,
			Currency:      currencyOf(current, c.Currency),
		}
	}
	if len(next) == 0 {
		delete(b.allocations, instrument)
	} else {
		b.allocations[instrument] = next
	}

	for i := range records {
		b.seq++
		records[i].Seq = b.seq
	}
	return records, nil
}

func currencyOf(current VenuePosition, fallback string) string {
	if current.Currency != "" {
		return current.Currency
	}
	return fallback
}

// nextAvgEntry recomputes the average entry price of a venue position after
// a netted quantity change. Reductions keep the entry basis; a flip opens
// the remainder at the fill price.
func nextAvgEntry(current VenuePosition, net, fillPrice decimal.Decimal) decimal.Decimal {
	nextQty := current.Quantity.Add(net)
	switch {
	case nextQty.IsZero():
		return decimal.Zero
	case current.Quantity.IsZero(), current.Quantity.Sign() != nextQty.Sign():
		return fillPrice
	case nextQty.Abs().Cmp(current.Quantity.Abs()) <= 0:
		return current.AvgEntryPrice
	default:
		held := current.Quantity.Abs().Mul(current.AvgEntryPrice)
		added := net.Abs().Mul(fillPrice)
		return held.Add(added).Div(nextQty.Abs())
	}
}
