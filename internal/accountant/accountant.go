// Package accountant derives per-fund commission and P&L figures from
// trade records and ledger state. Everything here is a pure function over
// its inputs; the accountant never mutates the allocation ledger.
package accountant

import (
	"main/internal/schema"

	"github.com/shopspring/decimal"
)

// ScheduleKind selects how a fund is charged commission.
type ScheduleKind uint16

const (
	ScheduleUnknown ScheduleKind = iota
	// ScheduleFlat charges a fixed amount per trade record.
	ScheduleFlat
	// SchedulePercentNotional charges a rate on the record's notional.
	SchedulePercentNotional
	// ScheduleTiered charges a rate depending on which notional tier the
	// record falls into.
	ScheduleTiered
)

// Tier is one step of a tiered schedule. Tiers are ordered by ascending
// UpToNotional; the last matching tier's rate applies, and notionals past
// the final bound use the final rate.
type Tier struct {
	UpToNotional decimal.Decimal `json:"upToNotional"`
	Rate         decimal.Decimal `json:"rate"`
}

// Schedule is a fund's commission configuration.
type Schedule struct {
	Kind  ScheduleKind    `json:"kind"`
	Flat  decimal.Decimal `json:"flat,omitempty"`
	Rate  decimal.Decimal `json:"rate,omitempty"`
	Tiers []Tier          `json:"tiers,omitempty"`
}

// Commission computes the charge for a quantity executed at a price.
func Commission(schedule Schedule, quantity, price decimal.Decimal) decimal.Decimal {
	notional := quantity.Abs().Mul(price)
	switch schedule.Kind {
	case ScheduleFlat:
		return schedule.Flat
	case SchedulePercentNotional:
		return notional.Mul(schedule.Rate)
	case ScheduleTiered:
		rate := decimal.Zero
		for _, tier := range schedule.Tiers {
			rate = tier.Rate
			if notional.Cmp(tier.UpToNotional) <= 0 {
				break
			}
		}
		return notional.Mul(rate)
	default:
		return decimal.Zero
	}
}

// Realized computes the P&L realized by closing closedQty units against an
// average entry price. closedQty is positive when reducing a long position
// and negative when reducing a short one; increases realize nothing.
func Realized(avgEntry, fillPrice, closedQty decimal.Decimal) decimal.Decimal {
	if closedQty.IsZero() {
		return decimal.Zero
	}
	return fillPrice.Sub(avgEntry).Mul(closedQty)
}

// Unrealized marks an open quantity to the given price against its average
// entry.
func Unrealized(quantity, avgEntry, markPrice decimal.Decimal) decimal.Decimal {
	if quantity.IsZero() {
		return decimal.Zero
	}
	return markPrice.Sub(avgEntry).Mul(quantity)
}

// Report is the accountant's view of one trade record.
type Report struct {
	Fund          string
	Commission    decimal.Decimal
	RealizedDelta decimal.Decimal
	Unrealized    decimal.Decimal
}

// Derive produces the commission and P&L figures for a single trade
// record. entryBefore is the venue position's average entry price before
// the record applied; markPrice values the post-record allocation.
func Derive(schedule Schedule, record schema.TradeRecord, entryBefore, markPrice decimal.Decimal) Report {
	return Report{
		Fund:          record.Fund,
		Commission:    Commission(schedule, record.QuantityDelta, record.FillPrice),
		RealizedDelta: Realized(entryBefore, record.FillPrice, closedQuantity(record)),
		Unrealized:    Unrealized(record.Allocation, record.FillPrice, markPrice),
	}
}

// closedQuantity extracts how much of the record's delta reduced the fund's
// prior allocation. A flip closes the full prior allocation; an increase
// closes nothing.
func closedQuantity(record schema.TradeRecord) decimal.Decimal {
	before := record.Allocation.Sub(record.QuantityDelta)
	if before.IsZero() || before.Sign() == record.QuantityDelta.Sign() {
		return decimal.Zero
	}
	if record.QuantityDelta.Abs().Cmp(before.Abs()) >= 0 {
		return before
	}
	return record.QuantityDelta.Neg()
}
