package coordinator

import (
	"sort"

	"github.com/shopspring/decimal"
)

// quantityScale bounds the precision of proportional shares. The final
// fund absorbs the rounding remainder so the shares always sum exactly to
// the requested delta.
const quantityScale = 8

func sortedFunds(deltas map[string]decimal.Decimal) []string {
	funds := make([]string, 0, len(deltas))
	for fund := range deltas {
		funds = append(funds, fund)
	}
	sort.Strings(funds)
	return funds
}

// proRataSplit divides delta across funds proportionally to their current
// allocations. Callers must guarantee a non-empty allocation set with a
// non-zero sum; offsetting allocations define no proportion.
func proRataSplit(allocations map[string]decimal.Decimal, delta decimal.Decimal) map[string]decimal.Decimal {
	total := decimal.Zero
	for _, qty := range allocations {
		total = total.Add(qty)
	}

	funds := sortedFunds(allocations)
	shares := make(map[string]decimal.Decimal, len(funds))
	assigned := decimal.Zero
	for i, fund := range funds {
		if i == len(funds)-1 {
			shares[fund] = delta.Sub(assigned)
			break
		}
		share := delta.Mul(allocations[fund]).Div(total).Round(quantityScale)
		shares[fund] = share
		assigned = assigned.Add(share)
	}
	return shares
}

// rescale shrinks per-fund deltas proportionally when the venue filled
// only part of the requested net quantity. As with the pro-rata split, the
// final fund absorbs the rounding remainder so the rescaled deltas sum
// exactly to the filled quantity.
func rescale(deltas map[string]decimal.Decimal, requested, filled decimal.Decimal) map[string]decimal.Decimal {
	ratio := filled.Div(requested)
	funds := sortedFunds(deltas)
	scaled := make(map[string]decimal.Decimal, len(funds))
	assigned := decimal.Zero
	for i, fund := range funds {
		if i == len(funds)-1 {
			scaled[fund] = filled.Sub(assigned)
			break
		}
		share := deltas[fund].Mul(ratio).Round(quantityScale)
		scaled[fund] = share
		assigned = assigned.Add(share)
	}
	return scaled
}
