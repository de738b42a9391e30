package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeRecord is a write-once audit entry produced by a committed signal,
// one per affected fund. Records are append-only history: they survive the
// removal of the allocation they describe.
type TradeRecord struct {
	// Seq is the ledger-assigned monotonic sequence number, used to replay
	// records past a snapshot at startup.
	Seq uint64 `json:"seq"`

	Version uint16 `json:"version"`

	IdempotencyKey uuid.UUID  `json:"idempotencyKey"`
	Instrument     Instrument `json:"instrument"`
	Fund           string     `json:"fund"`

	// QuantityDelta is the fund's share of the net quantity actually filled
	// at the venue, not the requested quantity.
	QuantityDelta decimal.Decimal `json:"quantityDelta"`
	FillPrice     decimal.Decimal `json:"fillPrice"`
	Commission    decimal.Decimal `json:"commission"`
	Currency      string          `json:"currency"`

	VenueRef string `json:"venueRef"`
	Flags    uint16 `json:"flags,omitempty"`

	ExecutedAt time.Time `json:"executedAt"`

	// Allocation is the fund's allocation quantity after this record applied.
	Allocation decimal.Decimal `json:"allocation"`
}

// Shrunk reports whether the risk gate reduced the requested quantity.
func (r TradeRecord) Shrunk() bool {
	return r.Flags&FlagRiskShrunk != 0
}

// Partial reports whether the venue filled less than the requested net delta.
func (r TradeRecord) Partial() bool {
	return r.Flags&FlagPartialFill != 0
}

// Unjournaled reports whether the record committed to the ledger but could
// not be persisted to the journal. The trade stands; only durability of the
// audit trail degraded.
func (r TradeRecord) Unjournaled() bool {
	return r.Flags&FlagUnjournaled != 0
}
