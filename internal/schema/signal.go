package schema

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Signal is a trading instruction submitted to the coordinator. It is
// immutable once accepted: a signal is never edited, only superseded by a
// later signal with a fresh idempotency key.
type Signal struct {
	// IdempotencyKey deduplicates submissions. Reusing a key is rejected
	// even when the original attempt failed at the venue.
	IdempotencyKey uuid.UUID `json:"idempotencyKey"`

	Instrument Instrument `json:"instrument"`

	// Fund is the originating fund. Empty means apply pro-rata across all
	// funds with existing exposure in the instrument.
	Fund string `json:"fund,omitempty"`

	// Manager is the portfolio manager acting on behalf of Fund. The
	// coordinator only verifies the assignment as a data-model fact;
	// authorization happens upstream.
	Manager string `json:"manager,omitempty"`

	// QuantityDelta is the signed requested change. Positive extends long
	// exposure, negative extends short.
	QuantityDelta decimal.Decimal `json:"quantityDelta"`

	SubmittedAt time.Time `json:"submittedAt"`

	Note string `json:"note,omitempty"`
}

// ProRata reports whether the signal targets no particular fund.
func (s Signal) ProRata() bool {
	return s.Fund == ""
}
