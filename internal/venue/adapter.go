package venue

import (
	"context"
	"errors"
	"net"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/shopspring/decimal"
)

// Fill is the venue's execution report for a net quantity change. Quantity
// carries the sign of the requested delta; a partial fill has a smaller
// magnitude, never a larger one.
type Fill struct {
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Reference string
}

// Position is the venue's own view of an instrument, used for
// reconciliation queries after a timeout with unknown outcome.
type Position struct {
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Adapter is the single gateway to the execution venue and the only
// component allowed to mutate real-world state. Implementations never
// retry on their own; retry policy belongs to the caller.
type Adapter interface {
	// Execute moves the venue position by netDelta and reports the fill.
	Execute(ctx context.Context, instrument schema.Instrument, netDelta decimal.Decimal) (Fill, error)

	// Query returns the venue's current position for the instrument.
	Query(ctx context.Context, instrument schema.Instrument) (Position, error)
}

// IsTimeout reports whether an adapter error should surface as a venue
// timeout rather than a rejection.
func IsTimeout(err error) bool {
	if errors.Is(err, exception.ErrVenueTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ValidateFill checks a fill against the requested net delta before it may
// reach the ledger.
func ValidateFill(requested decimal.Decimal, fill Fill) error {
	if fill.Reference == "" {
		return exception.ErrVenueEmptyReference
	}
	if !fill.Price.IsPositive() {
		return exception.ErrVenueNonPositivePrice
	}
	if fill.Quantity.Sign() != requested.Sign() {
		return exception.ErrVenueFillDirection
	}
	if fill.Quantity.Abs().Cmp(requested.Abs()) > 0 {
		return exception.ErrVenueOverfill
	}
	return nil
}
