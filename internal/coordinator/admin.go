package coordinator

import (
	"context"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/google/uuid"
)

// CloseInstrument flattens the venue position of an instrument, reducing
// every fund's allocation pro-rata to zero. The closing delta is computed
// inside the instrument critical section so a concurrent signal cannot
// leave residual exposure. Administrative closes bypass the risk gate: a
// fund must always be able to exit.
func (c *Coordinator) CloseInstrument(ctx context.Context, instrument schema.Instrument, key uuid.UUID) ([]schema.TradeRecord, error) {
	currency, ok := c.cfg.Instruments[instrument]
	if !ok {
		return nil, exception.ErrUnknownInstrument
	}

	st := c.state(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()

	position, ok := c.book.Position(instrument)
	if !ok || position.Quantity.IsZero() {
		return nil, exception.ErrNoEligibleFund
	}

	signal := schema.Signal{
		IdempotencyKey: key,
		Instrument:     instrument,
		QuantityDelta:  position.Quantity.Neg(),
		SubmittedAt:    time.Now().UTC(),
		Note:           "close instrument",
	}
	return c.process(ctx, st, signal, currency, false)
}

// CloseFund flattens one fund's allocation in an instrument, leaving the
// other funds untouched.
func (c *Coordinator) CloseFund(ctx context.Context, fund string, instrument schema.Instrument, key uuid.UUID) ([]schema.TradeRecord, error) {
	currency, ok := c.cfg.Instruments[instrument]
	if !ok {
		return nil, exception.ErrUnknownInstrument
	}

	st := c.state(instrument)
	st.mu.Lock()
	defer st.mu.Unlock()

	allocation := c.book.Allocation(instrument, fund)
	if allocation.IsZero() {
		return nil, exception.ErrNoEligibleFund
	}

	signal := schema.Signal{
		IdempotencyKey: key,
		Instrument:     instrument,
		Fund:           fund,
		QuantityDelta:  allocation.Neg(),
		SubmittedAt:    time.Now().UTC(),
		Note:           "close fund",
	}
	return c.process(ctx, st, signal, currency, false)
}
