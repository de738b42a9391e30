package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/shopspring/decimal"
)

// Compile-time interface check.
var _ Adapter = (*Sim)(nil)

// Call is one recorded Execute invocation, in arrival order.
type Call struct {
	Instrument schema.Instrument
	Requested  decimal.Decimal
	Filled     decimal.Decimal
	At         time.Time
}

// Sim is a deterministic in-memory venue for paper trading and tests. It
// fills at a configured mark price, optionally only partially, and can
// inject failures and latency to exercise caller error handling and
// serialization.
type Sim struct {
	mu        sync.Mutex
	prices    map[schema.Instrument]decimal.Decimal
	positions map[schema.Instrument]decimal.Decimal
	fillRatio decimal.Decimal
	latency   time.Duration
	failWith  error
	refSeq    uint64
	calls     []Call
}

// NewSim creates a simulator that fills every order in full.
func NewSim() *Sim {
	return &Sim{
		prices:    make(map[schema.Instrument]decimal.Decimal),
		positions: make(map[schema.Instrument]decimal.Decimal),
		fillRatio: decimal.NewFromInt(1),
	}
}

// SetPrice sets the mark price used for fills on an instrument.
func (s *Sim) SetPrice(instrument schema.Instrument, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[instrument] = price
}

// SetFillRatio makes subsequent executes fill only the given fraction of
// the requested quantity. Ratio 1 restores full fills.
func (s *Sim) SetFillRatio(ratio decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fillRatio = ratio
}

// SetLatency delays every Execute call, simulating a slow venue.
func (s *Sim) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// FailWith makes every subsequent Execute return err without touching
// venue state. Pass nil to clear.
func (s *Sim) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Calls returns executed calls in arrival order.
func (s *Sim) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Execute implements Adapter.
func (s *Sim) Execute(ctx context.Context, instrument schema.Instrument, netDelta decimal.Decimal) (Fill, error) {
	s.mu.Lock()
	latency := s.latency
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return Fill{}, exception.ErrVenueTimeout
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return Fill{}, s.failWith
	}
	price, ok := s.prices[instrument]
	if !ok {
		return Fill{}, exception.ErrVenueUnknownInstrument
	}

	filled := netDelta.Mul(s.fillRatio)
	s.positions[instrument] = s.positions[instrument].Add(filled)
	s.refSeq++
	s.calls = append(s.calls, Call{
		Instrument: instrument,
		Requested:  netDelta,
		Filled:     filled,
		At:         time.Now(),
	})

	return Fill{
		Quantity:  filled,
		Price:     price,
		Reference: fmt.Sprintf("SIM-%06d", s.refSeq),
	}, nil
}

// Query implements Adapter.
func (s *Sim) Query(ctx context.Context, instrument schema.Instrument) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	price, ok := s.prices[instrument]
	if !ok {
		return Position{}, exception.ErrVenueUnknownInstrument
	}
	return Position{
		Quantity: s.positions[instrument],
		Price:    price,
	}, nil
}
