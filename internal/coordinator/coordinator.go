// Package coordinator orchestrates the signal path: per-instrument
// serialization, deduplication, risk gating, venue execution, ledger
// commit and trade record persistence.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"main/internal/accountant"
	"main/internal/journal"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/org"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/venue"
	"main/pkg/exception"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Config tunes coordinator behavior.
type Config struct {
	// Instruments maps known symbols to their settlement currency.
	Instruments map[schema.Instrument]string
	// SnapshotEvery writes a ledger snapshot after this many committed
	// trade records. Zero disables periodic snapshots.
	SnapshotEvery int
}

// Coordinator serializes signal evaluation per instrument: everything from
// dedupe-check through ledger commit runs as one atomic unit relative to
// other operations on the same instrument, and the critical section is
// held across the venue call so the ledger never represents an allocation
// the venue has not confirmed. Different instruments proceed in parallel.
type Coordinator struct {
	cfg     Config
	book    *ledger.Book
	gate    *risk.Engine
	venue   venue.Adapter
	journal journal.Store
	dir     *org.Directory
	metrics *obs.Metrics

	statesMu sync.Mutex
	states   map[schema.Instrument]*instrumentState

	seenMu sync.Mutex
	seen   map[uuid.UUID]struct{}

	sinceSnapshot atomic.Int64
}

// instrumentState carries the per-instrument critical section and the
// poison flag raised on a conservation violation.
type instrumentState struct {
	mu       sync.Mutex
	poisoned bool
}

// New wires a coordinator. The book is typically the product of Recover.
func New(cfg Config, book *ledger.Book, gate *risk.Engine, adapter venue.Adapter, store journal.Store, dir *org.Directory, metrics *obs.Metrics) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		book:    book,
		gate:    gate,
		venue:   adapter,
		journal: store,
		dir:     dir,
		metrics: metrics,
		states:  make(map[schema.Instrument]*instrumentState),
		seen:    make(map[uuid.UUID]struct{}),
	}
}

// MarkSeen records idempotency keys recovered from the journal so
// resubmissions of already-committed signals are rejected after a restart.
func (c *Coordinator) MarkSeen(keys ...uuid.UUID) {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	for _, key := range keys {
		c.seen[key] = struct{}{}
	}
}

// Book exposes the ledger for read-side consumers (reporting, snapshots).
func (c *Coordinator) Book() *ledger.Book {
	return c.book
}

// Submit evaluates one signal end to end. It returns the trade records of
// a committed signal (possibly annotated RiskShrunk/PartialFill) or a
// rejection error; there is no silent failure mode.
func (c *Coordinator) Submit(ctx context.Context, signal schema.Signal) ([]schema.TradeRecord, error) {
	currency, ok := c.cfg.Instruments[signal.Instrument]
	if !ok {
		c.metrics.IncRejected("unknown_instrument")
		return nil, exception.ErrUnknownInstrument
	}

	st := c.state(signal.Instrument)
	st.mu.Lock()
	defer st.mu.Unlock()

	return c.process(ctx, st, signal, currency, true)
}

// process runs the pipeline for one signal. The instrument critical
// section must be held. gated selects whether the risk gate applies;
// administrative closes bypass scoring.
func (c *Coordinator) process(ctx context.Context, st *instrumentState, signal schema.Signal, currency string, gated bool) ([]schema.TradeRecord, error) {
	start := time.Now()

	if st.poisoned {
		c.metrics.IncRejected("poisoned")
		return nil, exception.ErrInstrumentPoisoned
	}
	// Input validation runs before the dedupe burn so a malformed signal
	// does not consume its idempotency key.
	if signal.QuantityDelta.IsZero() {
		c.metrics.IncRejected("zero_delta")
		return nil, exception.ErrZeroQuantityDelta
	}
	if !c.consumeKey(signal.IdempotencyKey) {
		c.metrics.IncRejected("duplicate")
		return nil, exception.ErrDuplicateSignal
	}

	deltas, err := c.proposeDeltas(signal)
	if err != nil {
		c.metrics.IncRejected(reasonOf(err))
		return nil, err
	}

	var flags uint16
	if gated {
		deltas, flags, err = c.applyRiskGate(signal.Instrument, deltas)
		if err != nil {
			c.metrics.IncRejected(reasonOf(err))
			return nil, err
		}
	}

	net := ledger.ProposeDelta(deltas)
	if net.IsZero() {
		c.metrics.IncRejected("risk_rejected")
		return nil, exception.ErrRiskRejected
	}

	// Only the aggregate change crosses the venue boundary. The critical
	// section is held across this call on purpose: a slow venue serializes
	// further signals for the instrument.
	venueStart := time.Now()
	fill, err := c.venue.Execute(ctx, signal.Instrument, net)
	c.metrics.ObserveVenue(time.Since(venueStart))
	if err != nil {
		if venue.IsTimeout(err) {
			c.metrics.IncRejected("venue_timeout")
			return nil, exception.ErrVenueTimeout
		}
		c.metrics.IncRejected("venue_rejected")
		return nil, errors.Wrap(exception.ErrVenueRejected, err.Error())
	}
	if err := venue.ValidateFill(net, fill); err != nil {
		c.metrics.IncRejected("venue_rejected")
		return nil, errors.Wrap(exception.ErrVenueRejected, err.Error())
	}

	if fill.Quantity.Abs().Cmp(net.Abs()) < 0 {
		// Partial fill: re-run the split proportionally against the actual
		// net delta, not the requested one.
		flags |= schema.FlagPartialFill
		deltas = rescale(deltas, net, fill.Quantity)
	}

	records, err := c.book.Commit(signal.Instrument, ledger.Commit{
		IdempotencyKey: signal.IdempotencyKey,
		FundDeltas:     deltas,
		FillPrice:      fill.Price,
		Currency:       currency,
		VenueRef:       fill.Reference,
		Flags:          flags,
		ExecutedAt:     time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, exception.ErrConservationViolated) {
			st.poisoned = true
			c.metrics.IncPoisoned()
			logs.Errorf("instrument %s poisoned: %+v", signal.Instrument, err)
		}
		return nil, err
	}

	journalDown := false
	for i := range records {
		if fund, ok := c.dir.Fund(records[i].Fund); ok {
			records[i].Commission = accountant.Commission(fund.Commission, records[i].QuantityDelta, records[i].FillPrice)
		}
		if journalDown {
			records[i].Flags |= schema.FlagUnjournaled
			continue
		}
		if err := c.journal.AppendTrade(ctx, records[i]); err != nil {
			// The ledger commit stands; only durability degraded. The record
			// is annotated rather than failed so callers never mistake a
			// committed trade for a rejection.
			logs.Errorf("append trade record seq=%d: %+v", records[i].Seq, err)
			records[i].Flags |= schema.FlagUnjournaled
			journalDown = true
		}
	}

	c.maybeSnapshot(ctx, len(records))
	c.metrics.IncAccepted(len(records))
	c.metrics.ObserveSubmit(time.Since(start))
	return records, nil
}

// proposeDeltas resolves a signal into per-fund quantity deltas: targeted
// when a fund is named, pro-rata over existing exposure otherwise.
func (c *Coordinator) proposeDeltas(signal schema.Signal) (map[string]decimal.Decimal, error) {
	if !signal.ProRata() {
		if _, ok := c.dir.Fund(signal.Fund); !ok {
			return nil, exception.ErrNoEligibleFund
		}
		if !c.dir.IsAssigned(signal.Manager, signal.Fund) {
			return nil, exception.ErrManagerNotAssigned
		}
		return map[string]decimal.Decimal{signal.Fund: signal.QuantityDelta}, nil
	}

	allocations := c.book.Allocations(signal.Instrument)
	if len(allocations) == 0 {
		// A pro-rata signal with no existing exposure is a no-op.
		return nil, exception.ErrNoEligibleFund
	}
	if ledger.ProposeDelta(allocations).IsZero() {
		// Offsetting long and short allocations define no proportion.
		return nil, exception.ErrNoEligibleFund
	}
	return proRataSplit(allocations, signal.QuantityDelta), nil
}

// applyRiskGate evaluates each fund delta, dropping rejected funds and
// shrinking capped ones. An empty survivor set rejects the signal.
func (c *Coordinator) applyRiskGate(instrument schema.Instrument, deltas map[string]decimal.Decimal) (map[string]decimal.Decimal, uint16, error) {
	approved := make(map[string]decimal.Decimal, len(deltas))
	var flags uint16
	for _, fund := range sortedFunds(deltas) {
		fundInfo, ok := c.dir.Fund(fund)
		if !ok {
			continue
		}
		current := c.book.Allocation(instrument, fund)
		decision := c.gate.Evaluate(fund, fundInfo.Limits(), instrument, current, deltas[fund])
		switch decision.Action {
		case risk.ActionApprove:
			c.metrics.IncRiskEval("approve")
			approved[fund] = decision.Qty
		case risk.ActionShrink:
			c.metrics.IncRiskEval("shrink")
			flags |= schema.FlagRiskShrunk
			approved[fund] = decision.Qty
		case risk.ActionReject:
			c.metrics.IncRiskEval("reject")
			logs.Warnf("risk gate rejected fund=%s instrument=%s reason=%d score=%.3f",
				fund, instrument, decision.Reason, decision.Score)
		}
	}
	if len(approved) == 0 {
		return nil, 0, exception.ErrRiskRejected
	}
	return approved, flags, nil
}

// state returns the critical-section entry for an instrument, creating it
// on first use.
func (c *Coordinator) state(instrument schema.Instrument) *instrumentState {
	c.statesMu.Lock()
	defer c.statesMu.Unlock()
	st, ok := c.states[instrument]
	if !ok {
		st = &instrumentState{}
		c.states[instrument] = st
	}
	return st
}

// consumeKey permanently burns an idempotency key. Keys are consumed even
// by attempts that later fail at the venue: resubmission after a timeout
// with unknown outcome requires a fresh key and an explicit reconciliation
// query, never a blind retry.
func (c *Coordinator) consumeKey(key uuid.UUID) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, dup := c.seen[key]; dup {
		return false
	}
	c.seen[key] = struct{}{}
	return true
}

// maybeSnapshot persists a ledger snapshot every SnapshotEvery committed
// records.
func (c *Coordinator) maybeSnapshot(ctx context.Context, committed int) {
	if c.cfg.SnapshotEvery <= 0 {
		return
	}
	n := c.sinceSnapshot.Add(int64(committed))
	if n < int64(c.cfg.SnapshotEvery) {
		return
	}
	if !c.sinceSnapshot.CompareAndSwap(n, 0) {
		// Another instrument's commit advanced the counter and owns the
		// snapshot for this window.
		return
	}
	if err := c.journal.SaveSnapshot(ctx, c.book.Snapshot()); err != nil {
		logs.Errorf("save ledger snapshot: %+v", err)
	}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, exception.ErrNoEligibleFund):
		return "no_eligible_fund"
	case errors.Is(err, exception.ErrManagerNotAssigned):
		return "manager_not_assigned"
	case errors.Is(err, exception.ErrRiskRejected):
		return "risk_rejected"
	default:
		return "other"
	}
}
