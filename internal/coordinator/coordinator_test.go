package coordinator

import (
	"context"
	"sync"
	"testing"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	cfg     Config
	sim     *venue.Sim
	store   *journal.Memory
	gate    *risk.Engine
	dir     *org.Directory
	metrics *obs.Metrics
}

func newFixture() *fixture {
	sim := venue.NewSim()
	sim.SetPrice("AAPL", dec("100"))
	sim.SetPrice("MSFT", dec("400"))

	return &fixture{
		cfg: Config{Instruments: map[schema.Instrument]string{
			"AAPL": "USD",
			"MSFT": "USD",
		}},
		sim:   sim,
		store: journal.NewMemory(),
		gate: risk.NewEngine(risk.Config{}, risk.ScorerFunc(
			func(string, schema.Instrument, decimal.Decimal) float64 { return 0 },
		)),
		dir: org.NewDirectory([]org.Fund{
			{
				ID:             "alpha",
				Currency:       "USD",
				MaxExposure:    dec("400"),
				ScoreThreshold: 0.8,
				Commission:     accountant.Schedule{Kind: accountant.SchedulePercentNotional, Rate: dec("0.001")},
				Managers:       []org.PortfolioManager{{ID: "pm-ann"}},
				Active:         true,
			},
			{
				ID:             "beta",
				Currency:       "USD",
				ScoreThreshold: 0.8,
				Managers:       []org.PortfolioManager{{ID: "pm-bob"}},
				Active:         true,
			},
		}),
		metrics: obs.NewMetrics(),
	}
}

func (f *fixture) coordinator(t *testing.T) *Coordinator {
	t.Helper()
	coord, err := Recover(t.Context(), f.cfg, f.gate, f.sim, f.store, f.dir, f.metrics)
	require.NoError(t, err)
	return coord
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fixture) {
	t.Helper()
	f := newFixture()
	return f.coordinator(t), f
}

func targeted(fund, instrument, qty string) schema.Signal {
	return schema.Signal{
		IdempotencyKey: uuid.New(),
		Instrument:     schema.Instrument(instrument),
		Fund:           fund,
		QuantityDelta:  dec(qty),
		SubmittedAt:    time.Now().UTC(),
	}
}

func proRata(instrument, qty string) schema.Signal {
	return schema.Signal{
		IdempotencyKey: uuid.New(),
		Instrument:     schema.Instrument(instrument),
		QuantityDelta:  dec(qty),
		SubmittedAt:    time.Now().UTC(),
	}
}

func requireConservation(t *testing.T, coord *Coordinator) {
	t.Helper()
	for _, instrument := range coord.Book().Instruments() {
		pos, ok := coord.Book().Position(instrument)
		require.True(t, ok)
		total := decimal.Zero
		for _, qty := range coord.Book().Allocations(instrument) {
			total = total.Add(qty)
		}
		require.Truef(t, total.Equal(pos.Quantity),
			"conservation broken on %s: allocated=%s venue=%s", instrument, total, pos.Quantity)
	}
}

func TestSubmitTargeted(t *testing.T) {
	coord, f := newTestCoordinator(t)

	records, err := coord.Submit(t.Context(), targeted("beta", "AAPL", "100"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "beta", records[0].Fund)
	assert.True(t, records[0].QuantityDelta.Equal(dec("100")))
	assert.True(t, records[0].FillPrice.Equal(dec("100")))
	assert.Equal(t, "USD", records[0].Currency)
	assert.NotEmpty(t, records[0].VenueRef)
	assert.False(t, records[0].Shrunk())
	assert.False(t, records[0].Partial())

	requireConservation(t, coord)
	require.Len(t, f.sim.Calls(), 1)

	journaled, err := f.store.TradesSince(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, journaled, 1)
	assert.Equal(t, records[0].Seq, journaled[0].Seq)
}

func TestSubmitDuplicateKeyRejected(t *testing.T) {
	coord, f := newTestCoordinator(t)

	signal := targeted("beta", "AAPL", "100")
	_, err := coord.Submit(t.Context(), signal)
	require.NoError(t, err)

	_, err = coord.Submit(t.Context(), signal)
	require.ErrorIs(t, err, exception.ErrDuplicateSignal)
	assert.Len(t, f.sim.Calls(), 1, "duplicate must not reach the venue")
	requireConservation(t, coord)
}

func TestSubmitKeyConsumedOnVenueFailure(t *testing.T) {
	coord, f := newTestCoordinator(t)

	f.sim.FailWith(exception.ErrVenueConnectionLost)
	signal := targeted("beta", "AAPL", "100")
	_, err := coord.Submit(t.Context(), signal)
	require.ErrorIs(t, err, exception.ErrVenueRejected)

	// A failed attempt still burns its key; retrying needs a fresh one.
	f.sim.FailWith(nil)
	_, err = coord.Submit(t.Context(), signal)
	require.ErrorIs(t, err, exception.ErrDuplicateSignal)

	_, err = coord.Submit(t.Context(), targeted("beta", "AAPL", "100"))
	require.NoError(t, err)
}

func TestSubmitVenueFailureLeavesLedgerUntouched(t *testing.T) {
	coord, f := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("beta", "AAPL", "100"))
	require.NoError(t, err)
	before := coord.Book().Snapshot()

	f.sim.FailWith(exception.ErrVenueInsufficientMargin)
	_, err = coord.Submit(t.Context(), targeted("beta", "AAPL", "50"))
	require.ErrorIs(t, err, exception.ErrVenueRejected)

	require.NoError(t, ledger.CompareSnapshots(before, coord.Book().Snapshot()))
	journaled, err := f.store.TradesSince(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, journaled, 1, "failed attempt must not journal records")
}

func TestSubmitVenueTimeout(t *testing.T) {
	coord, f := newTestCoordinator(t)

	f.sim.FailWith(exception.ErrVenueTimeout)
	_, err := coord.Submit(t.Context(), targeted("beta", "AAPL", "100"))
	require.ErrorIs(t, err, exception.ErrVenueTimeout)

	_, ok := coord.Book().Position("AAPL")
	assert.False(t, ok, "unknown outcome must not touch the ledger")
}

func TestSubmitUnknownInstrument(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("beta", "TSLA", "10"))
	require.ErrorIs(t, err, exception.ErrUnknownInstrument)
}

func TestSubmitZeroDelta(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("beta", "AAPL", "0"))
	require.ErrorIs(t, err, exception.ErrZeroQuantityDelta)
}

func TestSubmitManagerAssignment(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	signal := targeted("beta", "AAPL", "10")
	signal.Manager = "pm-ann"
	_, err := coord.Submit(t.Context(), signal)
	require.ErrorIs(t, err, exception.ErrManagerNotAssigned)

	signal = targeted("beta", "AAPL", "10")
	signal.Manager = "pm-bob"
	_, err = coord.Submit(t.Context(), signal)
	require.NoError(t, err)
}

func TestSubmitUnknownFund(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("gamma", "AAPL", "10"))
	require.ErrorIs(t, err, exception.ErrNoEligibleFund)
}

func TestSubmitProRataSplit(t *testing.T) {
	coord, f := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("alpha", "AAPL", "60"))
	require.NoError(t, err)
	_, err = coord.Submit(t.Context(), targeted("beta", "AAPL", "40"))
	require.NoError(t, err)

	records, err := coord.Submit(t.Context(), proRata("AAPL", "-50"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	byFund := map[string]schema.TradeRecord{}
	for _, record := range records {
		byFund[record.Fund] = record
	}
	assert.True(t, byFund["alpha"].QuantityDelta.Equal(dec("-30")), "got %s", byFund["alpha"].QuantityDelta)
	assert.True(t, byFund["beta"].QuantityDelta.Equal(dec("-20")), "got %s", byFund["beta"].QuantityDelta)

	// One venue call for the aggregate, never one per fund.
	calls := f.sim.Calls()
	require.Len(t, calls, 3)
	assert.True(t, calls[2].Requested.Equal(dec("-50")))

	requireConservation(t, coord)
}

func TestSubmitProRataNoExposure(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), proRata("AAPL", "25"))
	require.ErrorIs(t, err, exception.ErrNoEligibleFund)
}

func TestSubmitPartialFill(t *testing.T) {
	coord, f := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("alpha", "AAPL", "60"))
	require.NoError(t, err)
	_, err = coord.Submit(t.Context(), targeted("beta", "AAPL", "40"))
	require.NoError(t, err)

	f.sim.SetFillRatio(dec("0.5"))
	records, err := coord.Submit(t.Context(), proRata("AAPL", "-50"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	byFund := map[string]schema.TradeRecord{}
	total := decimal.Zero
	for _, record := range records {
		byFund[record.Fund] = record
		total = total.Add(record.QuantityDelta)
		assert.True(t, record.Partial())
	}
	assert.True(t, total.Equal(dec("-25")), "records must sum to the filled quantity, got %s", total)
	assert.True(t, byFund["alpha"].QuantityDelta.Equal(dec("-15")), "got %s", byFund["alpha"].QuantityDelta)
	assert.True(t, byFund["beta"].QuantityDelta.Equal(dec("-10")), "got %s", byFund["beta"].QuantityDelta)

	requireConservation(t, coord)
}

func TestSubmitRiskShrink(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	// alpha is capped at 400.
	records, err := coord.Submit(t.Context(), targeted("alpha", "AAPL", "1000"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].QuantityDelta.Equal(dec("400")), "got %s", records[0].QuantityDelta)
	assert.True(t, records[0].Shrunk())

	// At the cap, further growth is rejected.
	_, err = coord.Submit(t.Context(), targeted("alpha", "AAPL", "10"))
	require.ErrorIs(t, err, exception.ErrRiskRejected)

	// Reducing is always admissible.
	_, err = coord.Submit(t.Context(), targeted("alpha", "AAPL", "-100"))
	require.NoError(t, err)
	requireConservation(t, coord)
}

func TestSubmitKillSwitch(t *testing.T) {
	f := newFixture()
	f.gate = risk.NewEngine(risk.Config{KillSwitch: true}, nil)
	coord := f.coordinator(t)

	_, err := coord.Submit(t.Context(), targeted("beta", "AAPL", "10"))
	require.ErrorIs(t, err, exception.ErrRiskRejected)
	assert.Empty(t, f.sim.Calls())
}

func TestSubmitZeroCrossing(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("beta", "AAPL", "10"))
	require.NoError(t, err)

	records, err := coord.Submit(t.Context(), targeted("beta", "AAPL", "-20"))
	require.NoError(t, err)
	require.Len(t, records, 1, "a flip is one netted movement")
	assert.True(t, records[0].Allocation.Equal(dec("-10")))

	pos, ok := coord.Book().Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("-10")))
	requireConservation(t, coord)
}

func TestSubmitSerializesPerInstrument(t *testing.T) {
	coord, f := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("beta", "AAPL", "100"))
	require.NoError(t, err)

	f.sim.SetLatency(30 * time.Millisecond)

	deltas := []string{"-10", "-20", "-30"}
	var wg sync.WaitGroup
	for _, qty := range deltas {
		signal := targeted("beta", "AAPL", qty)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := coord.Submit(t.Context(), signal)
			assert.NoError(t, err)
		}()
		// Stagger the starts so arrival order is well defined.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	calls := f.sim.Calls()
	require.Len(t, calls, 4)
	for i, qty := range deltas {
		assert.Truef(t, calls[i+1].Requested.Equal(dec(qty)),
			"call %d out of order: got %s, expected %s", i+1, calls[i+1].Requested, qty)
	}
	requireConservation(t, coord)
}

func TestCloseInstrument(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("alpha", "AAPL", "60"))
	require.NoError(t, err)
	_, err = coord.Submit(t.Context(), targeted("beta", "AAPL", "40"))
	require.NoError(t, err)

	records, err := coord.CloseInstrument(t.Context(), "AAPL", uuid.New())
	require.NoError(t, err)
	require.Len(t, records, 2)

	_, ok := coord.Book().Position("AAPL")
	assert.False(t, ok)
	assert.Empty(t, coord.Book().Allocations("AAPL"))

	_, err = coord.CloseInstrument(t.Context(), "AAPL", uuid.New())
	require.ErrorIs(t, err, exception.ErrNoEligibleFund, "nothing left to close")
}

func TestCloseFund(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("alpha", "AAPL", "60"))
	require.NoError(t, err)
	_, err = coord.Submit(t.Context(), targeted("beta", "AAPL", "40"))
	require.NoError(t, err)

	records, err := coord.CloseFund(t.Context(), "beta", "AAPL", uuid.New())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].QuantityDelta.Equal(dec("-40")))

	pos, ok := coord.Book().Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("60")))
	assert.True(t, coord.Book().Allocation("AAPL", "beta").IsZero())
	requireConservation(t, coord)
}

func TestRecoverRestoresLedgerAndDedupe(t *testing.T) {
	coord, f := newTestCoordinator(t)

	first := targeted("alpha", "AAPL", "60")
	_, err := coord.Submit(t.Context(), first)
	require.NoError(t, err)
	_, err = coord.Submit(t.Context(), targeted("beta", "AAPL", "40"))
	require.NoError(t, err)
	_, err = coord.Submit(t.Context(), proRata("AAPL", "-50"))
	require.NoError(t, err)

	before := coord.Book().Snapshot()

	restarted := f.coordinator(t)
	require.NoError(t, ledger.CompareSnapshots(before, restarted.Book().Snapshot()))

	// Keys of journaled trades stay burned across restarts.
	replay := targeted("alpha", "AAPL", "10")
	replay.IdempotencyKey = first.IdempotencyKey
	_, err = restarted.Submit(t.Context(), replay)
	require.ErrorIs(t, err, exception.ErrDuplicateSignal)
}

func TestCommissionOnRecords(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	records, err := coord.Submit(t.Context(), targeted("alpha", "AAPL", "100"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	// 100 qty at price 100 is 10000 notional at 0.1% rate.
	assert.True(t, records[0].Commission.Equal(dec("10")), "got %s", records[0].Commission)
}

func TestSubmitProRataOffsettingAllocations(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	_, err := coord.Submit(t.Context(), targeted("alpha", "AAPL", "10"))
	require.NoError(t, err)
	_, err = coord.Submit(t.Context(), targeted("beta", "AAPL", "-10"))
	require.NoError(t, err)

	// The venue position netted to zero and was removed, but the offsetting
	// long and short allocations remain. No proportion is definable here.
	_, ok := coord.Book().Position("AAPL")
	require.False(t, ok)
	require.Len(t, coord.Book().Allocations("AAPL"), 2)

	_, err = coord.Submit(t.Context(), proRata("AAPL", "-50"))
	require.ErrorIs(t, err, exception.ErrNoEligibleFund)
	requireConservation(t, coord)
}

func TestSubmitZeroDeltaKeepsKey(t *testing.T) {
	coord, _ := newTestCoordinator(t)

	signal := targeted("beta", "AAPL", "0")
	_, err := coord.Submit(t.Context(), signal)
	require.ErrorIs(t, err, exception.ErrZeroQuantityDelta)

	// Rejected input must not burn the key: the corrected resubmission
	// reuses it.
	signal.QuantityDelta = dec("10")
	_, err = coord.Submit(t.Context(), signal)
	require.NoError(t, err)
}

func TestSnapshotCadence(t *testing.T) {
	f := newFixture()
	f.cfg.SnapshotEvery = 2
	coord := f.coordinator(t)

	_, err := coord.Submit(t.Context(), targeted("beta", "AAPL", "10"))
	require.NoError(t, err)
	snap, ok, err := f.store.LatestSnapshot(t.Context())
	require.NoError(t, err)
	require.False(t, ok, "one commit is below the cadence")

	_, err = coord.Submit(t.Context(), targeted("beta", "AAPL", "10"))
	require.NoError(t, err)
	snap, ok, err = f.store.LatestSnapshot(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), snap.LastSeq)
}

func TestSnapshotCounterConcurrent(t *testing.T) {
	f := newFixture()
	f.cfg.SnapshotEvery = 1
	coord := f.coordinator(t)

	// Commits on independent instruments advance the shared counter from
	// concurrent goroutines.
	var wg sync.WaitGroup
	for range 8 {
		for _, instrument := range []string{"AAPL", "MSFT"} {
			signal := targeted("beta", instrument, "10")
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := coord.Submit(t.Context(), signal)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()

	_, ok, err := f.store.LatestSnapshot(t.Context())
	require.NoError(t, err)
	require.True(t, ok)
	requireConservation(t, coord)
}

type failingAppendStore struct {
	journal.Store
	fail bool
}

func (s *failingAppendStore) AppendTrade(ctx context.Context, record schema.TradeRecord) error {
	if s.fail {
		return errors.New("journal unavailable")
	}
	return s.Store.AppendTrade(ctx, record)
}

func TestSubmitJournalFailureAnnotatesRecords(t *testing.T) {
	f := newFixture()
	store := &failingAppendStore{Store: f.store}
	coord, err := Recover(t.Context(), f.cfg, f.gate, f.sim, store, f.dir, f.metrics)
	require.NoError(t, err)

	_, err = coord.Submit(t.Context(), targeted("beta", "AAPL", "100"))
	require.NoError(t, err)

	store.fail = true
	records, err := coord.Submit(t.Context(), targeted("beta", "AAPL", "50"))
	require.NoError(t, err, "a committed trade is never reported as a rejection")
	require.Len(t, records, 1)
	assert.True(t, records[0].Unjournaled())

	// The ledger moved even though the journal did not.
	pos, ok := coord.Book().Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("150")))
	journaled, err := f.store.TradesSince(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, journaled, 1)
	requireConservation(t, coord)
}

func TestProRataSplitRemainder(t *testing.T) {
	allocations := map[string]decimal.Decimal{
		"alpha": dec("1"),
		"beta":  dec("1"),
		"gamma": dec("1"),
	}

	shares := proRataSplit(allocations, dec("1"))
	total := decimal.Zero
	for _, share := range shares {
		total = total.Add(share)
	}
	require.True(t, total.Equal(dec("1")), "shares must sum exactly, got %s", total)
	assert.True(t, shares["alpha"].Equal(dec("0.33333333")))
	assert.True(t, shares["beta"].Equal(dec("0.33333333")))
	assert.True(t, shares["gamma"].Equal(dec("0.33333334")), "last fund absorbs the remainder")
}
