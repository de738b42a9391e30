package ledger

import (
	"testing"
	"time"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func commitOf(deltas map[string]decimal.Decimal, price string) Commit {
	return Commit{
		IdempotencyKey: uuid.New(),
		FundDeltas:     deltas,
		FillPrice:      dec(price),
		Currency:       "USD",
		VenueRef:       "SIM-000001",
		ExecutedAt:     time.Now().UTC(),
	}
}

func TestCommitConservation(t *testing.T) {
	book := NewBook()

	records, err := book.Commit("AAPL", commitOf(map[string]decimal.Decimal{
		"alpha": dec("60"),
		"beta":  dec("40"),
	}, "187.5"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	pos, ok := book.Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("100")))
	assert.True(t, pos.AvgEntryPrice.Equal(dec("187.5")))
	assert.Equal(t, "USD", pos.Currency)

	total := decimal.Zero
	for _, qty := range book.Allocations("AAPL") {
		total = total.Add(qty)
	}
	assert.True(t, total.Equal(pos.Quantity), "allocations must sum to venue position")
}

func TestCommitRecordsSortedWithMonotonicSeq(t *testing.T) {
	book := NewBook()

	records, err := book.Commit("AAPL", commitOf(map[string]decimal.Decimal{
		"zulu":  dec("10"),
		"alpha": dec("20"),
		"mike":  dec("30"),
	}, "100"))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "alpha", records[0].Fund)
	assert.Equal(t, "mike", records[1].Fund)
	assert.Equal(t, "zulu", records[2].Fund)
	for i, record := range records {
		assert.Equal(t, uint64(i+1), record.Seq)
		assert.Equal(t, schema.SchemaVersion, record.Version)
	}
	assert.Equal(t, uint64(3), book.LastSeq())
}

func TestCommitZeroCrossingSingleRecord(t *testing.T) {
	book := NewBook()

	_, err := book.Commit("AAPL", commitOf(map[string]decimal.Decimal{"alpha": dec("10")}, "100"))
	require.NoError(t, err)

	// 10 -> -10 in one commit: a single netted movement, not close+reopen.
	records, err := book.Commit("AAPL", commitOf(map[string]decimal.Decimal{"alpha": dec("-20")}, "110"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].QuantityDelta.Equal(dec("-20")))
	assert.True(t, records[0].Allocation.Equal(dec("-10")))

	pos, ok := book.Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("-10")))
	assert.True(t, pos.AvgEntryPrice.Equal(dec("110")), "flip reopens at the fill price")
}

func TestCommitZeroAllocationRemoved(t *testing.T) {
	book := NewBook()

	_, err := book.Commit("AAPL", commitOf(map[string]decimal.Decimal{
		"alpha": dec("60"),
		"beta":  dec("40"),
	}, "100"))
	require.NoError(t, err)

	_, err = book.Commit("AAPL", commitOf(map[string]decimal.Decimal{"beta": dec("-40")}, "105"))
	require.NoError(t, err)

	allocs := book.Allocations("AAPL")
	require.Len(t, allocs, 1)
	_, closed := allocs["beta"]
	assert.False(t, closed, "zeroed allocation must leave the active set")

	// Closing the remainder removes the instrument entirely.
	_, err = book.Commit("AAPL", commitOf(map[string]decimal.Decimal{"alpha": dec("-60")}, "105"))
	require.NoError(t, err)
	_, ok := book.Position("AAPL")
	assert.False(t, ok)
	assert.Empty(t, book.Instruments())
}

func TestCommitEmptyRejected(t *testing.T) {
	book := NewBook()

	_, err := book.Commit("AAPL", commitOf(map[string]decimal.Decimal{}, "100"))
	require.ErrorIs(t, err, exception.ErrEmptyCommit)

	_, err = book.Commit("AAPL", commitOf(map[string]decimal.Decimal{"alpha": decimal.Zero}, "100"))
	require.ErrorIs(t, err, exception.ErrEmptyCommit)
}

func TestNextAvgEntry(t *testing.T) {
	testCases := []struct {
		desc     string
		current  VenuePosition
		net      string
		fill     string
		expected string
	}{
		{"open long", VenuePosition{}, "10", "100", "100"},
		{"increase long", VenuePosition{Quantity: dec("10"), AvgEntryPrice: dec("100")}, "10", "110", "105"},
		{"reduce keeps basis", VenuePosition{Quantity: dec("10"), AvgEntryPrice: dec("100")}, "-4", "120", "100"},
		{"flip reopens at fill", VenuePosition{Quantity: dec("10"), AvgEntryPrice: dec("100")}, "-25", "90", "90"},
		{"close zeroes basis", VenuePosition{Quantity: dec("10"), AvgEntryPrice: dec("100")}, "-10", "95", "0"},
		{"increase short", VenuePosition{Quantity: dec("-10"), AvgEntryPrice: dec("100")}, "-10", "90", "95"},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := nextAvgEntry(tc.current, dec(tc.net), dec(tc.fill))
			assert.True(t, got.Equal(dec(tc.expected)), "got %s, expected %s", got, tc.expected)
		})
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	book := NewBook()
	_, err := book.Commit("AAPL", commitOf(map[string]decimal.Decimal{
		"alpha": dec("60"),
		"beta":  dec("40"),
	}, "187.5"))
	require.NoError(t, err)
	_, err = book.Commit("MSFT", commitOf(map[string]decimal.Decimal{"alpha": dec("-30")}, "410"))
	require.NoError(t, err)

	snapshot := book.Snapshot()
	assert.Equal(t, book.LastSeq(), snapshot.LastSeq)

	restored := NewBook()
	restored.ApplySnapshot(snapshot)
	require.NoError(t, CompareSnapshots(snapshot, restored.Snapshot()))
}

func TestRecoverSnapshotPlusReplay(t *testing.T) {
	source := NewBook()
	_, err := source.Commit("AAPL", commitOf(map[string]decimal.Decimal{
		"alpha": dec("60"),
		"beta":  dec("40"),
	}, "100"))
	require.NoError(t, err)

	snapshot := source.Snapshot()

	tail, err := source.Commit("AAPL", commitOf(map[string]decimal.Decimal{
		"alpha": dec("-30"),
		"beta":  dec("-20"),
	}, "105"))
	require.NoError(t, err)

	// Records at or below the snapshot seq must be skipped on replay.
	replay := make([]schema.TradeRecord, 0, 4)
	replay = append(replay, schema.TradeRecord{Seq: 1, Instrument: "AAPL", Fund: "alpha", QuantityDelta: dec("60"), Allocation: dec("60")})
	replay = append(replay, tail...)

	recovered, err := Recover(&snapshot, replay)
	require.NoError(t, err)
	require.NoError(t, CompareSnapshots(source.Snapshot(), recovered.Snapshot()))

	pos, ok := recovered.Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("50")))
	assert.True(t, recovered.Allocation("AAPL", "alpha").Equal(dec("30")))
	assert.True(t, recovered.Allocation("AAPL", "beta").Equal(dec("20")))
}

func TestRecoverFromRecordsOnly(t *testing.T) {
	source := NewBook()
	_, err := source.Commit("AAPL", commitOf(map[string]decimal.Decimal{"alpha": dec("10")}, "100"))
	require.NoError(t, err)
	more, err := source.Commit("AAPL", commitOf(map[string]decimal.Decimal{"alpha": dec("-20")}, "110"))
	require.NoError(t, err)

	first := schema.TradeRecord{
		Seq: 1, Instrument: "AAPL", Fund: "alpha",
		QuantityDelta: dec("10"), FillPrice: dec("100"), Allocation: dec("10"),
	}

	recovered, err := Recover(nil, append([]schema.TradeRecord{first}, more...))
	require.NoError(t, err)
	require.NoError(t, CompareSnapshots(source.Snapshot(), recovered.Snapshot()))
}
