// Package storetest holds the conformance checks every snapshot store must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
)

// Base is the first recorded instant of the fixture (10:00 EST).
var Base = time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC)

// Seed loads a small fixture: snapshots at Base, Base+1m and Base+2m (the
// middle one without VIX), rank 1 and 2 peaks at Base and a rank 1 update at
// Base+2m, and call quotes at Base and Base+2m.
func Seed(t *testing.T, w storage.SnapshotWriter) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, w.InsertSnapshots(ctx, []models.MarketSnapshot{
		{Symbol: "SPX", Timestamp: Base, Price: 6000, VIX: 16},
		{Symbol: "SPX", Timestamp: Base.Add(time.Minute), Price: 6001},
		{Symbol: "SPX", Timestamp: Base.Add(2 * time.Minute), Price: 6002, VIX: 17},
	}))
	require.NoError(t, w.InsertPeaks(ctx, []models.GEXPeak{
		{Symbol: "SPX", Timestamp: Base, Rank: 1, Strike: 6010, GEX: 1.5e9},
		{Symbol: "SPX", Timestamp: Base, Rank: 2, Strike: 5990, GEX: -0.8e9},
		{Symbol: "SPX", Timestamp: Base.Add(2 * time.Minute), Rank: 1, Strike: 6015, GEX: 1.7e9},
	}))
	require.NoError(t, w.InsertQuotes(ctx, []models.OptionQuote{
		{Symbol: "SPX", Timestamp: Base, Strike: 6035, Type: models.Call, Bid: 3.10, Ask: 3.30},
		{Symbol: "SPX", Timestamp: Base.Add(2 * time.Minute), Strike: 6035, Type: models.Call, Bid: 4.00, Ask: 4.20},
		{Symbol: "SPX", Timestamp: Base, Strike: 6035, Type: models.Put, Bid: 0.10, Ask: 0.15},
	}))
}

// Run exercises the at-or-before contract against a store seeded with Seed.
func Run(t *testing.T, s storage.SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("exact match", func(t *testing.T) {
		snap, err := s.PriceAt(ctx, "SPX", Base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 6001.0, snap.Price)
		assert.True(t, snap.Timestamp.Equal(Base.Add(time.Minute)))
	})

	t.Run("forward fill between records", func(t *testing.T) {
		snap, err := s.PriceAt(ctx, "SPX", Base.Add(90*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 6001.0, snap.Price)
	})

	t.Run("nothing before first record", func(t *testing.T) {
		_, err := s.PriceAt(ctx, "SPX", Base.Add(-time.Second))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := s.PriceAt(ctx, "NDX", Base.Add(time.Hour))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("vix skips rows without vix", func(t *testing.T) {
		snap, err := s.VIXAt(ctx, "SPX", Base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 16.0, snap.VIX)
		assert.True(t, snap.Timestamp.Equal(Base))
	})

	t.Run("no lookahead for peaks", func(t *testing.T) {
		p, err := s.PeakAt(ctx, "SPX", Base.Add(2*time.Minute-time.Second), 1)
		require.NoError(t, err)
		assert.Equal(t, 6010.0, p.Strike, "the Base+2m update must not be visible yet")

		p, err = s.PeakAt(ctx, "SPX", Base.Add(2*time.Minute), 1)
		require.NoError(t, err)
		assert.Equal(t, 6015.0, p.Strike)

		p, err = s.PeakAt(ctx, "SPX", Base.Add(time.Hour), 2)
		require.NoError(t, err)
		assert.Equal(t, 5990.0, p.Strike)
		assert.Equal(t, -0.8e9, p.GEX)

		_, err = s.PeakAt(ctx, "SPX", Base.Add(time.Hour), 3)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("no lookahead for quotes", func(t *testing.T) {
		q, err := s.QuoteAt(ctx, "SPX", 6035, models.Call, Base.Add(119*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 3.10, q.Bid)
		assert.Equal(t, 3.30, q.Ask)
		assert.False(t, q.Timestamp.After(Base.Add(119*time.Second)))

		q, err = s.QuoteAt(ctx, "SPX", 6035, models.Call, Base.Add(5*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 4.00, q.Bid)
	})

	t.Run("quotes keyed by type and strike", func(t *testing.T) {
		q, err := s.QuoteAt(ctx, "SPX", 6035, models.Put, Base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0.10, q.Bid)

		_, err = s.QuoteAt(ctx, "SPX", 6040, models.Call, Base.Add(time.Minute))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("timestamps after start ascending", func(t *testing.T) {
		ts, err := s.TimestampsAfter(ctx, "SPX", Base.Add(30*time.Second), 10)
		require.NoError(t, err)
		require.Len(t, ts, 2)
		assert.True(t, ts[0].Equal(Base.Add(time.Minute)))
		assert.True(t, ts[1].Equal(Base.Add(2*time.Minute)))

		ts, err = s.TimestampsAfter(ctx, "SPX", Base, 1)
		require.NoError(t, err)
		require.Len(t, ts, 1)
		assert.True(t, ts[0].Equal(Base.Add(time.Minute)), "start itself is excluded")

		ts, err = s.TimestampsAfter(ctx, "SPX", Base.Add(2*time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, ts)
	})
}
