package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/marketdata"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/observability"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/sizing"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage/memory"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/strategy"
)

var ny = mustLoad("America/New_York")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// at returns a time on Monday 2025-01-06 in exchange time; day offsets move it.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, 1, 6+day, hour, minute, 0, 0, ny)
}

func testConfig() *config.Config {
	return &config.Config{
		Replay: config.ReplayConfig{
			Symbol: "SPX",
			Start:  at(0, 9, 30),
			End:    at(0, 16, 0),
			Tick:   30 * time.Second,
		},
		Schedule: config.ScheduleConfig{EntryTimes: []string{"10:00"}},
		Account:  config.AccountConfig{StartingBalance: 10000},
		Strategy: config.StrategyConfig{
			VIXFloor:       12,
			VIXCeiling:     30,
			MinCredit:      0.5,
			SlippagePerLeg: config.Float(0.125),
		},
		Exit: config.ExitConfig{
			StopLossPct:     0.10,
			ProfitTargetPct: 0.50,
		},
		Storage: config.StorageConfig{Driver: "memory"},
	}
}

func quietLogger() logrus.FieldLogger {
	l, _ := logtest.NewNullLogger()
	return l
}

// fakeProvider serves a constant market unless a hook overrides it.
type fakeProvider struct {
	price  float64
	vix    float64
	peaks  map[int]float64
	quotes map[models.OptionType]map[float64]models.Quote

	peakHook  func(ts time.Time, rank int) (float64, bool)
	quoteHook func(ts time.Time) bool
	err       error
	closed    int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		price: 6020,
		vix:   16,
		peaks: map[int]float64{1: 6010},
		quotes: map[models.OptionType]map[float64]models.Quote{
			models.Call: {
				6035: {Bid: 1.40, Ask: 1.40},
				6040: {Bid: 0.60, Ask: 0.60},
			},
		},
	}
}

var _ marketdata.Provider = (*fakeProvider)(nil)

func (f *fakeProvider) IndexPrice(_ context.Context, _ string, _ time.Time) (float64, bool, error) {
	if f.err != nil {
		return 0, false, f.err
	}
	return f.price, f.price > 0, nil
}

func (f *fakeProvider) VIX(_ context.Context, _ time.Time) (float64, bool, error) {
	return f.vix, f.vix > 0, nil
}

func (f *fakeProvider) GEXPeak(_ context.Context, symbol string, ts time.Time, rank int) (models.GEXPeak, bool, error) {
	strike, ok := f.peaks[rank]
	if f.peakHook != nil {
		strike, ok = f.peakHook(ts, rank)
	}
	if !ok {
		return models.GEXPeak{}, false, nil
	}
	return models.GEXPeak{Symbol: symbol, Timestamp: ts, Rank: rank, Strike: strike, GEX: 1e9}, true, nil
}

func (f *fakeProvider) OptionQuote(_ context.Context, _ string, strike float64, optType models.OptionType, ts time.Time) (models.Quote, bool, error) {
	if f.quoteHook != nil && !f.quoteHook(ts) {
		return models.Quote{}, false, nil
	}
	q, ok := f.quotes[optType][strike]
	return q, ok, nil
}

func (f *fakeProvider) FutureTimestamps(context.Context, string, time.Time, int) ([]time.Time, error) {
	return nil, nil
}

func (f *fakeProvider) Close() error {
	f.closed++
	return nil
}

type proposerFunc func(strategy.Market) models.Setup

func (p proposerFunc) Propose(m strategy.Market) models.Setup { return p(m) }

// seedDay records a 10:00 snapshot, a rank 1 pin and call quotes for the
// 6035/6040 vertical into a memory store.
func seedDay(t *testing.T, vix float64, quotes map[time.Time][2]models.Quote) *memory.Store {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.InsertSnapshots(ctx, []models.MarketSnapshot{
		{Symbol: "SPX", Timestamp: at(0, 10, 0), Price: 6020, VIX: vix},
	}))
	require.NoError(t, store.InsertPeaks(ctx, []models.GEXPeak{
		{Symbol: "SPX", Timestamp: at(0, 10, 0), Rank: 1, Strike: 6010, GEX: 1.2e9},
	}))
	var rows []models.OptionQuote
	for ts, q := range quotes {
		rows = append(rows,
			models.OptionQuote{Symbol: "SPX", Timestamp: ts, Strike: 6035, Type: models.Call, Bid: q[0].Bid, Ask: q[0].Ask},
			models.OptionQuote{Symbol: "SPX", Timestamp: ts, Strike: 6040, Type: models.Call, Bid: q[1].Bid, Ask: q[1].Ask},
		)
	}
	require.NoError(t, store.InsertQuotes(ctx, rows))
	return store
}

func replay(t *testing.T, cfg *config.Config, store *memory.Store, opts ...Option) *Result {
	t.Helper()
	data, err := marketdata.NewReplayProvider(store, cfg.Replay.Symbol)
	require.NoError(t, err)
	defer data.Close()

	h, err := New(cfg, data, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	res, err := h.Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestScenario_ModerateCallEntry(t *testing.T) {
	cfg := testConfig()
	cfg.Replay.End = at(0, 10, 0).Add(30 * time.Second)
	store := seedDay(t, 16, map[time.Time][2]models.Quote{
		at(0, 10, 0): {{Bid: 1.40, Ask: 1.50}, {Bid: 0.55, Ask: 0.60}},
	})

	res := replay(t, cfg, store)

	require.Len(t, res.OpenTrades, 1)
	assert.Empty(t, res.ClosedTrades)
	tr := res.OpenTrades[0]
	assert.Equal(t, models.SpreadCall, tr.SpreadType)
	assert.Greater(t, tr.ShortStrike, 6010.0)
	assert.Equal(t, 6035.0, tr.ShortStrike)
	assert.Equal(t, tr.ShortStrike+5, tr.LongStrike)
	// 1.40 - 0.60 - 2 x 0.125
	assert.InDelta(t, 0.55, tr.EntryCredit, 1e-9)
	assert.Equal(t, 16.0, tr.EntryVIX)
	assert.Equal(t, 1, tr.PeakRank)
	assert.True(t, tr.EntryTime.Equal(at(0, 10, 0)))
	assert.Equal(t, 1, res.Statistics.OpenTrades)
}

func TestScenario_VIXFilterBlocksEntry(t *testing.T) {
	for _, vix := range []float64{32, 11} {
		cfg := testConfig()
		store := seedDay(t, vix, map[time.Time][2]models.Quote{
			at(0, 10, 0): {{Bid: 1.40, Ask: 1.50}, {Bid: 0.55, Ask: 0.60}},
		})

		res := replay(t, cfg, store)

		assert.Empty(t, res.OpenTrades, "vix %.0f", vix)
		assert.Empty(t, res.ClosedTrades, "vix %.0f", vix)
		assert.Equal(t, 10000.0, res.Statistics.CurrentBalance)
	}
}

func TestScenario_StopLossBeforeProfitTarget(t *testing.T) {
	cfg := testConfig()
	cfg.Replay.End = at(0, 10, 5)
	store := seedDay(t, 16, map[time.Time][2]models.Quote{
		// credit 3.50 - 0.25 - 0.25 = 3.00
		at(0, 10, 0): {{Bid: 3.50, Ask: 3.60}, {Bid: 0.20, Ask: 0.25}},
		// cost 1.90: a 37% gain, short of the target
		at(0, 10, 0).Add(30 * time.Second): {{Bid: 2.00, Ask: 2.10}, {Bid: 0.20, Ask: 0.25}},
		// cost 3.30: a 10% loss
		at(0, 10, 1): {{Bid: 3.20, Ask: 3.30}, {Bid: 0, Ask: 0.05}},
	})

	res := replay(t, cfg, store)

	require.Len(t, res.ClosedTrades, 1)
	tr := res.ClosedTrades[0]
	assert.Equal(t, 3.0, tr.EntryCredit)
	assert.Equal(t, models.ExitStopLoss, tr.ExitReason)
	assert.True(t, tr.ExitTime.Equal(at(0, 10, 1)))
	assert.Equal(t, -30.0, *tr.PnLDollars)
	assert.InDelta(t, 1.90, tr.PeakValue, 1e-9, "peak keeps the best cost seen")
	assert.Equal(t, 9970.0, res.Statistics.CurrentBalance)
	assert.Empty(t, res.OpenTrades)
}

func TestScenario_EndOfDayExpiration(t *testing.T) {
	cfg := testConfig()
	cfg.Exit.StopLossPct = 1.0
	store := seedDay(t, 16, map[time.Time][2]models.Quote{
		at(0, 10, 0): {{Bid: 1.40, Ask: 1.40}, {Bid: 0.60, Ask: 0.60}},
	})

	res := replay(t, cfg, store)

	require.Len(t, res.ClosedTrades, 1)
	tr := res.ClosedTrades[0]
	assert.Equal(t, models.ExitExpiration, tr.ExitReason)
	assert.True(t, tr.ExitTime.Equal(at(0, 15, 30)), "closed at %s", tr.ExitTime)
	assert.InDelta(t, 0.80, *tr.ExitValue, 1e-9)
	assert.InDelta(t, -25.0, *tr.PnLDollars, 1e-6)
	assert.Empty(t, res.OpenTrades)
}

func newHarness(t *testing.T, cfg *config.Config, data marketdata.Provider, opts ...Option) *Harness {
	t.Helper()
	h, err := New(cfg, data, append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	return h
}

func stepUntil(t *testing.T, h *Harness, until time.Time) {
	t.Helper()
	for h.clock.Now().Before(until) {
		require.NoError(t, h.Step(context.Background()))
		h.clock.Advance()
	}
}

func TestHarness_SameTickEntryIsNotEvaluated(t *testing.T) {
	cfg := testConfig()
	data := newFakeProvider()
	h := newHarness(t, cfg, data)

	stepUntil(t, h, at(0, 10, 0))
	require.NoError(t, h.Step(context.Background()))
	open := h.state.OpenTrades()
	require.Len(t, open, 1, "cost 0.80 on credit 0.55 would stop out, but not on the entry tick")

	h.clock.Advance()
	require.NoError(t, h.Step(context.Background()))
	closed := h.state.ClosedTrades()
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitStopLoss, closed[0].ExitReason)
	assert.True(t, closed[0].ExitTime.Equal(at(0, 10, 0).Add(30*time.Second)))
}

func TestHarness_UsedPinGating(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.EntryTimes = []string{"10:00", "10:30", "11:00"}
	cfg.Exit.StopLossPct = 1.0
	data := newFakeProvider()
	data.peakHook = func(ts time.Time, rank int) (float64, bool) {
		if rank != 1 {
			return 0, false
		}
		if !ts.Before(at(0, 11, 0)) {
			return 6012, true
		}
		return 6010, true
	}

	res := replay2(t, cfg, data)

	trades := append(res.ClosedTrades, res.OpenTrades...)
	require.Len(t, trades, 2, "10:30 reuses the 10:00 pin; 11:00 has a new pin")
	assert.True(t, trades[0].EntryTime.Equal(at(0, 10, 0)))
	assert.True(t, trades[1].EntryTime.Equal(at(0, 11, 0)))
	assert.Equal(t, 6012.0, trades[1].PinStrike)
}

func TestHarness_RanksInOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Exit.StopLossPct = 1.0
	data := newFakeProvider()
	data.peaks = map[int]float64{1: 6010, 2: 6012}

	res := replay2(t, cfg, data)

	require.Len(t, res.ClosedTrades, 2)
	assert.Equal(t, 1, res.ClosedTrades[0].ID)
	assert.Equal(t, 1, res.ClosedTrades[0].PeakRank)
	assert.Equal(t, 2, res.ClosedTrades[1].PeakRank)
}

func TestHarness_UsedSetResetsEachDay(t *testing.T) {
	cfg := testConfig()
	cfg.Replay.End = at(1, 16, 0)
	cfg.Exit.StopLossPct = 1.0
	data := newFakeProvider()

	res := replay2(t, cfg, data)

	require.Len(t, res.ClosedTrades, 2)
	for i, tr := range res.ClosedTrades {
		assert.True(t, tr.EntryTime.Equal(at(i, 10, 0)))
		assert.Equal(t, models.ExitExpiration, tr.ExitReason)
		assert.True(t, tr.ExitTime.Equal(at(i, 15, 30)))
	}
}

func TestHarness_PriorDayTradeForceClosed(t *testing.T) {
	cfg := testConfig()
	// Hourly ticks from 10:00 never land in [15:30, 16:00).
	cfg.Replay.Start = at(0, 10, 0)
	cfg.Replay.End = at(1, 10, 30)
	cfg.Replay.Tick = time.Hour
	cfg.Exit.StopLossPct = 1.0
	data := newFakeProvider()

	res := replay2(t, cfg, data)

	require.Len(t, res.ClosedTrades, 1, "no entry on the tick that force-closes")
	tr := res.ClosedTrades[0]
	assert.Equal(t, models.ExitExpiration, tr.ExitReason)
	assert.True(t, tr.ExitTime.Equal(at(1, 10, 0)))
	assert.Empty(t, res.OpenTrades)
}

func TestHarness_ExpirationUsesLastMarkWithoutQuotes(t *testing.T) {
	cfg := testConfig()
	cfg.Exit.StopLossPct = 1.0
	data := newFakeProvider()
	data.quoteHook = func(ts time.Time) bool { return ts.Before(at(0, 10, 5)) }

	res := replay2(t, cfg, data)

	require.Len(t, res.ClosedTrades, 1)
	tr := res.ClosedTrades[0]
	assert.Equal(t, models.ExitExpiration, tr.ExitReason)
	assert.InDelta(t, 0.80, *tr.ExitValue, 1e-9)
}

func TestHarness_EntryRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeProvider, *config.Config)
	}{
		{"credit below minimum", func(_ *fakeProvider, c *config.Config) { c.Strategy.MinCredit = 0.60 }},
		{"non-positive credit", func(f *fakeProvider, _ *config.Config) {
			f.quotes[models.Call][6035] = models.Quote{Bid: 0.70, Ask: 0.75}
		}},
		{"missing long leg", func(f *fakeProvider, _ *config.Config) { delete(f.quotes[models.Call], 6040) }},
		{"no pin", func(f *fakeProvider, _ *config.Config) { f.peaks = map[int]float64{} }},
		{"no price", func(f *fakeProvider, _ *config.Config) { f.price = 0 }},
		{"no vix", func(f *fakeProvider, _ *config.Config) { f.vix = 0 }},
		{"too far from pin", func(f *fakeProvider, _ *config.Config) { f.price = 6100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			data := newFakeProvider()
			tt.mutate(data, cfg)

			res := replay2(t, cfg, data)

			assert.Empty(t, res.ClosedTrades)
			assert.Empty(t, res.OpenTrades)
		})
	}
}

func TestHarness_InvalidSetupAbortsRun(t *testing.T) {
	cfg := testConfig()
	bad := proposerFunc(func(m strategy.Market) models.Setup {
		return models.Setup{
			Strategy:  models.SpreadCall,
			PinStrike: m.Pin.Strike,
			Verticals: []models.Vertical{{Type: models.Call, ShortStrike: 6040, LongStrike: 6035}},
		}
	})
	h := newHarness(t, cfg, newFakeProvider(), WithProposer(bad))

	_, err := h.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidStrikeOrder)
}

func TestHarness_ProviderErrorAbortsRun(t *testing.T) {
	data := newFakeProvider()
	boom := errors.New("database is locked")
	data.err = boom
	h := newHarness(t, testConfig(), data)

	res, err := h.Run(context.Background())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
}

func TestHarness_Canceled(t *testing.T) {
	h := newHarness(t, testConfig(), newFakeProvider())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.Run(ctx)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_ConfigErrors(t *testing.T) {
	_, err := New(nil, newFakeProvider())
	assert.Error(t, err)

	_, err = New(testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Strategy.VIXFloor = 30
	_, err = New(cfg, newFakeProvider())
	assert.ErrorContains(t, err, "vix_floor")

	cfg = testConfig()
	cfg.Replay.End = cfg.Replay.Start
	_, err = New(cfg, newFakeProvider())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Replay.Tick = -time.Second
	_, err = New(cfg, newFakeProvider())
	assert.Error(t, err)
}

func TestHarness_SizerMetricsAndLogs(t *testing.T) {
	cfg := testConfig()
	cfg.Exit.StopLossPct = 1.0
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics("test", reg)
	require.NoError(t, err)
	logger, hook := logtest.NewNullLogger()

	h, err := New(cfg, newFakeProvider(),
		WithLogger(logger), WithMetrics(metrics), WithSizer(sizing.Fixed{N: 3}))
	require.NoError(t, err)
	res, err := h.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.ClosedTrades, 1)
	assert.Equal(t, 3, res.ClosedTrades[0].Quantity)
	assert.InDelta(t, -75.0, *res.ClosedTrades[0].PnLDollars, 1e-6)
	assert.Equal(t, h.RunID(), res.RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TradesOpened.WithLabelValues("CALL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TradesClosed.WithLabelValues("EXPIRATION")))
	assert.InDelta(t, 9925.0, testutil.ToFloat64(metrics.Balance), 1e-6)

	var opened bool
	for _, e := range hook.AllEntries() {
		if e.Data["trade_id"] == 1 && e.Level == logrus.InfoLevel {
			opened = true
			assert.Equal(t, h.RunID().String(), e.Data["run_id"])
		}
	}
	assert.True(t, opened, "expected trade log entries")
}

func TestResult_Record(t *testing.T) {
	cfg := testConfig()
	cfg.Replay.End = at(0, 10, 0).Add(30 * time.Second)
	data := newFakeProvider()
	data.peaks = map[int]float64{1: 6010, 2: 6012}
	cfg.Exit.StopLossPct = 1.0

	res := replay2(t, cfg, data)
	rec := res.Record("base", map[string]float64{"stop_loss_pct": 1}, at(0, 0, 0), at(0, 0, 1))

	assert.Equal(t, res.RunID.String(), rec.RunID)
	assert.Len(t, rec.Trades, 2)
	assert.Equal(t, "SPX", rec.Symbol)
	assert.Equal(t, 1.0, rec.Params["stop_loss_pct"])
}

func replay2(t *testing.T, cfg *config.Config, data marketdata.Provider) *Result {
	t.Helper()
	res, err := newHarness(t, cfg, data).Run(context.Background())
	require.NoError(t, err)
	return res
}
