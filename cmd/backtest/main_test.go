package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
)

const fixture = `{
  "snapshots": [{"symbol": "SPX", "timestamp": "2025-01-06T15:00:00Z", "price": 6020, "vix": 16}],
  "peaks": [{"symbol": "SPX", "timestamp": "2025-01-06T15:00:00Z", "rank": 1, "strike": 6010, "gex": 1.2e9}],
  "quotes": [
    {"symbol": "SPX", "timestamp": "2025-01-06T15:00:00Z", "strike": 6035, "type": "CALL", "bid": 1.4, "ask": 1.4},
    {"symbol": "SPX", "timestamp": "2025-01-06T15:00:00Z", "strike": 6040, "type": "CALL", "bid": 0.6, "ask": 0.6}
  ]
}`

func backtestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Replay: config.ReplayConfig{
			Symbol: "SPX",
			Start:  time.Date(2025, 1, 6, 14, 30, 0, 0, time.UTC),
			End:    time.Date(2025, 1, 6, 21, 0, 0, 0, time.UTC),
			Tick:   time.Minute,
		},
		Schedule: config.ScheduleConfig{EntryTimes: []string{"10:00"}},
		Account:  config.AccountConfig{StartingBalance: 10000},
		Strategy: config.StrategyConfig{
			VIXFloor:       12,
			VIXCeiling:     30,
			MinCredit:      0.5,
			SlippagePerLeg: config.Float(0.125),
		},
		Exit:    config.ExitConfig{StopLossPct: 1.0, ProfitTargetPct: 0.50},
		Storage: config.StorageConfig{
			Driver:      "memory",
			ResultsPath: filepath.Join(t.TempDir(), "results.json"),
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.json")
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))
	return path
}

func TestRun_SingleWithImport(t *testing.T) {
	cfg := backtestConfig(t)
	logger, _ := logtest.NewNullLogger()

	err := run(context.Background(), cfg, options{importPath: writeFixture(t), label: "smoke", parallel: 1}, logger)
	require.NoError(t, err)

	results, err := storage.NewResultStore(cfg.Storage.ResultsPath)
	require.NoError(t, err)
	runs := results.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "smoke", runs[0].Label)
	require.Len(t, runs[0].Trades, 1)
	tr := runs[0].Trades[0]
	assert.Equal(t, models.StatusClosed, tr.Status)
	assert.Equal(t, models.ExitExpiration, tr.ExitReason)
	assert.InDelta(t, 0.55, tr.EntryCredit, 1e-9)
}

func TestRun_Grid(t *testing.T) {
	cfg := backtestConfig(t)
	logger, _ := logtest.NewNullLogger()

	err := run(context.Background(), cfg, options{importPath: writeFixture(t), grid: "min_credit=0.5,0.6", parallel: 2}, logger)
	require.NoError(t, err)

	results, err := storage.NewResultStore(cfg.Storage.ResultsPath)
	require.NoError(t, err)
	trades := map[string]int{}
	for _, r := range results.Runs() {
		trades[r.Label] = len(r.Trades)
	}
	assert.Equal(t, map[string]int{"min_credit=0.5": 1, "min_credit=0.6": 0}, trades)
}

func TestRun_BadGrid(t *testing.T) {
	cfg := backtestConfig(t)
	logger, _ := logtest.NewNullLogger()
	assert.Error(t, run(context.Background(), cfg, options{grid: "nonsense"}, logger))
}

func TestProviderFactory_MissingFixture(t *testing.T) {
	cfg := backtestConfig(t)
	logger, _ := logtest.NewNullLogger()
	_, _, err := providerFactory(context.Background(), cfg, options{importPath: filepath.Join(t.TempDir(), "nope.json")}, logger)
	assert.ErrorContains(t, err, "opening fixture")
}

func TestRun_Synthetic(t *testing.T) {
	cfg := backtestConfig(t)
	logger, _ := logtest.NewNullLogger()

	require.NoError(t, run(context.Background(), cfg, options{synthetic: true, seed: 3, parallel: 1}, logger))

	results, err := storage.NewResultStore(cfg.Storage.ResultsPath)
	require.NoError(t, err)
	runs := results.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, "base", runs[0].Label)
	for _, tr := range runs[0].Trades {
		assert.Equal(t, models.StatusClosed, tr.Status, "every 0DTE trade is closed by the end of the day")
	}
}
