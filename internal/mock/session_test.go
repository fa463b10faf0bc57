package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage/memory"
)

func sessionConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Replay: config.ReplayConfig{
			Symbol: "SPX",
			// Friday 09:00 to Monday 10:00 New York; the weekend is skipped.
			Start: time.Date(2025, 1, 3, 14, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 1, 6, 15, 0, 0, 0, time.UTC),
			Tick:  5 * time.Minute,
		},
		Schedule: config.ScheduleConfig{EntryTimes: []string{"10:00"}},
		Account:  config.AccountConfig{StartingBalance: 10000},
		Strategy: config.StrategyConfig{VIXFloor: 12, VIXCeiling: 30, MinCredit: 0.5},
		Exit:     config.ExitConfig{StopLossPct: 0.5, ProfitTargetPct: 0.5},
		Storage:  config.StorageConfig{Driver: "memory"},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestGenerate_Shape(t *testing.T) {
	cfg := sessionConfig(t)
	g, err := NewGenerator(cfg, Options{Seed: 42, Strikes: 4})
	require.NoError(t, err)

	f, err := g.Generate()
	require.NoError(t, err)

	// Friday 09:30-16:00 is 78 five-minute ticks; Monday 09:30-10:00 is 6.
	require.Len(t, f.Snapshots, 84)
	assert.Len(t, f.Peaks, 84*3)
	assert.Len(t, f.Quotes, 84*9*2)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 3, 9, 30, 0, 0, ny).UTC(), f.Snapshots[0].Timestamp)
	assert.Equal(t, time.Date(2025, 1, 6, 9, 30, 0, 0, ny).UTC(), f.Snapshots[78].Timestamp)

	for _, q := range f.Quotes {
		assert.GreaterOrEqual(t, q.Bid, 0.0)
		assert.Greater(t, q.Ask, q.Bid, "strike %.0f %s", q.Strike, q.Type)
	}
	for _, p := range f.Peaks {
		assert.Zero(t, int(p.Strike)%5, "pins sit on the strike grid")
	}
}

func TestGenerate_SeedIsReproducible(t *testing.T) {
	cfg := sessionConfig(t)

	a, err := NewGenerator(cfg, Options{Seed: 7, Strikes: 2})
	require.NoError(t, err)
	b, err := NewGenerator(cfg, Options{Seed: 7, Strikes: 2})
	require.NoError(t, err)

	fa, err := a.Generate()
	require.NoError(t, err)
	fb, err := b.Generate()
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	c, err := NewGenerator(cfg, Options{Strikes: 2})
	require.NoError(t, err)
	assert.NotZero(t, c.Seed())
}

func TestGenerate_ImportsIntoStore(t *testing.T) {
	cfg := sessionConfig(t)
	g, err := NewGenerator(cfg, Options{Seed: 1})
	require.NoError(t, err)
	f, err := g.Generate()
	require.NoError(t, err)

	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.InsertSnapshots(ctx, f.Snapshots))
	require.NoError(t, store.InsertPeaks(ctx, f.Peaks))
	require.NoError(t, store.InsertQuotes(ctx, f.Quotes))

	last := f.Snapshots[len(f.Snapshots)-1]
	snap, err := store.PriceAt(ctx, "SPX", last.Timestamp.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, last.Price, snap.Price)
}

func TestNewGenerator_NilConfig(t *testing.T) {
	_, err := NewGenerator(nil, Options{})
	assert.Error(t, err)
}

func TestOptionValue(t *testing.T) {
	tests := []struct {
		name   string
		strike float64
		typ    models.OptionType
		want   float64
	}{
		{"atm call", 6000, models.Call, 4},
		{"atm put", 6000, models.Put, 4},
		{"deep itm call", 5900, models.Call, 100},
		{"deep itm put", 6100, models.Put, 100},
		{"deep otm floors", 6100, models.Call, minOptionPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, OptionValue(6000, tt.strike, 10, tt.typ), 1e-6)
		})
	}
}
