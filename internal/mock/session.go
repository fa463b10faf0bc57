// Package mock generates synthetic replay sessions: an index that drifts toward
// its GEX pin, a wandering VIX, and a 0DTE option grid priced from both.
package mock

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/clock"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage/stores"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/util"
)

const (
	quoteTick       = 0.05
	halfSpread      = 0.05
	minOptionPrice  = 0.05
	tradingMinutes  = 252 * 390
	pinPull         = 0.02
	minExpectedMove = 0.5
)

// Options tunes the generated market.
type Options struct {
	Seed       uint64  // 0 picks a random seed
	StartPrice float64 // index level at the first session
	VIX        float64 // VIX at the first session
	Strikes    int     // strikes quoted on each side of the money
}

// DefaultOptions is an SPX-like session.
var DefaultOptions = Options{StartPrice: 6000, VIX: 16, Strikes: 20}

// Generator produces a Fixture covering the replay window of a config.
type Generator struct {
	cfg   *config.Config
	opts  Options
	rng   *mrand.Rand
	price float64
	vix   float64
	pins  [3]float64
}

// NewGenerator validates cfg and seeds the random walk.
func NewGenerator(cfg *config.Config, opts Options) (*Generator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.StartPrice <= 0 {
		opts.StartPrice = DefaultOptions.StartPrice
	}
	if opts.VIX <= 0 {
		opts.VIX = DefaultOptions.VIX
	}
	if opts.Strikes <= 0 {
		opts.Strikes = DefaultOptions.Strikes
	}
	if opts.Seed == 0 {
		opts.Seed = secureSeed()
	}
	return &Generator{
		cfg:   cfg,
		opts:  opts,
		rng:   mrand.New(mrand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		price: opts.StartPrice,
		vix:   opts.VIX,
	}, nil
}

// secureSeed draws a seed from crypto/rand, falling back to the clock.
func secureSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// Seed returns the seed in use, so a run can be reproduced.
func (g *Generator) Seed() uint64 {
	return g.opts.Seed
}

// Generate walks every market-hours tick of the replay window.
func (g *Generator) Generate() (stores.Fixture, error) {
	schedule, err := clock.ScheduleFromConfig(g.cfg.Schedule)
	if err != nil {
		return stores.Fixture{}, err
	}
	clk, err := clock.NewManager(schedule, g.cfg.Replay.Start, g.cfg.Replay.End, g.cfg.Replay.Tick)
	if err != nil {
		return stores.Fixture{}, fmt.Errorf("replay window: %w", err)
	}

	var f stores.Fixture
	day := ""
	for ; clk.HasMoreData(); clk.Advance() {
		now := clk.Now()
		open, err := clk.IsMarketHours(now)
		if err != nil {
			return stores.Fixture{}, err
		}
		if !open {
			continue
		}
		if d := clk.TradingDay(now); d != day {
			day = d
			g.openSession()
		} else {
			g.step()
		}
		g.record(&f, now, minutesToClose(now, schedule))
	}
	return f, nil
}

func (g *Generator) increment() float64 {
	if inc := g.cfg.Strategy.StrikeIncrement; inc > 0 {
		return inc
	}
	return 5
}

// openSession gaps the index and picks the day's pins.
func (g *Generator) openSession() {
	inc := g.increment()
	g.price *= 1 + g.rng.NormFloat64()*0.004
	g.vix = clamp(g.vix+g.rng.NormFloat64(), 9, 60)
	g.pins[0] = util.RoundToTick(g.price+g.rng.NormFloat64()*10, inc)
	g.pins[1] = util.RoundToTick(g.pins[0]+(20+g.rng.Float64()*20)*sign(g.rng), inc)
	g.pins[2] = util.RoundToTick(g.pins[0]+(40+g.rng.Float64()*30)*sign(g.rng), inc)
}

// step moves the index one tick, pulled toward the rank 1 pin.
func (g *Generator) step() {
	vol := g.price * g.vix / 100 * math.Sqrt(g.cfg.Replay.Tick.Minutes()/tradingMinutes)
	g.price += pinPull*(g.pins[0]-g.price) + g.rng.NormFloat64()*vol
	g.vix = clamp(g.vix+g.rng.NormFloat64()*0.05, 9, 60)
}

func (g *Generator) record(f *stores.Fixture, now time.Time, remaining float64) {
	symbol := g.cfg.Replay.Symbol
	ts := now.UTC()
	price := math.Round(g.price*100) / 100
	vix := math.Round(g.vix*100) / 100

	f.Snapshots = append(f.Snapshots, models.MarketSnapshot{Symbol: symbol, Timestamp: ts, Price: price, VIX: vix})
	for i, pin := range g.pins {
		f.Peaks = append(f.Peaks, models.GEXPeak{
			Symbol:    symbol,
			Timestamp: ts,
			Rank:      i + 1,
			Strike:    pin,
			GEX:       float64(3-i) * 1e9,
		})
	}

	inc := g.increment()
	atm := util.RoundToTick(price, inc)
	move := math.Max(minExpectedMove, price*vix/100*math.Sqrt(remaining/tradingMinutes))
	for k := -g.opts.Strikes; k <= g.opts.Strikes; k++ {
		strike := atm + float64(k)*inc
		for _, typ := range []models.OptionType{models.Call, models.Put} {
			mid := OptionValue(price, strike, move, typ)
			f.Quotes = append(f.Quotes, models.OptionQuote{
				Symbol:    symbol,
				Timestamp: ts,
				Strike:    strike,
				Type:      typ,
				Bid:       math.Max(0, util.RoundToTick(mid-halfSpread, quoteTick)),
				Ask:       util.RoundToTick(mid+halfSpread, quoteTick),
			})
		}
	}
}

// OptionValue is intrinsic value plus a time value that peaks at the money
// and decays with distance in units of the expected move.
func OptionValue(price, strike, expectedMove float64, typ models.OptionType) float64 {
	intrinsic := math.Max(0, price-strike)
	if typ == models.Put {
		intrinsic = math.Max(0, strike-price)
	}
	z := (strike - price) / expectedMove
	timeValue := 0.4 * expectedMove * math.Exp(-0.5*z*z)
	return math.Max(minOptionPrice, intrinsic+timeValue)
}

func minutesToClose(now time.Time, s clock.Schedule) float64 {
	local := now.In(s.Location)
	m := float64(local.Hour()*60+local.Minute()) + float64(local.Second())/60
	return math.Max(0, float64(s.Close)-m)
}

func sign(r *mrand.Rand) float64 {
	if r.IntN(2) == 0 {
		return -1
	}
	return 1
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
