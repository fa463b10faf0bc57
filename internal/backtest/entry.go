package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/marketdata"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/strategy"
)

// polarityRanks is how many ranked peaks feed the polarity index.
const polarityRanks = 3

// creditEpsilon keeps a credit that equals the minimum from being rejected on float noise.
const creditEpsilon = 1e-9

// Skip reasons reported to metrics.
const (
	skipClosed    = "market_closed"
	skipAutoClose = "auto_close"
	skipNoPrice   = "no_price"
	skipNoVIX     = "no_vix"
	skipVIXFilter = "vix_filter"
)

// Rejection reasons reported to metrics.
const (
	rejectMissingQuote = "missing_quote"
	rejectCredit       = "non_positive_credit"
	rejectMinCredit    = "min_credit"
)

// Gate is the index and VIX at one tick and whether they allow trading.
type Gate struct {
	Price  float64
	VIX    float64
	Skip   string // metrics label, empty when the tick may trade
	Reason string
}

// CheckGates reads the index price and VIX at now and applies the VIX range.
func CheckGates(ctx context.Context, cfg *config.Config, data marketdata.Provider, now time.Time) (Gate, error) {
	var g Gate
	price, ok, err := data.IndexPrice(ctx, cfg.Replay.Symbol, now)
	if err != nil {
		return g, fmt.Errorf("index price: %w", err)
	}
	if !ok {
		g.Skip, g.Reason = skipNoPrice, "no index price"
		return g, nil
	}
	g.Price = price

	vix, ok, err := data.VIX(ctx, now)
	if err != nil {
		return g, fmt.Errorf("vix: %w", err)
	}
	if !ok {
		g.Skip, g.Reason = skipNoVIX, "no vix"
		return g, nil
	}
	g.VIX = vix

	s := cfg.Strategy
	if vix < s.VIXFloor || vix > s.VIXCeiling {
		g.Skip = skipVIXFilter
		g.Reason = fmt.Sprintf("vix %.2f outside [%.2f, %.2f]", vix, s.VIXFloor, s.VIXCeiling)
	}
	return g, nil
}

// Candidate is the setup proposed for one ranked pin and how the entry
// filters judged it.
type Candidate struct {
	Rank      int          `json:"rank"`
	Pin       float64      `json:"pin"`
	Setup     models.Setup `json:"setup"`
	Credit    float64      `json:"credit"`
	Tradeable bool         `json:"tradeable"`
	Reason    string       `json:"reason,omitempty"`
	Rejection string       `json:"-"` // metrics label for a priced setup that failed
}

// Candidates proposes and prices a setup for every configured pin rank at
// now. Pins for which traded reports true are left out. A setup that fails a
// filter comes back with Tradeable false and the reason.
func Candidates(ctx context.Context, cfg *config.Config, data marketdata.Provider, proposer strategy.SetupProposer,
	now time.Time, gate Gate, traded func(rank int, strike float64) bool) ([]Candidate, error) {
	symbol := cfg.Replay.Symbol
	peaks, err := Peaks(ctx, data, symbol, now)
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, rank := range cfg.Strategy.PeakRanks {
		pin, ok, err := data.GEXPeak(ctx, symbol, now, rank)
		if err != nil {
			return nil, fmt.Errorf("peak rank %d: %w", rank, err)
		}
		if !ok || (traded != nil && traded(rank, pin.Strike)) {
			continue
		}

		c := Candidate{Rank: rank, Pin: pin.Strike}
		c.Setup = proposer.Propose(strategy.Market{Price: gate.Price, VIX: gate.VIX, Pin: pin, Peaks: peaks})
		if c.Setup.IsSkip() {
			c.Reason = c.Setup.Description
			out = append(out, c)
			continue
		}
		if err := c.Setup.Validate(); err != nil {
			return nil, fmt.Errorf("setup for rank %d pin %.2f: %w", rank, pin.Strike, err)
		}

		legs, ok, err := LegQuotes(ctx, data, symbol, c.Setup.Verticals, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			c.Rejection, c.Reason = rejectMissingQuote, "missing leg quote"
			out = append(out, c)
			continue
		}
		c.Credit = strategy.EntryCredit(legs, cfg.Strategy.Slippage())
		switch {
		case c.Credit <= 0:
			c.Rejection, c.Reason = rejectCredit, "non-positive credit"
		case c.Credit+creditEpsilon < cfg.Strategy.MinCredit:
			c.Rejection = rejectMinCredit
			c.Reason = fmt.Sprintf("credit below minimum %.2f", cfg.Strategy.MinCredit)
		default:
			c.Tradeable = true
		}
		out = append(out, c)
	}
	return out, nil
}

// Peaks returns the ranked peaks that feed the polarity index.
func Peaks(ctx context.Context, data marketdata.Provider, symbol string, now time.Time) ([]models.GEXPeak, error) {
	var out []models.GEXPeak
	for rank := 1; rank <= polarityRanks; rank++ {
		p, ok, err := data.GEXPeak(ctx, symbol, now, rank)
		if err != nil {
			return nil, fmt.Errorf("peak rank %d: %w", rank, err)
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// LegQuotes fetches both legs of every vertical. ok is false when any quote is missing.
func LegQuotes(ctx context.Context, data marketdata.Provider, symbol string, verticals []models.Vertical, now time.Time) ([]strategy.LegQuotes, bool, error) {
	legs := make([]strategy.LegQuotes, 0, len(verticals))
	for _, v := range verticals {
		short, ok, err := data.OptionQuote(ctx, symbol, v.ShortStrike, v.Type, now)
		if err != nil || !ok {
			return nil, false, err
		}
		long, ok, err := data.OptionQuote(ctx, symbol, v.LongStrike, v.Type, now)
		if err != nil || !ok {
			return nil, false, err
		}
		legs = append(legs, strategy.LegQuotes{Short: short, Long: long})
	}
	return legs, true, nil
}
