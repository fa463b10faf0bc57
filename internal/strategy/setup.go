// Package strategy holds the trade-setup and exit decision logic shared by
// the replay harness and the live signal.
package strategy

import (
	"fmt"
	"math"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/util"
)

// Market is what a proposer sees at one tick for one pin.
type Market struct {
	Price float64
	VIX   float64
	Pin   models.GEXPeak
	// Peaks are the top-ranked peaks at this tick, used for the polarity index.
	Peaks []models.GEXPeak
}

// SetupProposer turns a market view into a trade setup or a SKIP.
type SetupProposer interface {
	Propose(m Market) models.Setup
}

// GEXPinStrategy sells credit spreads on the far side of a GEX pin.
type GEXPinStrategy struct {
	config *config.StrategyConfig
}

var _ SetupProposer = (*GEXPinStrategy)(nil)

// NewGEXPinStrategy creates a proposer from validated strategy settings.
func NewGEXPinStrategy(cfg *config.StrategyConfig) *GEXPinStrategy {
	return &GEXPinStrategy{config: cfg}
}

func skip(m Market, band models.Band, reason string) models.Setup {
	return models.Setup{
		Strategy:    models.SpreadSkip,
		Band:        band,
		Distance:    m.Price - m.Pin.Strike,
		PinStrike:   m.Pin.Strike,
		PeakRank:    m.Pin.Rank,
		Description: reason,
	}
}

// Classify returns the distance band for price versus pin.
func (s *GEXPinStrategy) Classify(price, pin float64) models.Band {
	d := math.Abs(price - pin)
	b := s.config.Bands
	switch {
	case d <= b.Near:
		return models.BandNear
	case d <= b.Moderate:
		return models.BandModerate
	case d <= b.Far:
		return models.BandFar
	default:
		return models.BandTooFar
	}
}

// SpreadWidth returns the width for vix from the first matching rule.
func (s *GEXPinStrategy) SpreadWidth(vix float64) float64 {
	rules := s.config.SpreadWidths
	for _, r := range rules {
		if r.MaxVIX == 0 || vix < r.MaxVIX {
			return r.Width
		}
	}
	return rules[len(rules)-1].Width
}

// Offset returns the distance of the short strike beyond the price/pin pair.
func (s *GEXPinStrategy) Offset(vix float64, band models.Band) float64 {
	scale := math.Max(1, vix/s.config.VIXReference)
	off := s.config.Offset() * scale
	if band == models.BandFar {
		off *= s.config.FarMultiplier
	}
	return off
}

func (s *GEXPinStrategy) callVertical(price, pin, offset, width float64) models.Vertical {
	short := util.CeilToTick(math.Max(price, pin)+offset, s.config.StrikeIncrement)
	return models.Vertical{Type: models.Call, ShortStrike: short, LongStrike: short + width}
}

func (s *GEXPinStrategy) putVertical(price, pin, offset, width float64) models.Vertical {
	short := util.FloorToTick(math.Min(price, pin)-offset, s.config.StrikeIncrement)
	return models.Vertical{Type: models.Put, ShortStrike: short, LongStrike: short - width}
}

// Propose builds the setup for one pin. It never returns an invalid setup for
// validated settings; callers still run Setup.Validate before trading.
func (s *GEXPinStrategy) Propose(m Market) models.Setup {
	if m.VIX >= s.config.VIXCeiling {
		return skip(m, "", fmt.Sprintf("VIX %.2f at or above ceiling %.2f", m.VIX, s.config.VIXCeiling))
	}
	if m.Price <= 0 || m.Pin.Strike <= 0 {
		return skip(m, "", "missing price or pin")
	}

	band := s.Classify(m.Price, m.Pin.Strike)
	if band == models.BandTooFar {
		return skip(m, band, fmt.Sprintf("price %.2f too far from pin %.2f", m.Price, m.Pin.Strike))
	}

	offset := s.Offset(m.VIX, band)
	width := s.SpreadWidth(m.VIX)
	setup := models.Setup{
		Band:      band,
		Distance:  m.Price - m.Pin.Strike,
		PinStrike: m.Pin.Strike,
		PeakRank:  m.Pin.Rank,
	}

	switch {
	case band == models.BandNear:
		setup.Strategy = models.SpreadIronCondor
		call := s.callVertical(m.Price, m.Pin.Strike, offset, width)
		put := s.putVertical(m.Price, m.Pin.Strike, offset, width)
		if bw := s.config.BrokenWing; bw.Enabled && hasRank(m.Peaks, 2) {
			gpi := PolarityIndex(m.Peaks, m.Price)
			call, put, setup.BrokenWing = applyBrokenWing(call, put, gpi, bw, s.config.StrikeIncrement)
		}
		setup.Verticals = []models.Vertical{call, put}
		setup.Description = fmt.Sprintf("IC %.0f/%.0f %.0f/%.0f pin %.0f",
			put.LongStrike, put.ShortStrike, call.ShortStrike, call.LongStrike, m.Pin.Strike)
	case m.Price > m.Pin.Strike:
		setup.Strategy = models.SpreadCall
		v := s.callVertical(m.Price, m.Pin.Strike, offset, width)
		setup.Verticals = []models.Vertical{v}
		setup.Description = fmt.Sprintf("CALL %.0f/%.0f pin %.0f (%s)", v.ShortStrike, v.LongStrike, m.Pin.Strike, band)
	default:
		setup.Strategy = models.SpreadPut
		v := s.putVertical(m.Price, m.Pin.Strike, offset, width)
		setup.Verticals = []models.Vertical{v}
		setup.Description = fmt.Sprintf("PUT %.0f/%.0f pin %.0f (%s)", v.ShortStrike, v.LongStrike, m.Pin.Strike, band)
	}
	return setup
}

func hasRank(peaks []models.GEXPeak, rank int) bool {
	for _, p := range peaks {
		if p.Rank == rank {
			return true
		}
	}
	return false
}
