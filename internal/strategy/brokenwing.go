package strategy

import (
	"math"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
)

// PolarityIndex measures where gamma sits relative to price, in [-1, 1].
// Positive means most |GEX| is above price.
func PolarityIndex(peaks []models.GEXPeak, price float64) float64 {
	var num, den float64
	for _, p := range peaks {
		w := math.Abs(p.GEX)
		den += w
		switch {
		case p.Strike > price:
			num += w
		case p.Strike < price:
			num -= w
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// applyBrokenWing skews the condor wings toward the side gamma pulls to.
// Positive polarity narrows the call wing and widens the put wing.
func applyBrokenWing(call, put models.Vertical, gpi float64, cfg config.BrokenWingConfig, increment float64) (models.Vertical, models.Vertical, bool) {
	if math.Abs(gpi) < cfg.Threshold {
		return call, put, false
	}
	adj := cfg.Adjustment
	if gpi < 0 {
		adj = -adj
	}
	callWidth := math.Max(increment, call.Width()-adj)
	putWidth := math.Max(increment, put.Width()+adj)
	call.LongStrike = call.ShortStrike + callWidth
	put.LongStrike = put.ShortStrike - putWidth
	return call, put, true
}
