package strategy

import (
	"math"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
)

// LegQuotes holds the short and long quotes of one vertical.
type LegQuotes struct {
	Short models.Quote
	Long  models.Quote
}

// EntryCredit is the credit received for selling every vertical: short bid
// minus long ask, less slippage on both legs.
func EntryCredit(legs []LegQuotes, slippagePerLeg float64) float64 {
	credit := 0.0
	for _, l := range legs {
		credit += l.Short.Bid - l.Long.Ask - 2*slippagePerLeg
	}
	return credit
}

// CostToClose is the debit paid to buy back every vertical: short ask minus
// long bid. It never goes below zero.
func CostToClose(legs []LegQuotes) float64 {
	cost := 0.0
	for _, l := range legs {
		cost += l.Short.Ask - l.Long.Bid
	}
	return math.Max(0, cost)
}
