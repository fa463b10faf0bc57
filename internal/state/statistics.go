package state

import (
	"github.com/shopspring/decimal"
)

// Statistics summarizes a run. WinRate is a fraction in [0, 1]; ReturnPct and
// MaxDrawdownPct are percentages.
type Statistics struct {
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	BreakEvenTrades int     `json:"break_even_trades"`
	OpenTrades      int     `json:"open_trades"`
	WinRate         float64 `json:"win_rate"`
	TotalPnL        float64 `json:"total_pnl"`
	AvgWin          float64 `json:"avg_win"`
	AvgLoss         float64 `json:"avg_loss"`
	MaxWin          float64 `json:"max_win"`
	MaxLoss         float64 `json:"max_loss"`
	ProfitFactor    float64 `json:"profit_factor"`
	StartingBalance float64 `json:"starting_balance"`
	CurrentBalance  float64 `json:"current_balance"`
	PeakBalance     float64 `json:"peak_balance"`
	MaxDrawdown     float64 `json:"max_drawdown"`
	MaxDrawdownPct  float64 `json:"max_drawdown_pct"`
	ReturnPct       float64 `json:"return_pct"`
}

// Statistics computes summary statistics over the closed trades.
func (m *Manager) Statistics() Statistics {
	wins, losses, breakEven := 0, 0, 0
	total, grossWin, grossLoss := decimal.Zero, decimal.Zero, decimal.Zero
	maxWin, maxLoss := decimal.Zero, decimal.Zero
	for i := range m.closed {
		if m.closed[i].PnLDollars == nil {
			continue
		}
		pnl := decimal.NewFromFloat(*m.closed[i].PnLDollars)
		total = total.Add(pnl)
		switch {
		case pnl.IsPositive():
			wins++
			grossWin = grossWin.Add(pnl)
			if pnl.GreaterThan(maxWin) {
				maxWin = pnl
			}
		case pnl.IsNegative():
			losses++
			grossLoss = grossLoss.Add(pnl)
			if pnl.LessThan(maxLoss) {
				maxLoss = pnl
			}
		default:
			breakEven++
		}
	}

	st := Statistics{
		TotalTrades:     len(m.closed),
		WinningTrades:   wins,
		LosingTrades:    losses,
		BreakEvenTrades: breakEven,
		OpenTrades:      len(m.open),
		TotalPnL:        total.InexactFloat64(),
		MaxWin:          maxWin.InexactFloat64(),
		MaxLoss:         maxLoss.InexactFloat64(),
		StartingBalance: m.startingBalance.InexactFloat64(),
		CurrentBalance:  m.balance.InexactFloat64(),
		PeakBalance:     m.peakBalance.InexactFloat64(),
		MaxDrawdown:     m.maxDrawdown.InexactFloat64(),
		MaxDrawdownPct:  m.maxDrawdownPct.InexactFloat64(),
	}
	if st.TotalTrades > 0 {
		st.WinRate = float64(wins) / float64(st.TotalTrades)
	}
	if wins > 0 {
		st.AvgWin = grossWin.Div(decimal.NewFromInt(int64(wins))).InexactFloat64()
	}
	if losses > 0 {
		st.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(losses))).InexactFloat64()
		st.ProfitFactor = grossWin.Div(grossLoss.Abs()).InexactFloat64()
	}
	st.ReturnPct = m.balance.Sub(m.startingBalance).Div(m.startingBalance).Mul(decimal.NewFromInt(100)).InexactFloat64()
	return st
}
