package backtest

import (
	"time"

	"github.com/google/uuid"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/state"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
)

// Result is the outcome of a finished run.
type Result struct {
	Start        time.Time
	End          time.Time
	Symbol       string
	ClosedTrades []models.Trade
	OpenTrades   []models.Trade
	Statistics   state.Statistics
	RunID        uuid.UUID
}

// Record converts the result into a persisted run record.
func (r *Result) Record(label string, params map[string]float64, startedAt, finishedAt time.Time) storage.RunRecord {
	trades := make([]models.Trade, 0, len(r.ClosedTrades)+len(r.OpenTrades))
	trades = append(trades, r.ClosedTrades...)
	trades = append(trades, r.OpenTrades...)
	return storage.RunRecord{
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Start:      r.Start,
		End:        r.End,
		Params:     params,
		RunID:      r.RunID.String(),
		Label:      label,
		Symbol:     r.Symbol,
		Trades:     trades,
		Statistics: r.Statistics,
	}
}
