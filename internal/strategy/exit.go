package strategy

import (
	"math"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
)

// epsilon absorbs float noise when a ratio lands exactly on a threshold.
const epsilon = 1e-9

// ExitEvaluator decides whether an open trade should close at its current value.
type ExitEvaluator struct {
	config *config.ExitConfig
}

// NewExitEvaluator creates an evaluator from validated exit settings.
func NewExitEvaluator(cfg *config.ExitConfig) *ExitEvaluator {
	return &ExitEvaluator{config: cfg}
}

// Evaluate checks stop loss, then profit target, then trailing stop. The
// trade's PeakValue and TrailingArmed must already reflect value.
func (e *ExitEvaluator) Evaluate(t *models.Trade, value float64, now time.Time) (bool, models.ExitReason) {
	entry := t.EntryCredit
	if entry <= 0 {
		return false, ""
	}

	if now.Sub(t.EntryTime) >= e.config.StopLossGrace {
		if loss := (value - entry) / entry; loss >= e.config.StopLossPct-epsilon {
			return true, models.ExitStopLoss
		}
	}

	gain := (entry - value) / entry
	if gain >= e.config.ProfitTargetPct-epsilon {
		return true, models.ExitProfitTarget
	}

	if tr := e.config.Trailing; tr.Enabled && t.TrailingArmed {
		if gain < TrailingLevel(tr, t.PeakGain()) {
			return true, models.ExitTrailingStop
		}
	}

	return false, ""
}

// TrailingLevel returns the gain below which an armed trailing stop fires.
// The trail tightens as the peak gain moves past the trigger.
func TrailingLevel(tr config.TrailingConfig, peakGain float64) float64 {
	lock := tr.LockIn()
	dist := (tr.TriggerPct - lock) - (peakGain-tr.TriggerPct)*tr.Tighten()
	dist = math.Max(tr.MinDistancePct, dist)
	return math.Max(lock, peakGain-dist)
}
