package models

import (
	"fmt"
	"strings"
	"time"
)

// Trade is a credit spread opened by the harness. Entry fields never change
// after open; exit fields are set exactly once at close.
type Trade struct {
	EntryTime     time.Time   `json:"entry_time"`
	ExitTime      *time.Time  `json:"exit_time,omitempty"`
	ExitValue     *float64    `json:"exit_value,omitempty"`
	PnLDollars    *float64    `json:"pnl_dollars,omitempty"`
	PnLPercent    *float64    `json:"pnl_percent,omitempty"`
	Status        TradeStatus `json:"status"`
	ExitReason    ExitReason  `json:"exit_reason,omitempty"`
	SpreadType    SpreadType  `json:"spread_type"`
	Symbol        string      `json:"symbol"`
	Description   string      `json:"description"`
	Verticals     []Vertical  `json:"verticals"`
	ID            int         `json:"id"`
	PeakRank      int         `json:"peak_rank"`
	Quantity      int         `json:"quantity"`
	EntryCredit   float64     `json:"entry_credit"`
	EntryVIX      float64     `json:"entry_vix"`
	PinStrike     float64     `json:"pin_strike"`
	ShortStrike   float64     `json:"short_strike"`
	LongStrike    float64     `json:"long_strike"`
	PeakValue     float64     `json:"peak_value"`
	IsIronCondor  bool        `json:"is_iron_condor"`
	TrailingArmed bool        `json:"trailing_armed"`
}

// IsOpen reports whether the trade is still OPEN.
func (t *Trade) IsOpen() bool {
	return t.Status == StatusOpen
}

// PeakGain returns the best profit fraction seen so far.
func (t *Trade) PeakGain() float64 {
	if t.EntryCredit == 0 {
		return 0
	}
	return (t.EntryCredit - t.PeakValue) / t.EntryCredit
}

// TradingDay returns the entry date in loc.
func (t *Trade) TradingDay(loc *time.Location) string {
	return t.EntryTime.In(loc).Format("2006-01-02")
}

// Copy returns a deep copy of the trade.
func (t *Trade) Copy() Trade {
	c := *t
	c.Verticals = append([]Vertical(nil), t.Verticals...)
	if t.ExitTime != nil {
		v := *t.ExitTime
		c.ExitTime = &v
	}
	if t.ExitValue != nil {
		v := *t.ExitValue
		c.ExitValue = &v
	}
	if t.PnLDollars != nil {
		v := *t.PnLDollars
		c.PnLDollars = &v
	}
	if t.PnLPercent != nil {
		v := *t.PnLPercent
		c.PnLPercent = &v
	}
	return c
}

// Validate ensures the trade's fields are consistent with its status.
func (t *Trade) Validate() error {
	if t.EntryTime.IsZero() {
		return fmt.Errorf("trade %d: EntryTime must be set", t.ID)
	}
	if len(t.Verticals) == 0 {
		return fmt.Errorf("trade %d: at least one vertical is required", t.ID)
	}
	for _, v := range t.Verticals {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("trade %d: %w", t.ID, err)
		}
	}
	if t.IsIronCondor != (t.SpreadType == SpreadIronCondor) {
		return fmt.Errorf("trade %d: IsIronCondor=%t disagrees with spread type %s",
			t.ID, t.IsIronCondor, t.SpreadType)
	}

	switch t.Status {
	case StatusOpen:
		if t.ExitTime != nil || t.ExitValue != nil {
			return fmt.Errorf("trade %d in state %s: exit fields must be empty", t.ID, t.Status)
		}
		if t.PnLDollars != nil || t.PnLPercent != nil {
			return fmt.Errorf("trade %d in state %s: P&L must be empty until close", t.ID, t.Status)
		}
		if strings.TrimSpace(string(t.ExitReason)) != "" {
			return fmt.Errorf("trade %d in state %s: ExitReason must be empty (current: %s)",
				t.ID, t.Status, t.ExitReason)
		}
	case StatusClosed:
		if t.ExitTime == nil || t.ExitValue == nil || t.PnLDollars == nil || t.PnLPercent == nil {
			return fmt.Errorf("trade %d in state %s: exit time, value and P&L must be set", t.ID, t.Status)
		}
		if t.ExitTime.Before(t.EntryTime) {
			return fmt.Errorf("trade %d in state %s: exit %v precedes entry %v",
				t.ID, t.Status, *t.ExitTime, t.EntryTime)
		}
		if !t.ExitReason.Valid() {
			return fmt.Errorf("trade %d in state %s: invalid exit reason %q", t.ID, t.Status, t.ExitReason)
		}
	default:
		return fmt.Errorf("trade %d: unknown status %q", t.ID, t.Status)
	}
	return nil
}
