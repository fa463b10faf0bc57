// Package state tracks the trades and the simulated account of a single run.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
)

const defaultMultiplier = 100.0

// ErrTradeNotOpen is returned when closing or updating an unknown or closed trade.
var ErrTradeNotOpen = errors.New("trade is not open")

// OpenParams carries the immutable entry fields of a trade.
type OpenParams struct {
	EntryTime   time.Time
	SpreadType  models.SpreadType
	Symbol      string
	Description string
	Verticals   []models.Vertical
	EntryCredit float64
	EntryVIX    float64
	PinStrike   float64
	PeakRank    int
	Quantity    int
}

// Manager owns trades, balance, peak balance and drawdown for one run.
// It is driven by a single goroutine and is not safe for concurrent use.
type Manager struct {
	open            map[int]*models.Trade
	closed          []models.Trade
	startingBalance decimal.Decimal
	balance         decimal.Decimal
	peakBalance     decimal.Decimal
	maxDrawdown     decimal.Decimal
	maxDrawdownPct  decimal.Decimal
	multiplier      decimal.Decimal
	trailingTrigger float64
	nextID          int
}

// Option configures a Manager.
type Option func(*Manager)

// WithMultiplier sets the contract multiplier (100 for index options).
func WithMultiplier(m float64) Option {
	return func(s *Manager) {
		if m > 0 {
			s.multiplier = decimal.NewFromFloat(m)
		}
	}
}

// WithTrailingTrigger arms a trade's trailing stop once its peak gain reaches frac.
func WithTrailingTrigger(frac float64) Option {
	return func(s *Manager) {
		s.trailingTrigger = frac
	}
}

// NewManager creates a manager with the given starting balance.
func NewManager(startingBalance float64, opts ...Option) (*Manager, error) {
	if startingBalance <= 0 {
		return nil, fmt.Errorf("starting balance must be > 0 (got %.2f)", startingBalance)
	}
	start := decimal.NewFromFloat(startingBalance)
	m := &Manager{
		open:            make(map[int]*models.Trade),
		startingBalance: start,
		balance:         start,
		peakBalance:     start,
		multiplier:      decimal.NewFromFloat(defaultMultiplier),
		nextID:          1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// OpenTrade records a new OPEN trade and returns a copy of it.
func (m *Manager) OpenTrade(p OpenParams) (models.Trade, error) {
	if p.EntryTime.IsZero() {
		return models.Trade{}, errors.New("entry time is required")
	}
	if len(p.Verticals) == 0 {
		return models.Trade{}, errors.New("at least one vertical is required")
	}
	if p.Quantity <= 0 {
		return models.Trade{}, fmt.Errorf("quantity must be > 0 (got %d)", p.Quantity)
	}

	t := &models.Trade{
		ID:           m.nextID,
		EntryTime:    p.EntryTime,
		EntryCredit:  p.EntryCredit,
		SpreadType:   p.SpreadType,
		Symbol:       p.Symbol,
		Description:  p.Description,
		Verticals:    append([]models.Vertical(nil), p.Verticals...),
		ShortStrike:  p.Verticals[0].ShortStrike,
		LongStrike:   p.Verticals[0].LongStrike,
		EntryVIX:     p.EntryVIX,
		PinStrike:    p.PinStrike,
		PeakRank:     p.PeakRank,
		Quantity:     p.Quantity,
		IsIronCondor: p.SpreadType == models.SpreadIronCondor,
		PeakValue:    p.EntryCredit,
		Status:       models.StatusOpen,
	}
	m.nextID++
	m.open[t.ID] = t
	return t.Copy(), nil
}

// UpdateTradePeak lowers the trade's best-seen cost to close if value improves
// on it. The peak never moves back up.
func (m *Manager) UpdateTradePeak(id int, value float64) (models.Trade, error) {
	t, ok := m.open[id]
	if !ok {
		return models.Trade{}, fmt.Errorf("update peak of trade %d: %w", id, ErrTradeNotOpen)
	}
	if value < t.PeakValue {
		t.PeakValue = value
	}
	if m.trailingTrigger > 0 && !t.TrailingArmed && t.PeakGain() >= m.trailingTrigger-1e-9 {
		t.TrailingArmed = true
	}
	return t.Copy(), nil
}

// CloseTrade closes an open trade at exitValue and books its P&L.
func (m *Manager) CloseTrade(id int, exitTime time.Time, exitValue float64, reason models.ExitReason) (models.Trade, error) {
	t, ok := m.open[id]
	if !ok {
		return models.Trade{}, fmt.Errorf("close trade %d: %w", id, ErrTradeNotOpen)
	}
	if err := models.ValidateTransition(t.Status, models.StatusClosed, reason); err != nil {
		return models.Trade{}, fmt.Errorf("close trade %d: %w", id, err)
	}
	if exitTime.Before(t.EntryTime) {
		return models.Trade{}, fmt.Errorf("close trade %d: exit %s precedes entry %s",
			id, exitTime.Format(time.RFC3339), t.EntryTime.Format(time.RFC3339))
	}

	entry := decimal.NewFromFloat(t.EntryCredit)
	exit := decimal.NewFromFloat(exitValue)
	diff := entry.Sub(exit)
	pnl := diff.Mul(m.multiplier).Mul(decimal.NewFromInt(int64(t.Quantity)))
	pct := decimal.Zero
	if !entry.IsZero() {
		pct = diff.Div(entry)
	}

	pnlF := pnl.InexactFloat64()
	pctF := pct.InexactFloat64()
	ev := exitValue
	et := exitTime
	t.ExitTime = &et
	t.ExitValue = &ev
	t.PnLDollars = &pnlF
	t.PnLPercent = &pctF
	t.ExitReason = reason
	t.Status = models.StatusClosed

	m.balance = m.balance.Add(pnl)
	if m.balance.GreaterThan(m.peakBalance) {
		m.peakBalance = m.balance
	}
	if dd := m.peakBalance.Sub(m.balance); dd.GreaterThan(m.maxDrawdown) {
		m.maxDrawdown = dd
	}
	if m.peakBalance.IsPositive() {
		if ddPct := m.peakBalance.Sub(m.balance).Div(m.peakBalance).Mul(decimal.NewFromInt(100)); ddPct.GreaterThan(m.maxDrawdownPct) {
			m.maxDrawdownPct = ddPct
		}
	}

	delete(m.open, id)
	closed := t.Copy()
	m.closed = append(m.closed, closed)
	return closed.Copy(), nil
}

// Trade returns a copy of an open trade.
func (m *Manager) Trade(id int) (models.Trade, bool) {
	t, ok := m.open[id]
	if !ok {
		return models.Trade{}, false
	}
	return t.Copy(), true
}

// OpenTrades returns copies of the open trades ordered by id.
func (m *Manager) OpenTrades() []models.Trade {
	out := make([]models.Trade, 0, len(m.open))
	for id := 1; id < m.nextID; id++ {
		if t, ok := m.open[id]; ok {
			out = append(out, t.Copy())
		}
	}
	return out
}

// ClosedTrades returns copies of the closed trades in close order.
func (m *Manager) ClosedTrades() []models.Trade {
	out := make([]models.Trade, len(m.closed))
	for i := range m.closed {
		out[i] = m.closed[i].Copy()
	}
	return out
}

// Balance returns the current account balance.
func (m *Manager) Balance() float64 {
	return m.balance.InexactFloat64()
}
