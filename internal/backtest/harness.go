// Package backtest replays recorded market data through the trade-setup and
// exit logic, one clock tick at a time.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/clock"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/marketdata"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/observability"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/sizing"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/state"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/strategy"
)

// usedPin identifies a pin already traded today.
type usedPin struct {
	rank   int
	strike float64
}

// Harness runs one replay. It owns its clock, provider handle and state and
// must not be shared between goroutines.
type Harness struct {
	cfg      *config.Config
	data     marketdata.Provider
	clock    *clock.Manager
	state    *state.Manager
	proposer strategy.SetupProposer
	exits    *strategy.ExitEvaluator
	sizer    sizing.Sizer
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	runID    uuid.UUID

	day   string
	used  map[usedPin]bool
	marks map[int]float64
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger. The standard logrus logger is used otherwise.
func WithLogger(l logrus.FieldLogger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithMetrics records tick and trade metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Harness) {
		h.metrics = m
	}
}

// WithProposer replaces the GEX pin proposer. The proposer must be stateless
// when the option is shared across a grid.
func WithProposer(p strategy.SetupProposer) Option {
	return func(h *Harness) {
		if p != nil {
			h.proposer = p
		}
	}
}

// WithSizer replaces the configured position sizer.
func WithSizer(s sizing.Sizer) Option {
	return func(h *Harness) {
		if s != nil {
			h.sizer = s
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id uuid.UUID) Option {
	return func(h *Harness) {
		h.runID = id
	}
}

// New validates cfg and builds a harness reading from data. The harness does
// not close data.
func New(cfg *config.Config, data marketdata.Provider, opts ...Option) (*Harness, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if data == nil {
		return nil, errors.New("data provider is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	schedule, err := clock.ScheduleFromConfig(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	clk, err := clock.NewManager(schedule, cfg.Replay.Start, cfg.Replay.End, cfg.Replay.Tick)
	if err != nil {
		return nil, err
	}

	stateOpts := []state.Option{state.WithMultiplier(cfg.Account.ContractMultiplier)}
	if cfg.Exit.Trailing.Enabled {
		stateOpts = append(stateOpts, state.WithTrailingTrigger(cfg.Exit.Trailing.TriggerPct))
	}
	st, err := state.NewManager(cfg.Account.StartingBalance, stateOpts...)
	if err != nil {
		return nil, err
	}

	sizer, err := sizing.FromConfig(cfg.Account.Sizing)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		cfg:      cfg,
		data:     data,
		clock:    clk,
		state:    st,
		proposer: strategy.NewGEXPinStrategy(&cfg.Strategy),
		exits:    strategy.NewExitEvaluator(&cfg.Exit),
		sizer:    sizer,
		logger:   logrus.StandardLogger(),
		runID:    uuid.New(),
		used:     make(map[usedPin]bool),
		marks:    make(map[int]float64),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.WithFields(logrus.Fields{
		"run_id": h.runID.String(),
		"symbol": cfg.Replay.Symbol,
	})
	return h, nil
}

// RunID returns the id of this run.
func (h *Harness) RunID() uuid.UUID {
	return h.runID
}

// Run drives the clock from start to end. Trades still open at the end stay
// open in the result. Any error, including cancellation, aborts the run.
func (h *Harness) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	h.logger.WithFields(logrus.Fields{
		"start": h.cfg.Replay.Start.Format(time.RFC3339),
		"end":   h.cfg.Replay.End.Format(time.RFC3339),
		"tick":  h.cfg.Replay.Tick.String(),
	}).Info("Starting replay")
	h.metrics.SetBalance(h.state.Balance())

	for h.clock.HasMoreData() {
		if err := ctx.Err(); err != nil {
			h.metrics.RunFinished(time.Since(started), "canceled")
			return nil, err
		}
		if err := h.Step(ctx); err != nil {
			h.metrics.RunFinished(time.Since(started), "error")
			return nil, fmt.Errorf("tick %s: %w", h.clock.Now().Format(time.RFC3339), err)
		}
		h.clock.Advance()
	}

	res := &Result{
		RunID:        h.runID,
		Symbol:       h.cfg.Replay.Symbol,
		Start:        h.cfg.Replay.Start,
		End:          h.cfg.Replay.End,
		Statistics:   h.state.Statistics(),
		ClosedTrades: h.state.ClosedTrades(),
		OpenTrades:   h.state.OpenTrades(),
	}
	h.metrics.RunFinished(time.Since(started), "ok")
	h.logger.WithFields(logrus.Fields{
		"trades":   res.Statistics.TotalTrades,
		"win_rate": res.Statistics.WinRate,
		"pnl":      res.Statistics.TotalPnL,
		"open":     len(res.OpenTrades),
	}).Info("Replay complete")
	return res, nil
}

// Step evaluates the current tick without advancing the clock.
func (h *Harness) Step(ctx context.Context) error {
	now := h.clock.Now()
	h.metrics.Tick()

	open, err := h.clock.IsMarketHours(now)
	if err != nil {
		return err
	}
	if !open {
		h.metrics.Skip(skipClosed)
		return nil
	}
	h.rollDay(now)

	closing, err := h.mustClose(now)
	if err != nil {
		return err
	}
	if closing {
		h.metrics.Skip(skipAutoClose)
		return h.closeAll(ctx, now)
	}

	gate, err := CheckGates(ctx, h.cfg, h.data, now)
	if err != nil {
		return err
	}
	if gate.Skip != "" {
		h.metrics.Skip(gate.Skip)
		return nil
	}

	checkpoint, err := h.clock.IsEntryCheckTime(now)
	if err != nil {
		return err
	}
	openedNow := make(map[int]bool)
	if checkpoint {
		if err := h.enter(ctx, now, gate, openedNow); err != nil {
			return err
		}
	}
	return h.manageExits(ctx, now, openedNow)
}

// rollDay resets the used-pin set when the trading day changes.
func (h *Harness) rollDay(now time.Time) {
	day := h.clock.TradingDay(now)
	if day == h.day {
		return
	}
	h.day = day
	h.used = make(map[usedPin]bool)
}

// mustClose is true at or after the auto-close time, or while a trade from an
// earlier trading day is still open.
func (h *Harness) mustClose(now time.Time) (bool, error) {
	auto, err := h.clock.IsAutoCloseTime(now)
	if err != nil || auto {
		return auto, err
	}
	loc := h.clock.Location()
	for _, t := range h.state.OpenTrades() {
		if t.TradingDay(loc) != h.day {
			return true, nil
		}
	}
	return false, nil
}

func (h *Harness) closeAll(ctx context.Context, now time.Time) error {
	for _, t := range h.state.OpenTrades() {
		legs, ok, err := LegQuotes(ctx, h.data, h.cfg.Replay.Symbol, t.Verticals, now)
		if err != nil {
			return err
		}
		value, marked := h.marks[t.ID]
		if ok {
			value = strategy.CostToClose(legs)
		} else if !marked {
			value = t.EntryCredit
		}
		if err := h.close(t, now, value, models.ExitExpiration); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) enter(ctx context.Context, now time.Time, gate Gate, openedNow map[int]bool) error {
	traded := func(rank int, strike float64) bool {
		return h.used[usedPin{rank: rank, strike: strike}]
	}
	candidates, err := Candidates(ctx, h.cfg, h.data, h.proposer, now, gate, traded)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		setup := c.Setup
		log := h.logger.WithFields(logrus.Fields{
			"time": now.Format(time.RFC3339),
			"rank": c.Rank,
			"pin":  c.Pin,
		})
		if setup.IsSkip() {
			log.Debugf("Skip: %s", setup.Description)
			continue
		}
		h.metrics.Proposed(string(setup.Strategy))
		if !c.Tradeable {
			h.metrics.Rejected(c.Rejection)
			log.Debugf("Rejected %s: %s (credit %.2f)", setup.Description, c.Reason, c.Credit)
			continue
		}

		qty := h.sizer.Contracts(sizing.Request{
			Balance:    h.state.Balance(),
			Credit:     c.Credit,
			Width:      maxWidth(setup.Verticals),
			Multiplier: h.cfg.Account.ContractMultiplier,
		})
		trade, err := h.state.OpenTrade(state.OpenParams{
			EntryTime:   now,
			SpreadType:  setup.Strategy,
			Symbol:      h.cfg.Replay.Symbol,
			Description: setup.Description,
			Verticals:   setup.Verticals,
			EntryCredit: c.Credit,
			EntryVIX:    gate.VIX,
			PinStrike:   c.Pin,
			PeakRank:    c.Rank,
			Quantity:    qty,
		})
		if err != nil {
			return err
		}
		openedNow[trade.ID] = true
		h.used[usedPin{rank: c.Rank, strike: c.Pin}] = true
		h.metrics.Opened(string(trade.SpreadType), len(h.state.OpenTrades()))
		log.WithFields(logrus.Fields{
			"trade_id": trade.ID,
			"credit":   c.Credit,
			"quantity": qty,
			"vix":      gate.VIX,
		}).Infof("Opened %s", setup.Description)
	}
	return nil
}

func (h *Harness) manageExits(ctx context.Context, now time.Time, openedNow map[int]bool) error {
	for _, t := range h.state.OpenTrades() {
		if openedNow[t.ID] {
			continue
		}
		legs, ok, err := LegQuotes(ctx, h.data, h.cfg.Replay.Symbol, t.Verticals, now)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		value := strategy.CostToClose(legs)
		h.marks[t.ID] = value

		updated, err := h.state.UpdateTradePeak(t.ID, value)
		if err != nil {
			return err
		}
		if exit, reason := h.exits.Evaluate(&updated, value, now); exit {
			if err := h.close(updated, now, value, reason); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Harness) close(t models.Trade, now time.Time, value float64, reason models.ExitReason) error {
	closed, err := h.state.CloseTrade(t.ID, now, value, reason)
	if err != nil {
		return err
	}
	delete(h.marks, t.ID)

	pnl := *closed.PnLDollars
	h.metrics.Closed(string(reason), pnl, h.state.Balance(), len(h.state.OpenTrades()))
	h.logger.WithFields(logrus.Fields{
		"trade_id": closed.ID,
		"reason":   reason,
		"exit":     value,
		"pnl":      pnl,
		"time":     now.Format(time.RFC3339),
	}).Info("Closed trade")
	return nil
}

func maxWidth(verticals []models.Vertical) float64 {
	w := 0.0
	for _, v := range verticals {
		w = math.Max(w, v.Width())
	}
	return w
}
