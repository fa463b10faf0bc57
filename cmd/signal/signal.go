package main

import (
	"context"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/backtest"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/marketdata"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/strategy"
)

// Report is one evaluation of the current market.
type Report struct {
	Time       time.Time            `json:"time"`
	Symbol     string               `json:"symbol"`
	Price      float64              `json:"price"`
	VIX        float64              `json:"vix"`
	Skip       string               `json:"skip,omitempty"`
	Candidates []backtest.Candidate `json:"candidates,omitempty"`
}

// evaluate applies the replay entry filters to the market at now without
// opening anything.
func evaluate(ctx context.Context, cfg *config.Config, data marketdata.Provider, proposer strategy.SetupProposer, now time.Time) (Report, error) {
	rep := Report{Time: now, Symbol: cfg.Replay.Symbol}

	gate, err := backtest.CheckGates(ctx, cfg, data, now)
	if err != nil {
		return rep, err
	}
	rep.Price, rep.VIX = gate.Price, gate.VIX
	if gate.Skip != "" {
		rep.Skip = gate.Reason
		return rep, nil
	}

	rep.Candidates, err = backtest.Candidates(ctx, cfg, data, proposer, now, gate, nil)
	return rep, err
}
