// Package sizing decides how many contracts a new trade opens with.
package sizing

import (
	"fmt"
	"math"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
)

// Request describes a trade about to be opened.
type Request struct {
	Balance    float64 // current account balance
	Credit     float64 // entry credit per share
	Width      float64 // widest vertical width in points
	Multiplier float64 // contract multiplier
}

// MaxLossPerContract is the dollar risk of one contract: (width - credit) x multiplier.
func (r Request) MaxLossPerContract() float64 {
	return (r.Width - r.Credit) * r.Multiplier
}

// Sizer returns a contract count of at least 1.
type Sizer interface {
	Contracts(r Request) int
}

// Fixed always trades the same number of contracts.
type Fixed struct {
	N int
}

// Contracts returns N (never below 1).
func (f Fixed) Contracts(Request) int {
	if f.N < 1 {
		return 1
	}
	return f.N
}

// HalfKelly sizes from the Kelly fraction of the configured edge, halved.
type HalfKelly struct {
	WinRate      float64
	AvgWin       float64
	AvgLoss      float64
	MaxContracts int
}

// Fraction returns the half-Kelly bet fraction, clamped at 0.
func (k HalfKelly) Fraction() float64 {
	if k.AvgLoss <= 0 {
		return 0
	}
	r := k.AvgWin / k.AvgLoss
	if r <= 0 {
		return 0
	}
	f := k.WinRate - (1-k.WinRate)/r
	return math.Max(0, f/2)
}

// Contracts returns floor(balance x fraction / max loss), clamped to [1, MaxContracts].
func (k HalfKelly) Contracts(r Request) int {
	risk := r.MaxLossPerContract()
	n := 1
	if risk > 0 {
		n = int(math.Floor(r.Balance*k.Fraction()/risk + 1e-9))
	}
	if n < 1 {
		n = 1
	}
	if k.MaxContracts > 0 && n > k.MaxContracts {
		n = k.MaxContracts
	}
	return n
}

// FromConfig builds the sizer selected by cfg.Method.
func FromConfig(cfg config.SizingConfig) (Sizer, error) {
	switch cfg.Method {
	case "", "fixed":
		return Fixed{N: cfg.Contracts}, nil
	case "half_kelly":
		return HalfKelly{
			WinRate:      cfg.WinRate,
			AvgWin:       cfg.AvgWin,
			AvgLoss:      cfg.AvgLoss,
			MaxContracts: cfg.MaxContracts,
		}, nil
	default:
		return nil, fmt.Errorf("unknown sizing method %q", cfg.Method)
	}
}
