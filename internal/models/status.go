// Package models provides the records shared by the replay harness, the
// strategy and the stores: trades, setups, market snapshots and quotes.
package models

import "fmt"

// TradeStatus represents the lifecycle state of a trade.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// ExitReason records why a trade was closed.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "STOP_LOSS"
	ExitProfitTarget ExitReason = "PROFIT_TARGET"
	ExitTrailingStop ExitReason = "TRAILING_STOP"
	ExitExpiration   ExitReason = "EXPIRATION"
)

// Valid returns true if the ExitReason is one of the defined constants
func (r ExitReason) Valid() bool {
	switch r {
	case ExitStopLoss, ExitProfitTarget, ExitTrailingStop, ExitExpiration:
		return true
	default:
		return false
	}
}

// StatusTransition defines a valid status change and the exit reason that drives it.
type StatusTransition struct {
	From        TradeStatus
	To          TradeStatus
	Condition   ExitReason
	Description string
}

// ValidTransitions lists every permitted status change. Trades never reopen.
var ValidTransitions = []StatusTransition{
	{StatusOpen, StatusClosed, ExitStopLoss, "Cost to close rose past the stop-loss fraction"},
	{StatusOpen, StatusClosed, ExitProfitTarget, "Cost to close fell to the profit target"},
	{StatusOpen, StatusClosed, ExitTrailingStop, "Profit retraced below the trailing level"},
	{StatusOpen, StatusClosed, ExitExpiration, "End-of-day forced close"},
}

// ValidateTransition checks a status change against ValidTransitions.
func ValidateTransition(from, to TradeStatus, reason ExitReason) error {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to && t.Condition == reason {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with reason '%s'", from, to, reason)
}
