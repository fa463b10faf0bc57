// Package marketdata answers "what did the market look like at t" for the
// harness and the live signal.
package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
)

// ErrLookahead is returned when a store hands back a record stamped after the
// requested time.
var ErrLookahead = errors.New("record is later than requested time")

// Provider returns market facts at a point in time. ok == false means nothing
// usable was recorded at or before ts; err means the source is broken.
type Provider interface {
	IndexPrice(ctx context.Context, symbol string, ts time.Time) (float64, bool, error)
	VIX(ctx context.Context, ts time.Time) (float64, bool, error)
	GEXPeak(ctx context.Context, symbol string, ts time.Time, rank int) (models.GEXPeak, bool, error)
	OptionQuote(ctx context.Context, symbol string, strike float64, optType models.OptionType, ts time.Time) (models.Quote, bool, error)
	FutureTimestamps(ctx context.Context, symbol string, start time.Time, maxCount int) ([]time.Time, error)
	Close() error
}
