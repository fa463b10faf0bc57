package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
)

// ReplayProvider serves recorded data from a snapshot store without ever
// exposing a record from after the requested time.
type ReplayProvider struct {
	store        storage.SnapshotStore
	vixSymbol    string
	maxStaleness time.Duration
	closeOnce    sync.Once
	closeErr     error
}

var _ Provider = (*ReplayProvider)(nil)

// ReplayOption configures a ReplayProvider.
type ReplayOption func(*ReplayProvider)

// WithMaxStaleness treats forward-filled records older than d as missing.
// Zero means no limit.
func WithMaxStaleness(d time.Duration) ReplayOption {
	return func(p *ReplayProvider) {
		p.maxStaleness = d
	}
}

// NewReplayProvider wraps store. VIX values are read from the snapshot rows of
// vixSymbol (the traded index). The provider owns the store and closes it.
func NewReplayProvider(store storage.SnapshotStore, vixSymbol string, opts ...ReplayOption) (*ReplayProvider, error) {
	if store == nil {
		return nil, errors.New("snapshot store is required")
	}
	if vixSymbol == "" {
		return nil, errors.New("vix symbol is required")
	}
	p := &ReplayProvider{store: store, vixSymbol: vixSymbol}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// usable checks a record's timestamp against ts. It returns ErrLookahead for a
// later record and false for one older than the staleness limit.
func (p *ReplayProvider) usable(what string, recorded, ts time.Time) (bool, error) {
	if recorded.After(ts) {
		return false, fmt.Errorf("%s at %s for %s: %w",
			what, recorded.Format(time.RFC3339), ts.Format(time.RFC3339), ErrLookahead)
	}
	if p.maxStaleness > 0 && ts.Sub(recorded) > p.maxStaleness {
		return false, nil
	}
	return true, nil
}

func missing(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

// IndexPrice returns the underlying price at or before ts.
func (p *ReplayProvider) IndexPrice(ctx context.Context, symbol string, ts time.Time) (float64, bool, error) {
	snap, err := p.store.PriceAt(ctx, symbol, ts)
	if missing(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("price %s: %w", symbol, err)
	}
	ok, err := p.usable("price", snap.Timestamp, ts)
	if !ok || snap.Price <= 0 {
		return 0, false, err
	}
	return snap.Price, true, nil
}

// VIX returns the latest recorded VIX at or before ts.
func (p *ReplayProvider) VIX(ctx context.Context, ts time.Time) (float64, bool, error) {
	snap, err := p.store.VIXAt(ctx, p.vixSymbol, ts)
	if missing(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("vix: %w", err)
	}
	ok, err := p.usable("vix", snap.Timestamp, ts)
	if !ok || snap.VIX <= 0 {
		return 0, false, err
	}
	return snap.VIX, true, nil
}

// GEXPeak returns the peak of rank at or before ts.
func (p *ReplayProvider) GEXPeak(ctx context.Context, symbol string, ts time.Time, rank int) (models.GEXPeak, bool, error) {
	peak, err := p.store.PeakAt(ctx, symbol, ts, rank)
	if missing(err) {
		return models.GEXPeak{}, false, nil
	}
	if err != nil {
		return models.GEXPeak{}, false, fmt.Errorf("peak %s rank %d: %w", symbol, rank, err)
	}
	ok, err := p.usable("peak", peak.Timestamp, ts)
	if !ok {
		return models.GEXPeak{}, false, err
	}
	return *peak, true, nil
}

// OptionQuote returns the bid/ask for one strike and type at or before ts.
func (p *ReplayProvider) OptionQuote(ctx context.Context, symbol string, strike float64, optType models.OptionType, ts time.Time) (models.Quote, bool, error) {
	q, err := p.store.QuoteAt(ctx, symbol, strike, optType, ts)
	if missing(err) {
		return models.Quote{}, false, nil
	}
	if err != nil {
		return models.Quote{}, false, fmt.Errorf("quote %s %.2f %s: %w", symbol, strike, optType, err)
	}
	ok, err := p.usable("quote", q.Timestamp, ts)
	if !ok {
		return models.Quote{}, false, err
	}
	return q.Quote(), true, nil
}

// FutureTimestamps lists recorded snapshot times strictly after start. The
// harness never uses it for decisions.
func (p *ReplayProvider) FutureTimestamps(ctx context.Context, symbol string, start time.Time, maxCount int) ([]time.Time, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	return p.store.TimestampsAfter(ctx, symbol, start, maxCount)
}

// Close releases the store. Safe to call more than once.
func (p *ReplayProvider) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.store.Close()
	})
	return p.closeErr
}
