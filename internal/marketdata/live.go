package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/broker"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
)

const (
	defaultVIXSymbol = "VIX"
	defaultChainTTL  = 5 * time.Second
)

// LiveProvider reads quotes and same-day option chains from the broker and
// recorded GEX peaks from a snapshot store. The ts argument only selects the
// expiration and the peak; prices are always current.
type LiveProvider struct {
	md        broker.MarketData
	peaks     storage.SnapshotStore
	loc       *time.Location
	vixSymbol string
	chainTTL  time.Duration
	now       func() time.Time

	mu     sync.Mutex
	chains map[string]cachedChain

	closeOnce sync.Once
	closeErr  error
}

type cachedChain struct {
	fetched time.Time
	options []broker.Option
}

var _ Provider = (*LiveProvider)(nil)

// LiveOption configures a LiveProvider.
type LiveOption func(*LiveProvider)

// WithChainTTL sets how long a fetched chain is reused.
func WithChainTTL(d time.Duration) LiveOption {
	return func(p *LiveProvider) {
		p.chainTTL = d
	}
}

// WithNow overrides the wall clock (tests).
func WithNow(now func() time.Time) LiveOption {
	return func(p *LiveProvider) {
		p.now = now
	}
}

// NewLiveProvider creates a live provider. loc is the exchange timezone.
func NewLiveProvider(md broker.MarketData, peaks storage.SnapshotStore, loc *time.Location, opts ...LiveOption) (*LiveProvider, error) {
	if md == nil || peaks == nil {
		return nil, errors.New("market data client and peak store are required")
	}
	if loc == nil {
		return nil, errors.New("exchange location is required")
	}
	p := &LiveProvider{
		md:        md,
		peaks:     peaks,
		loc:       loc,
		vixSymbol: defaultVIXSymbol,
		chainTTL:  defaultChainTTL,
		now:       time.Now,
		chains:    make(map[string]cachedChain),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *LiveProvider) quote(ctx context.Context, symbol string) (float64, bool, error) {
	q, err := p.md.GetQuote(ctx, symbol)
	if errors.Is(err, broker.ErrNoQuote) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("quote %s: %w", symbol, err)
	}
	price := q.Price()
	return price, price > 0, nil
}

// IndexPrice returns the current underlying price.
func (p *LiveProvider) IndexPrice(ctx context.Context, symbol string, _ time.Time) (float64, bool, error) {
	return p.quote(ctx, symbol)
}

// VIX returns the current VIX level.
func (p *LiveProvider) VIX(ctx context.Context, _ time.Time) (float64, bool, error) {
	return p.quote(ctx, p.vixSymbol)
}

// GEXPeak returns the latest recorded peak at or before ts.
func (p *LiveProvider) GEXPeak(ctx context.Context, symbol string, ts time.Time, rank int) (models.GEXPeak, bool, error) {
	peak, err := p.peaks.PeakAt(ctx, symbol, ts, rank)
	if missing(err) {
		return models.GEXPeak{}, false, nil
	}
	if err != nil {
		return models.GEXPeak{}, false, fmt.Errorf("peak %s rank %d: %w", symbol, rank, err)
	}
	if peak.Timestamp.After(ts) {
		return models.GEXPeak{}, false, fmt.Errorf("peak at %s: %w", peak.Timestamp.Format(time.RFC3339), ErrLookahead)
	}
	return *peak, true, nil
}

func (p *LiveProvider) chain(ctx context.Context, symbol, expiration string) ([]broker.Option, error) {
	key := symbol + "|" + expiration
	p.mu.Lock()
	c, ok := p.chains[key]
	p.mu.Unlock()
	if ok && p.now().Sub(c.fetched) < p.chainTTL {
		return c.options, nil
	}

	options, err := p.md.GetOptionChain(ctx, symbol, expiration)
	if err != nil {
		return nil, fmt.Errorf("chain %s %s: %w", symbol, expiration, err)
	}
	p.mu.Lock()
	p.chains[key] = cachedChain{fetched: p.now(), options: options}
	p.mu.Unlock()
	return options, nil
}

// OptionQuote returns the current bid/ask of the same-day contract.
func (p *LiveProvider) OptionQuote(ctx context.Context, symbol string, strike float64, optType models.OptionType, ts time.Time) (models.Quote, bool, error) {
	options, err := p.chain(ctx, symbol, broker.ExpirationFor(ts, p.loc))
	if err != nil {
		return models.Quote{}, false, err
	}
	o := broker.GetOptionByStrike(options, strike, optType)
	if o == nil || o.Ask <= 0 {
		return models.Quote{}, false, nil
	}
	return o.Quote(), true, nil
}

// FutureTimestamps is empty for live data.
func (p *LiveProvider) FutureTimestamps(context.Context, string, time.Time, int) ([]time.Time, error) {
	return nil, nil
}

// Close releases the peak store. Safe to call more than once.
func (p *LiveProvider) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.peaks.Close()
	})
	return p.closeErr
}
