// Package memory provides an in-memory snapshot store used for fixtures and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
)

type peakKey struct {
	symbol string
	rank   int
}

type quoteKey struct {
	symbol  string
	optType models.OptionType
	strike  float64
}

// Store keeps every series sorted by timestamp.
// All methods are safe for concurrent use.
type Store struct {
	snapshots map[string][]models.MarketSnapshot
	vix       map[string][]models.MarketSnapshot
	peaks     map[peakKey][]models.GEXPeak
	quotes    map[quoteKey][]models.OptionQuote
	mu        sync.RWMutex
	closed    bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		snapshots: make(map[string][]models.MarketSnapshot),
		vix:       make(map[string][]models.MarketSnapshot),
		peaks:     make(map[peakKey][]models.GEXPeak),
		quotes:    make(map[quoteKey][]models.OptionQuote),
	}
}

var _ storage.Store = (*Store)(nil)

// upsert inserts v into a slice sorted by ts, replacing an equal timestamp.
func upsert[T any](rows []T, v T, ts func(T) time.Time) []T {
	at := ts(v)
	i := sort.Search(len(rows), func(i int) bool { return !ts(rows[i]).Before(at) })
	if i < len(rows) && ts(rows[i]).Equal(at) {
		rows[i] = v
		return rows
	}
	rows = append(rows, v)
	copy(rows[i+1:], rows[i:])
	rows[i] = v
	return rows
}

// atOrBefore returns the index of the latest row whose timestamp is <= at.
func atOrBefore[T any](rows []T, at time.Time, ts func(T) time.Time) (int, bool) {
	i := sort.Search(len(rows), func(i int) bool { return ts(rows[i]).After(at) })
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

func snapshotTS(s models.MarketSnapshot) time.Time { return s.Timestamp }
func peakTS(p models.GEXPeak) time.Time { return p.Timestamp }
func quoteTS(q models.OptionQuote) time.Time { return q.Timestamp }

func (s *Store) checkOpen() error {
	if s.closed {
		return storage.ErrClosed
	}
	return nil
}

// InsertSnapshots adds underlying snapshots. A snapshot with VIX <= 0 carries no VIX.
func (s *Store) InsertSnapshots(ctx context.Context, rows []models.MarketSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, r := range rows {
		if r.Symbol == "" || r.Timestamp.IsZero() {
			return fmt.Errorf("%w: snapshot needs symbol and timestamp", storage.ErrInvalidInput)
		}
		s.snapshots[r.Symbol] = upsert(s.snapshots[r.Symbol], r, snapshotTS)
		if r.VIX > 0 {
			s.vix[r.Symbol] = upsert(s.vix[r.Symbol], r, snapshotTS)
		}
	}
	return nil
}

// InsertPeaks adds ranked GEX peaks.
func (s *Store) InsertPeaks(ctx context.Context, rows []models.GEXPeak) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, r := range rows {
		if r.Symbol == "" || r.Timestamp.IsZero() || r.Rank < 1 {
			return fmt.Errorf("%w: peak needs symbol, timestamp and rank >= 1", storage.ErrInvalidInput)
		}
		k := peakKey{r.Symbol, r.Rank}
		s.peaks[k] = upsert(s.peaks[k], r, peakTS)
	}
	return nil
}

// InsertQuotes adds option quotes.
func (s *Store) InsertQuotes(ctx context.Context, rows []models.OptionQuote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	for _, r := range rows {
		if r.Symbol == "" || r.Timestamp.IsZero() || !r.Type.Valid() {
			return fmt.Errorf("%w: quote needs symbol, timestamp and option type", storage.ErrInvalidInput)
		}
		k := quoteKey{r.Symbol, r.Type, r.Strike}
		s.quotes[k] = upsert(s.quotes[k], r, quoteTS)
	}
	return nil
}

func lookup[T any](ctx context.Context, s *Store, rows func() []T, at time.Time, ts func(T) time.Time) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	series := rows()
	i, ok := atOrBefore(series, at, ts)
	if !ok {
		return nil, storage.ErrNotFound
	}
	v := series[i]
	return &v, nil
}

// PriceAt returns the latest snapshot at or before ts.
func (s *Store) PriceAt(ctx context.Context, symbol string, ts time.Time) (*models.MarketSnapshot, error) {
	return lookup(ctx, s, func() []models.MarketSnapshot { return s.snapshots[symbol] }, ts, snapshotTS)
}

// VIXAt returns the latest snapshot with a VIX value at or before ts.
func (s *Store) VIXAt(ctx context.Context, symbol string, ts time.Time) (*models.MarketSnapshot, error) {
	return lookup(ctx, s, func() []models.MarketSnapshot { return s.vix[symbol] }, ts, snapshotTS)
}

// PeakAt returns the latest peak of rank at or before ts.
func (s *Store) PeakAt(ctx context.Context, symbol string, ts time.Time, rank int) (*models.GEXPeak, error) {
	return lookup(ctx, s, func() []models.GEXPeak { return s.peaks[peakKey{symbol, rank}] }, ts, peakTS)
}

// QuoteAt returns the latest quote for strike and type at or before ts.
func (s *Store) QuoteAt(ctx context.Context, symbol string, strike float64, optType models.OptionType, ts time.Time) (*models.OptionQuote, error) {
	return lookup(ctx, s, func() []models.OptionQuote { return s.quotes[quoteKey{symbol, optType, strike}] }, ts, quoteTS)
}

// TimestampsAfter returns up to limit snapshot timestamps strictly after start.
func (s *Store) TimestampsAfter(ctx context.Context, symbol string, start time.Time, limit int) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", storage.ErrInvalidInput)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	series := s.snapshots[symbol]
	i := sort.Search(len(series), func(i int) bool { return series[i].Timestamp.After(start) })
	out := make([]time.Time, 0, min(limit, len(series)-i))
	for ; i < len(series) && len(out) < limit; i++ {
		out = append(out, series[i].Timestamp)
	}
	return out, nil
}

// Close marks the store closed. Further calls return storage.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
