package storage

import (
	"context"
	"sync"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
)

// MockStore is a scriptable SnapshotStore for tests. Each lookup returns the
// configured record (or ErrNotFound when nil) and the configured error.
type MockStore struct {
	Err        error
	Snapshot   *models.MarketSnapshot
	Peaks      map[int]*models.GEXPeak
	Quotes     map[models.OptionType]map[float64]*models.OptionQuote
	Timestamps []time.Time

	mu         sync.Mutex
	calls      int
	closeCalls int
}

// NewMockStore creates an empty mock.
func NewMockStore() *MockStore {
	return &MockStore{
		Peaks:  make(map[int]*models.GEXPeak),
		Quotes: make(map[models.OptionType]map[float64]*models.OptionQuote),
	}
}

func (m *MockStore) record() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.Err
}

// PriceAt returns the configured snapshot.
func (m *MockStore) PriceAt(_ context.Context, _ string, _ time.Time) (*models.MarketSnapshot, error) {
	if err := m.record(); err != nil {
		return nil, err
	}
	if m.Snapshot == nil {
		return nil, ErrNotFound
	}
	s := *m.Snapshot
	return &s, nil
}

// VIXAt returns the configured snapshot when it carries a VIX value.
func (m *MockStore) VIXAt(ctx context.Context, symbol string, ts time.Time) (*models.MarketSnapshot, error) {
	s, err := m.PriceAt(ctx, symbol, ts)
	if err != nil {
		return nil, err
	}
	if s.VIX <= 0 {
		return nil, ErrNotFound
	}
	return s, nil
}

// PeakAt returns the configured peak for rank.
func (m *MockStore) PeakAt(_ context.Context, _ string, _ time.Time, rank int) (*models.GEXPeak, error) {
	if err := m.record(); err != nil {
		return nil, err
	}
	p, ok := m.Peaks[rank]
	if !ok || p == nil {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

// QuoteAt returns the configured quote for strike and type.
func (m *MockStore) QuoteAt(_ context.Context, _ string, strike float64, optType models.OptionType, _ time.Time) (*models.OptionQuote, error) {
	if err := m.record(); err != nil {
		return nil, err
	}
	q, ok := m.Quotes[optType][strike]
	if !ok || q == nil {
		return nil, ErrNotFound
	}
	c := *q
	return &c, nil
}

// SetQuote registers a quote.
func (m *MockStore) SetQuote(q models.OptionQuote) {
	if m.Quotes[q.Type] == nil {
		m.Quotes[q.Type] = make(map[float64]*models.OptionQuote)
	}
	m.Quotes[q.Type][q.Strike] = &q
}

// TimestampsAfter returns the configured timestamps strictly after start.
func (m *MockStore) TimestampsAfter(_ context.Context, _ string, start time.Time, limit int) ([]time.Time, error) {
	if err := m.record(); err != nil {
		return nil, err
	}
	var out []time.Time
	for _, ts := range m.Timestamps {
		if ts.After(start) && (limit <= 0 || len(out) < limit) {
			out = append(out, ts)
		}
	}
	return out, nil
}

// Close counts calls.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return nil
}

// Calls returns the number of lookups made.
func (m *MockStore) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CloseCalls returns how many times Close was called.
func (m *MockStore) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}
