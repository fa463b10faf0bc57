// Package storage defines the historical snapshot store contract used by the
// replay provider and the JSON store that keeps finished run results.
package storage

import (
	"context"
	"time"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
)

// SnapshotStore answers point-in-time questions over recorded market data.
//
// Every "At" lookup returns the record whose timestamp equals ts if one exists,
// otherwise the latest record strictly before ts. A record after ts is never
// returned. ErrNotFound means nothing was recorded at or before ts.
//
// Implementations must be safe for concurrent use.
type SnapshotStore interface {
	// PriceAt returns the latest underlying snapshot for symbol.
	PriceAt(ctx context.Context, symbol string, ts time.Time) (*models.MarketSnapshot, error)
	// VIXAt returns the latest snapshot for symbol that carries a VIX value.
	VIXAt(ctx context.Context, symbol string, ts time.Time) (*models.MarketSnapshot, error)
	// PeakAt returns the latest GEX peak of the given rank.
	PeakAt(ctx context.Context, symbol string, ts time.Time, rank int) (*models.GEXPeak, error)
	// QuoteAt returns the latest quote for one strike and option type.
	QuoteAt(ctx context.Context, symbol string, strike float64, optType models.OptionType, ts time.Time) (*models.OptionQuote, error)
	// TimestampsAfter returns up to limit snapshot timestamps strictly after start, ascending.
	TimestampsAfter(ctx context.Context, symbol string, start time.Time, limit int) ([]time.Time, error)
	Close() error
}

// SnapshotWriter loads recorded market data. Rows with an existing key are replaced.
type SnapshotWriter interface {
	InsertSnapshots(ctx context.Context, rows []models.MarketSnapshot) error
	InsertPeaks(ctx context.Context, rows []models.GEXPeak) error
	InsertQuotes(ctx context.Context, rows []models.OptionQuote) error
}

// Store is a snapshot store that can also be written to.
type Store interface {
	SnapshotStore
	SnapshotWriter
}

// ResultSink persists finished runs.
type ResultSink interface {
	SaveRun(rec RunRecord) error
}

// ResultReader lists persisted runs.
type ResultReader interface {
	Runs() []RunRecord
	Run(id string) (RunRecord, error)
}

// Ensure implementations satisfy the interfaces
var (
	_ SnapshotStore = (*MockStore)(nil)
	_ ResultSink    = (*ResultStore)(nil)
	_ ResultReader  = (*ResultStore)(nil)
)
