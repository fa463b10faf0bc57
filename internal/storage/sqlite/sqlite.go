// Package sqlite implements the snapshot store over a SQLite database file.
// A store holds one persistent connection for its lifetime.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/clock"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS market_snapshots (
	symbol TEXT NOT NULL,
	ts     TEXT NOT NULL,
	price  REAL NOT NULL,
	vix    REAL,
	PRIMARY KEY (symbol, ts)
);
CREATE TABLE IF NOT EXISTS gex_peaks (
	symbol TEXT    NOT NULL,
	ts     TEXT    NOT NULL,
	rank   INTEGER NOT NULL,
	strike REAL    NOT NULL,
	gex    REAL    NOT NULL,
	PRIMARY KEY (symbol, rank, ts)
);
CREATE TABLE IF NOT EXISTS option_quotes (
	symbol      TEXT NOT NULL,
	ts          TEXT NOT NULL,
	option_type TEXT NOT NULL,
	strike      REAL NOT NULL,
	bid         REAL NOT NULL,
	ask         REAL NOT NULL,
	PRIMARY KEY (symbol, option_type, strike, ts)
);
`

// Store is a SQLite-backed storage.Store.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
	closeErr  error
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn (a file path, "file:" URI or ":memory:") and creates
// the schema if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: sqlite dsn is empty", storage.ErrInvalidInput)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Store) withTx(ctx context.Context, query string, fn func(stmt *sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InsertSnapshots upserts underlying snapshots. VIX <= 0 is stored as NULL.
func (s *Store) InsertSnapshots(ctx context.Context, rows []models.MarketSnapshot) error {
	const q = `INSERT INTO market_snapshots (symbol, ts, price, vix) VALUES (?, ?, ?, ?)
		ON CONFLICT (symbol, ts) DO UPDATE SET price = excluded.price, vix = excluded.vix`
	return s.withTx(ctx, q, func(stmt *sql.Stmt) error {
		for _, r := range rows {
			if r.Symbol == "" || r.Timestamp.IsZero() {
				return fmt.Errorf("%w: snapshot needs symbol and timestamp", storage.ErrInvalidInput)
			}
			var vix sql.NullFloat64
			if r.VIX > 0 {
				vix = sql.NullFloat64{Float64: r.VIX, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx, r.Symbol, clock.FormatTimestamp(r.Timestamp), r.Price, vix); err != nil {
				return fmt.Errorf("insert snapshot: %w", err)
			}
		}
		return nil
	})
}

// InsertPeaks upserts ranked GEX peaks.
func (s *Store) InsertPeaks(ctx context.Context, rows []models.GEXPeak) error {
	const q = `INSERT INTO gex_peaks (symbol, ts, rank, strike, gex) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (symbol, rank, ts) DO UPDATE SET strike = excluded.strike, gex = excluded.gex`
	return s.withTx(ctx, q, func(stmt *sql.Stmt) error {
		for _, r := range rows {
			if r.Symbol == "" || r.Timestamp.IsZero() || r.Rank < 1 {
				return fmt.Errorf("%w: peak needs symbol, timestamp and rank >= 1", storage.ErrInvalidInput)
			}
			if _, err := stmt.ExecContext(ctx, r.Symbol, clock.FormatTimestamp(r.Timestamp), r.Rank, r.Strike, r.GEX); err != nil {
				return fmt.Errorf("insert peak: %w", err)
			}
		}
		return nil
	})
}

// InsertQuotes upserts option quotes.
func (s *Store) InsertQuotes(ctx context.Context, rows []models.OptionQuote) error {
	const q = `INSERT INTO option_quotes (symbol, ts, option_type, strike, bid, ask) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, option_type, strike, ts) DO UPDATE SET bid = excluded.bid, ask = excluded.ask`
	return s.withTx(ctx, q, func(stmt *sql.Stmt) error {
		for _, r := range rows {
			if r.Symbol == "" || r.Timestamp.IsZero() || !r.Type.Valid() {
				return fmt.Errorf("%w: quote needs symbol, timestamp and option type", storage.ErrInvalidInput)
			}
			if _, err := stmt.ExecContext(ctx, r.Symbol, clock.FormatTimestamp(r.Timestamp),
				string(r.Type), r.Strike, r.Bid, r.Ask); err != nil {
				return fmt.Errorf("insert quote: %w", err)
			}
		}
		return nil
	})
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) snapshotAt(ctx context.Context, query, symbol string, ts time.Time) (*models.MarketSnapshot, error) {
	var (
		raw  string
		snap models.MarketSnapshot
		vix  sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, query, symbol, clock.FormatTimestamp(ts)).Scan(&raw, &snap.Price, &vix)
	if err != nil {
		return nil, notFound(err)
	}
	if snap.Timestamp, err = clock.ParseTimestamp(raw); err != nil {
		return nil, err
	}
	snap.Symbol = symbol
	if vix.Valid {
		snap.VIX = vix.Float64
	}
	return &snap, nil
}

// PriceAt returns the latest snapshot at or before ts.
func (s *Store) PriceAt(ctx context.Context, symbol string, ts time.Time) (*models.MarketSnapshot, error) {
	return s.snapshotAt(ctx, `SELECT ts, price, vix FROM market_snapshots
		WHERE symbol = ? AND ts <= ? ORDER BY ts DESC LIMIT 1`, symbol, ts)
}

// VIXAt returns the latest snapshot carrying a VIX value at or before ts.
func (s *Store) VIXAt(ctx context.Context, symbol string, ts time.Time) (*models.MarketSnapshot, error) {
	return s.snapshotAt(ctx, `SELECT ts, price, vix FROM market_snapshots
		WHERE symbol = ? AND ts <= ? AND vix IS NOT NULL ORDER BY ts DESC LIMIT 1`, symbol, ts)
}

// PeakAt returns the latest peak of rank at or before ts.
func (s *Store) PeakAt(ctx context.Context, symbol string, ts time.Time, rank int) (*models.GEXPeak, error) {
	const q = `SELECT ts, strike, gex FROM gex_peaks
		WHERE symbol = ? AND rank = ? AND ts <= ? ORDER BY ts DESC LIMIT 1`
	var raw string
	p := models.GEXPeak{Symbol: symbol, Rank: rank}
	err := s.db.QueryRowContext(ctx, q, symbol, rank, clock.FormatTimestamp(ts)).Scan(&raw, &p.Strike, &p.GEX)
	if err != nil {
		return nil, notFound(err)
	}
	if p.Timestamp, err = clock.ParseTimestamp(raw); err != nil {
		return nil, err
	}
	return &p, nil
}

// QuoteAt returns the latest quote for strike and type at or before ts.
func (s *Store) QuoteAt(ctx context.Context, symbol string, strike float64, optType models.OptionType, ts time.Time) (*models.OptionQuote, error) {
	const q = `SELECT ts, bid, ask FROM option_quotes
		WHERE symbol = ? AND option_type = ? AND strike = ? AND ts <= ? ORDER BY ts DESC LIMIT 1`
	var raw string
	quote := models.OptionQuote{Symbol: symbol, Strike: strike, Type: optType}
	err := s.db.QueryRowContext(ctx, q, symbol, string(optType), strike, clock.FormatTimestamp(ts)).
		Scan(&raw, &quote.Bid, &quote.Ask)
	if err != nil {
		return nil, notFound(err)
	}
	if quote.Timestamp, err = clock.ParseTimestamp(raw); err != nil {
		return nil, err
	}
	return &quote, nil
}

// TimestampsAfter returns up to limit snapshot timestamps strictly after start, ascending.
func (s *Store) TimestampsAfter(ctx context.Context, symbol string, start time.Time, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", storage.ErrInvalidInput)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT ts FROM market_snapshots
		WHERE symbol = ? AND ts > ? ORDER BY ts ASC LIMIT ?`, symbol, clock.FormatTimestamp(start), limit)
	if err != nil {
		return nil, fmt.Errorf("query timestamps: %w", err)
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		ts, err := clock.ParseTimestamp(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}
