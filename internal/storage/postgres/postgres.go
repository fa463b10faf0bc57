// Package postgres implements the snapshot store over PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
)

// Schema creates the snapshot tables. Timestamps are TIMESTAMPTZ.
const Schema = `
CREATE TABLE IF NOT EXISTS market_snapshots (
	symbol TEXT             NOT NULL,
	ts     TIMESTAMPTZ      NOT NULL,
	price  DOUBLE PRECISION NOT NULL,
	vix    DOUBLE PRECISION,
	PRIMARY KEY (symbol, ts)
);
CREATE TABLE IF NOT EXISTS gex_peaks (
	symbol TEXT             NOT NULL,
	ts     TIMESTAMPTZ      NOT NULL,
	rank   INTEGER          NOT NULL,
	strike DOUBLE PRECISION NOT NULL,
	gex    DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, rank, ts)
);
CREATE TABLE IF NOT EXISTS option_quotes (
	symbol      TEXT             NOT NULL,
	ts          TIMESTAMPTZ      NOT NULL,
	option_type TEXT             NOT NULL,
	strike      DOUBLE PRECISION NOT NULL,
	bid         DOUBLE PRECISION NOT NULL,
	ask         DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (symbol, option_type, strike, ts)
);
`

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool      *Pool
	closeOnce sync.Once
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStore wraps an existing pool. The schema must already exist.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the pool. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(s.pool.Close)
	return nil
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	if batch.Len() == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert %s: %w", what, err)
	}
	return tx.Commit(ctx)
}

// InsertSnapshots upserts underlying snapshots. VIX <= 0 is stored as NULL.
func (s *Store) InsertSnapshots(ctx context.Context, rows []models.MarketSnapshot) error {
	const q = `INSERT INTO market_snapshots (symbol, ts, price, vix) VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol, ts) DO UPDATE SET price = EXCLUDED.price, vix = EXCLUDED.vix`
	batch := &pgx.Batch{}
	for _, r := range rows {
		if r.Symbol == "" || r.Timestamp.IsZero() {
			return fmt.Errorf("%w: snapshot needs symbol and timestamp", storage.ErrInvalidInput)
		}
		var vix *float64
		if r.VIX > 0 {
			v := r.VIX
			vix = &v
		}
		batch.Queue(q, r.Symbol, r.Timestamp.UTC(), r.Price, vix)
	}
	return s.sendBatch(ctx, batch, "snapshots")
}

// InsertPeaks upserts ranked GEX peaks.
func (s *Store) InsertPeaks(ctx context.Context, rows []models.GEXPeak) error {
	const q = `INSERT INTO gex_peaks (symbol, ts, rank, strike, gex) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol, rank, ts) DO UPDATE SET strike = EXCLUDED.strike, gex = EXCLUDED.gex`
	batch := &pgx.Batch{}
	for _, r := range rows {
		if r.Symbol == "" || r.Timestamp.IsZero() || r.Rank < 1 {
			return fmt.Errorf("%w: peak needs symbol, timestamp and rank >= 1", storage.ErrInvalidInput)
		}
		batch.Queue(q, r.Symbol, r.Timestamp.UTC(), r.Rank, r.Strike, r.GEX)
	}
	return s.sendBatch(ctx, batch, "peaks")
}

// InsertQuotes upserts option quotes.
func (s *Store) InsertQuotes(ctx context.Context, rows []models.OptionQuote) error {
	const q = `INSERT INTO option_quotes (symbol, ts, option_type, strike, bid, ask) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol, option_type, strike, ts) DO UPDATE SET bid = EXCLUDED.bid, ask = EXCLUDED.ask`
	batch := &pgx.Batch{}
	for _, r := range rows {
		if r.Symbol == "" || r.Timestamp.IsZero() || !r.Type.Valid() {
			return fmt.Errorf("%w: quote needs symbol, timestamp and option type", storage.ErrInvalidInput)
		}
		batch.Queue(q, r.Symbol, r.Timestamp.UTC(), string(r.Type), r.Strike, r.Bid, r.Ask)
	}
	return s.sendBatch(ctx, batch, "quotes")
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) snapshotAt(ctx context.Context, query, symbol string, ts time.Time) (*models.MarketSnapshot, error) {
	snap := models.MarketSnapshot{Symbol: symbol}
	var vix *float64
	if err := s.pool.QueryRow(ctx, query, symbol, ts.UTC()).Scan(&snap.Timestamp, &snap.Price, &vix); err != nil {
		return nil, notFound(err)
	}
	if vix != nil {
		snap.VIX = *vix
	}
	snap.Timestamp = snap.Timestamp.UTC()
	return &snap, nil
}

// PriceAt returns the latest snapshot at or before ts.
func (s *Store) PriceAt(ctx context.Context, symbol string, ts time.Time) (*models.MarketSnapshot, error) {
	return s.snapshotAt(ctx, `SELECT ts, price, vix FROM market_snapshots
		WHERE symbol = $1 AND ts <= $2 ORDER BY ts DESC LIMIT 1`, symbol, ts)
}

// VIXAt returns the latest snapshot carrying a VIX value at or before ts.
func (s *Store) VIXAt(ctx context.Context, symbol string, ts time.Time) (*models.MarketSnapshot, error) {
	return s.snapshotAt(ctx, `SELECT ts, price, vix FROM market_snapshots
		WHERE symbol = $1 AND ts <= $2 AND vix IS NOT NULL ORDER BY ts DESC LIMIT 1`, symbol, ts)
}

// PeakAt returns the latest peak of rank at or before ts.
func (s *Store) PeakAt(ctx context.Context, symbol string, ts time.Time, rank int) (*models.GEXPeak, error) {
	p := models.GEXPeak{Symbol: symbol, Rank: rank}
	err := s.pool.QueryRow(ctx, `SELECT ts, strike, gex FROM gex_peaks
		WHERE symbol = $1 AND rank = $2 AND ts <= $3 ORDER BY ts DESC LIMIT 1`,
		symbol, rank, ts.UTC()).Scan(&p.Timestamp, &p.Strike, &p.GEX)
	if err != nil {
		return nil, notFound(err)
	}
	p.Timestamp = p.Timestamp.UTC()
	return &p, nil
}

// QuoteAt returns the latest quote for strike and type at or before ts.
func (s *Store) QuoteAt(ctx context.Context, symbol string, strike float64, optType models.OptionType, ts time.Time) (*models.OptionQuote, error) {
	q := models.OptionQuote{Symbol: symbol, Strike: strike, Type: optType}
	err := s.pool.QueryRow(ctx, `SELECT ts, bid, ask FROM option_quotes
		WHERE symbol = $1 AND option_type = $2 AND strike = $3 AND ts <= $4 ORDER BY ts DESC LIMIT 1`,
		symbol, string(optType), strike, ts.UTC()).Scan(&q.Timestamp, &q.Bid, &q.Ask)
	if err != nil {
		return nil, notFound(err)
	}
	q.Timestamp = q.Timestamp.UTC()
	return &q, nil
}

// TimestampsAfter returns up to limit snapshot timestamps strictly after start, ascending.
func (s *Store) TimestampsAfter(ctx context.Context, symbol string, start time.Time, limit int) ([]time.Time, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", storage.ErrInvalidInput)
	}
	rows, err := s.pool.Query(ctx, `SELECT ts FROM market_snapshots
		WHERE symbol = $1 AND ts > $2 ORDER BY ts ASC LIMIT $3`, symbol, start.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query timestamps: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (time.Time, error) {
		var ts time.Time
		err := row.Scan(&ts)
		return ts.UTC(), err
	})
	if err != nil {
		return nil, fmt.Errorf("scan timestamps: %w", err)
	}
	return out, nil
}
