// Package stores opens the configured snapshot store and loads recorded data into it.
package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage/memory"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage/postgres"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage/sqlite"
)

// Open connects to the store named by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(ctx, cfg.DSN)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", storage.ErrInvalidInput, cfg.Driver)
	}
}

// Fixture is the JSON layout accepted by Import.
type Fixture struct {
	Snapshots []models.MarketSnapshot `json:"snapshots"`
	Peaks     []models.GEXPeak        `json:"peaks"`
	Quotes    []models.OptionQuote    `json:"quotes"`
}

// Import decodes a fixture from r and writes it to w. It returns the number of
// rows written.
func Import(ctx context.Context, w storage.SnapshotWriter, r io.Reader) (int, error) {
	var f Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return 0, fmt.Errorf("decoding fixture: %w", err)
	}
	for _, q := range f.Quotes {
		if !q.Type.Valid() {
			return 0, fmt.Errorf("%w: quote type %q at strike %.2f", storage.ErrInvalidInput, q.Type, q.Strike)
		}
	}

	if err := w.InsertSnapshots(ctx, f.Snapshots); err != nil {
		return 0, fmt.Errorf("inserting snapshots: %w", err)
	}
	if err := w.InsertPeaks(ctx, f.Peaks); err != nil {
		return 0, fmt.Errorf("inserting peaks: %w", err)
	}
	if err := w.InsertQuotes(ctx, f.Quotes); err != nil {
		return 0, fmt.Errorf("inserting quotes: %w", err)
	}
	return len(f.Snapshots) + len(f.Peaks) + len(f.Quotes), nil
}
