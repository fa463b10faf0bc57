package stores

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
)

const fixture = `{
  "snapshots": [{"symbol": "SPX", "timestamp": "2025-01-06T15:00:00Z", "price": 6020, "vix": 16}],
  "peaks": [{"symbol": "SPX", "timestamp": "2025-01-06T15:00:00Z", "rank": 1, "strike": 6010, "gex": 1.2e9}],
  "quotes": [
    {"symbol": "SPX", "timestamp": "2025-01-06T15:00:00Z", "strike": 6035, "type": "CALL", "bid": 1.4, "ask": 1.5},
    {"symbol": "SPX", "timestamp": "2025-01-06T15:00:00Z", "strike": 6040, "type": "CALL", "bid": 0.55, "ask": 0.6}
  ]
}`

func TestOpenAndImport(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			s, err := Open(ctx, config.StorageConfig{Driver: driver, DSN: filepath.Join(t.TempDir(), "replay.db")})
			require.NoError(t, err)
			defer s.Close()

			n, err := Import(ctx, s, strings.NewReader(fixture))
			require.NoError(t, err)
			assert.Equal(t, 4, n)

			at := time.Date(2025, 1, 6, 15, 5, 0, 0, time.UTC)
			snap, err := s.PriceAt(ctx, "SPX", at)
			require.NoError(t, err)
			assert.Equal(t, 6020.0, snap.Price)

			q, err := s.QuoteAt(ctx, "SPX", 6040, models.Call, at)
			require.NoError(t, err)
			assert.Equal(t, 0.6, q.Ask)
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: "mysql", DSN: "x"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestImport_Rejects(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)

	_, err = Import(context.Background(), s, strings.NewReader(`{"bogus": []}`))
	assert.Error(t, err)

	_, err = Import(context.Background(), s, strings.NewReader(
		`{"quotes": [{"symbol": "SPX", "timestamp": "2025-01-06T15:00:00Z", "strike": 6035, "type": "STRADDLE"}]}`))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
