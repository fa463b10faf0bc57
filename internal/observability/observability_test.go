package observability

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Tick()
		m.Skip("vix_filter")
		m.Proposed("CALL")
		m.Rejected("min_credit")
		m.Opened("CALL", 1)
		m.Closed("PROFIT_TARGET", 50, 10050, 0)
		m.SetBalance(1)
		m.RunFinished(time.Second, "ok")
	})
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics("test", reg)
	require.NoError(t, err)

	m.Tick()
	m.Tick()
	m.Opened("PUT", 2)
	m.Closed("STOP_LOSS", -30, 9970, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TicksProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesOpened.WithLabelValues("PUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TradesClosed.WithLabelValues("STOP_LOSS")))
	assert.Equal(t, 9970.0, testutil.ToFloat64(m.Balance))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenTrades))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetricsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics("dup", reg)
	require.NoError(t, err)
	_, err = NewMetrics("dup", reg)
	assert.Error(t, err)
}

func TestMetricsWithoutRegistry(t *testing.T) {
	m, err := NewMetrics("", nil)
	require.NoError(t, err)
	m.Skip("no_price")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksSkipped.WithLabelValues("no_price")))
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "debug", "json")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("trade_id", 7).Info("trade opened")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trade opened", entry["msg"])
	assert.Equal(t, 7.0, entry["trade_id"])

	_, err = newLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = newLogger(&buf, "info", "xml")
	assert.Error(t, err)
}
