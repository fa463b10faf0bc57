// Package observability provides Prometheus metrics and logger setup.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "gex_replay"

// Metrics holds the harness metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TicksProcessed  prometheus.Counter
	TicksSkipped    *prometheus.CounterVec
	SetupsProposed  *prometheus.CounterVec
	EntriesRejected *prometheus.CounterVec
	TradesOpened    *prometheus.CounterVec
	TradesClosed    *prometheus.CounterVec
	TradePnL        prometheus.Histogram
	Balance         prometheus.Gauge
	OpenTrades      prometheus.Gauge
	RunDuration     prometheus.Histogram
	RunsTotal       *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them on reg. A nil reg leaves
// them unregistered, which tests and grid workers use.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	m := &Metrics{
		TicksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harness",
			Name:      "ticks_processed_total",
			Help:      "Total number of clock ticks evaluated",
		}),
		TicksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harness",
			Name:      "ticks_skipped_total",
			Help:      "Ticks skipped before the entry and exit phases, by reason",
		}, []string{"reason"}),
		SetupsProposed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "setups_proposed_total",
			Help:      "Setups proposed, by spread type",
		}, []string{"spread_type"}),
		EntriesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "entries_rejected_total",
			Help:      "Proposed setups that were not opened, by reason",
		}, []string{"reason"}),
		TradesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "opened_total",
			Help:      "Trades opened, by spread type",
		}, []string{"spread_type"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "closed_total",
			Help:      "Trades closed, by exit reason",
		}, []string{"reason"}),
		TradePnL: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "pnl_dollars",
			Help:      "Realized P&L per closed trade",
			Buckets:   []float64{-1000, -500, -250, -100, -50, 0, 50, 100, 250, 500, 1000},
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "balance_dollars",
			Help:      "Current simulated account balance",
		}),
		OpenTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "open_trades",
			Help:      "Number of currently open trades",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "harness",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a replay run",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "harness",
			Name:      "runs_total",
			Help:      "Replay runs, by outcome",
		}, []string{"outcome"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.TicksProcessed, m.TicksSkipped, m.SetupsProposed, m.EntriesRejected,
			m.TradesOpened, m.TradesClosed, m.TradePnL, m.Balance, m.OpenTrades,
			m.RunDuration, m.RunsTotal,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Tick records one evaluated tick.
func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.TicksProcessed.Inc()
}

// Skip records a tick that stopped before trading, e.g. "vix_filter".
func (m *Metrics) Skip(reason string) {
	if m == nil {
		return
	}
	m.TicksSkipped.WithLabelValues(reason).Inc()
}

// Proposed records a non-skip setup.
func (m *Metrics) Proposed(spreadType string) {
	if m == nil {
		return
	}
	m.SetupsProposed.WithLabelValues(spreadType).Inc()
}

// Rejected records a setup that failed pricing or sizing.
func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.EntriesRejected.WithLabelValues(reason).Inc()
}

// Opened records a new trade and the resulting open count.
func (m *Metrics) Opened(spreadType string, open int) {
	if m == nil {
		return
	}
	m.TradesOpened.WithLabelValues(spreadType).Inc()
	m.OpenTrades.Set(float64(open))
}

// Closed records a closed trade with its P&L and the new balance.
func (m *Metrics) Closed(reason string, pnl, balance float64, open int) {
	if m == nil {
		return
	}
	m.TradesClosed.WithLabelValues(reason).Inc()
	m.TradePnL.Observe(pnl)
	m.Balance.Set(balance)
	m.OpenTrades.Set(float64(open))
}

// SetBalance sets the balance gauge.
func (m *Metrics) SetBalance(balance float64) {
	if m == nil {
		return
	}
	m.Balance.Set(balance)
}

// RunFinished records a run's duration and outcome ("ok", "error", "canceled").
func (m *Metrics) RunFinished(d time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(d.Seconds())
	m.RunsTotal.WithLabelValues(outcome).Inc()
}
