package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/backtest"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/dashboard"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/marketdata"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/mock"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/observability"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage/stores"
)

type options struct {
	configPath string
	importPath string
	grid       string
	label      string
	parallel   int
	serve      bool
	synthetic  bool
	seed       uint64
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&opts.importPath, "import", "", "JSON fixture of snapshots, peaks and quotes to load before the run")
	flag.StringVar(&opts.grid, "grid", "", `Parameter grid, e.g. "stop_loss_pct=0.1,0.2;min_credit=0.5,0.7"`)
	flag.StringVar(&opts.label, "label", "", "Label stored with a single run")
	flag.IntVar(&opts.parallel, "parallel", 4, "Maximum concurrent grid runs")
	flag.BoolVar(&opts.serve, "serve", false, "Keep the dashboard running after the runs finish")
	flag.BoolVar(&opts.synthetic, "synthetic", false, "Generate a synthetic market for the replay window before the run")
	flag.Uint64Var(&opts.seed, "seed", 0, "Seed for -synthetic (0 picks one)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Environment.LogLevel, cfg.Environment.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping replay...")
		cancel()
	}()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Fatalf("Backtest error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *logrus.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics("", reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	results, err := storage.NewResultStore(cfg.Storage.ResultsPath)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv := dashboard.NewServer(dashboard.Config{
			Addr:      cfg.Metrics.Addr,
			AuthToken: cfg.Metrics.AuthToken,
		}, results, reg, logger)
		go func() {
			if err := srv.Start(); err != nil {
				logger.WithError(err).Error("Dashboard server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Warn("Dashboard shutdown failed")
			}
		}()
	}

	open, cleanup, err := providerFactory(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	axes, err := backtest.ParseAxes(opts.grid)
	if err != nil {
		return err
	}
	variants, err := backtest.Expand(cfg, axes)
	if err != nil {
		return err
	}
	if len(variants) == 1 && opts.label != "" {
		variants[0].Label = opts.label
	}
	logger.Infof("Running %d variant(s) with up to %d in parallel", len(variants), opts.parallel)

	started := time.Now().UTC()
	grid, err := backtest.RunGrid(ctx, variants, open, opts.parallel,
		backtest.WithLogger(logger), backtest.WithMetrics(metrics))
	if err != nil {
		return err
	}
	finished := time.Now().UTC()

	for _, g := range grid {
		if err := results.SaveRun(g.Result.Record(g.Variant.Label, g.Variant.Params, started, finished)); err != nil {
			return fmt.Errorf("saving run %s: %w", g.Result.RunID, err)
		}
		st := g.Result.Statistics
		logger.WithFields(logrus.Fields{
			"run_id":        g.Result.RunID.String(),
			"label":         g.Variant.Label,
			"trades":        st.TotalTrades,
			"win_rate":      fmt.Sprintf("%.1f%%", st.WinRate*100),
			"total_pnl":     fmt.Sprintf("$%.2f", st.TotalPnL),
			"profit_factor": fmt.Sprintf("%.2f", st.ProfitFactor),
			"max_drawdown":  fmt.Sprintf("$%.2f", st.MaxDrawdown),
			"open":          st.OpenTrades,
		}).Info("Run summary")
	}
	logger.Infof("Results written to %s", cfg.Storage.ResultsPath)

	if opts.serve && cfg.Metrics.Addr != "" {
		logger.Info("Serving dashboard until interrupted")
		<-ctx.Done()
	}
	return nil
}

// sharedStore keeps an in-memory store alive across runs.
type sharedStore struct {
	storage.Store
}

func (sharedStore) Close() error { return nil }

// providerFactory returns a factory that gives every run its own store
// connection. An in-memory store is shared, since it only holds what was
// loaded before the runs.
func providerFactory(ctx context.Context, cfg *config.Config, opts options, logger logrus.FieldLogger) (backtest.ProviderFactory, func(), error) {
	var shared storage.Store
	cleanup := func() {}

	if opts.importPath != "" || opts.synthetic || cfg.Storage.Driver == "memory" {
		st, err := stores.Open(ctx, cfg.Storage)
		if err != nil {
			return nil, nil, fmt.Errorf("opening store: %w", err)
		}
		if err := load(ctx, st, cfg, opts, logger); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
		if cfg.Storage.Driver == "memory" {
			shared = st
			cleanup = func() { _ = st.Close() }
		} else if err := st.Close(); err != nil {
			return nil, nil, fmt.Errorf("closing store: %w", err)
		}
	}

	open := func(ctx context.Context, c *config.Config) (marketdata.Provider, error) {
		var st storage.SnapshotStore
		if shared != nil {
			st = sharedStore{shared}
		} else {
			s, err := stores.Open(ctx, c.Storage)
			if err != nil {
				return nil, err
			}
			st = s
		}
		return marketdata.NewReplayProvider(st, c.Replay.Symbol, marketdata.WithMaxStaleness(c.Replay.MaxStaleness))
	}
	return open, cleanup, nil
}

func load(ctx context.Context, w storage.SnapshotWriter, cfg *config.Config, opts options, logger logrus.FieldLogger) error {
	if opts.importPath != "" {
		if err := importFile(ctx, w, opts.importPath, logger); err != nil {
			return err
		}
	}
	if !opts.synthetic {
		return nil
	}
	gen, err := mock.NewGenerator(cfg, mock.Options{Seed: opts.seed})
	if err != nil {
		return err
	}
	f, err := gen.Generate()
	if err != nil {
		return fmt.Errorf("generating synthetic market: %w", err)
	}
	if err := w.InsertSnapshots(ctx, f.Snapshots); err != nil {
		return err
	}
	if err := w.InsertPeaks(ctx, f.Peaks); err != nil {
		return err
	}
	if err := w.InsertQuotes(ctx, f.Quotes); err != nil {
		return err
	}
	logger.Infof("Generated %d synthetic snapshots (seed %d)", len(f.Snapshots), gen.Seed())
	return nil
}

func importFile(ctx context.Context, w storage.SnapshotWriter, path string, logger logrus.FieldLogger) error {
	f, err := os.Open(path) // #nosec G304 -- fixture path is a user-provided flag
	if err != nil {
		return fmt.Errorf("opening fixture: %w", err)
	}
	defer f.Close()

	n, err := stores.Import(ctx, w, f)
	if err != nil {
		return err
	}
	logger.Infof("Imported %d rows from %s", n, path)
	return nil
}
