package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/broker"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/config"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/marketdata"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/observability"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/retry"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/storage/stores"
	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/strategy"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	interval := flag.Duration("interval", 0, "Re-evaluate on this interval (0 evaluates once)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Environment.LogLevel, cfg.Environment.LogFormat)
	if err != nil {
		logrus.Fatalf("Failed to create logger: %v", err)
	}
	if cfg.Broker.APIKey == "" {
		logger.Fatal("broker.api_key is required for the live signal")
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg, *interval, logger); err != nil {
		logger.Fatalf("Signal error: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, interval time.Duration, logger *logrus.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	opts := []broker.ClientOption{broker.WithLogger(logger)}
	if cfg.Broker.BaseURL != "" {
		opts = append(opts, broker.WithBaseURL(cfg.Broker.BaseURL))
	}
	if cfg.Broker.Timeout > 0 {
		opts = append(opts, broker.WithTimeout(cfg.Broker.Timeout))
	}
	if cfg.Broker.RatePerSec > 0 {
		opts = append(opts, broker.WithRateLimit(cfg.Broker.RatePerSec))
	}
	api := broker.NewTradierAPI(cfg.Broker.APIKey, cfg.Broker.Sandbox, opts...)
	md := broker.NewCircuitBreakerClient(api, broker.DefaultCircuitBreakerSettings, retry.NewClient(logger), logger)

	peaks, err := stores.Open(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening peak store: %w", err)
	}
	data, err := marketdata.NewLiveProvider(md, peaks, loc)
	if err != nil {
		_ = peaks.Close()
		return err
	}
	defer func() {
		if err := data.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close provider")
		}
	}()

	proposer := strategy.NewGEXPinStrategy(&cfg.Strategy)
	once := func() error {
		rep, err := evaluate(ctx, cfg, data, proposer, time.Now().In(loc))
		if err != nil {
			return err
		}
		return report(os.Stdout, rep, logger)
	}

	if interval <= 0 {
		return once()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := once(); err != nil {
			logger.WithError(err).Error("Evaluation failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func report(w io.Writer, rep Report, logger logrus.FieldLogger) error {
	if rep.Skip != "" {
		logger.Infof("No setup: %s", rep.Skip)
	}
	for _, c := range rep.Candidates {
		fields := logrus.Fields{"rank": c.Rank, "pin": c.Pin, "credit": fmt.Sprintf("%.2f", c.Credit)}
		if c.Tradeable {
			logger.WithFields(fields).Infof("SIGNAL %s", c.Setup.Description)
		} else {
			logger.WithFields(fields).Infof("No trade: %s", c.Reason)
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
