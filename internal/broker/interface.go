package broker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/retry"
)

// MarketData is the read-only market-data surface the live signal needs.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (*QuoteItem, error)
	GetOptionChain(ctx context.Context, symbol, expiration string) ([]Option, error)
}

var _ MarketData = (*TradierAPI)(nil)

// CircuitBreakerClient wraps MarketData with retries and a circuit breaker.
// Each attempt goes through the breaker, so an open breaker stops retries.
type CircuitBreakerClient struct {
	md      MarketData
	breaker *gobreaker.CircuitBreaker
	retrier *retry.Client
}

var _ MarketData = (*CircuitBreakerClient)(nil)

// CircuitBreakerSettings configures the breaker.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// DefaultCircuitBreakerSettings trips after 60% failures over at least 5 requests.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	MaxRequests:  3,
	Interval:     60 * time.Second,
	Timeout:      30 * time.Second,
	MinRequests:  5,
	FailureRatio: 0.6,
}

func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	md MarketData,
	fn func(MarketData) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(md) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// NewCircuitBreakerClient wraps md. A nil retrier disables retries.
func NewCircuitBreakerClient(md MarketData, settings CircuitBreakerSettings, retrier *retry.Client, logger logrus.FieldLogger) *CircuitBreakerClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	gbSettings := gobreaker.Settings{
		Name:        "MarketDataCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerClient{
		md:      md,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
		retrier: retrier,
	}
}

// State reports the breaker state.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}

func call[T any](ctx context.Context, c *CircuitBreakerClient, op string, fn func(context.Context, MarketData) (T, error)) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		return execCircuitBreaker(c.breaker, c.md, func(md MarketData) (T, error) { return fn(ctx, md) })
	}
	if c.retrier == nil {
		return attempt(ctx)
	}
	return retry.Do(ctx, c.retrier, op, attempt)
}

// GetQuote retrieves a quote through the breaker.
func (c *CircuitBreakerClient) GetQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	return call(ctx, c, "get quote "+symbol, func(ctx context.Context, md MarketData) (*QuoteItem, error) {
		return md.GetQuote(ctx, symbol)
	})
}

// GetOptionChain retrieves an option chain through the breaker.
func (c *CircuitBreakerClient) GetOptionChain(ctx context.Context, symbol, expiration string) ([]Option, error) {
	return call(ctx, c, "get chain "+symbol, func(ctx context.Context, md MarketData) ([]Option, error) {
		return md.GetOptionChain(ctx, symbol, expiration)
	})
}
