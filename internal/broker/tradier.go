// Package broker provides the Tradier market-data client used by the live signal.
// It reads quotes and option chains only; it never places orders.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/thechuck88/gamma-gex-scalper-sub000/internal/models"
)

const (
	productionURL = "https://api.tradier.com/v1"
	sandboxURL    = "https://sandbox.tradier.com/v1"
)

// StrikeMatchEpsilon is the tolerance used when matching strikes in a chain.
const StrikeMatchEpsilon = 1e-3

// ErrNoQuote is returned when the API answers without a quote for the symbol.
var ErrNoQuote = errors.New("no quote returned")

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// TradierAPI is a rate-limited client for Tradier's market-data endpoints.
type TradierAPI struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  logrus.FieldLogger
	apiKey  string
	baseURL string
	sandbox bool
}

// ClientOption configures a TradierAPI.
type ClientOption func(*TradierAPI)

// WithBaseURL overrides the API root (tests, proxies).
func WithBaseURL(u string) ClientOption {
	return func(t *TradierAPI) {
		if u != "" {
			t.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func WithHTTPClient(c *http.Client) ClientOption {
	return func(t *TradierAPI) {
		if c != nil {
			t.client = c
		}
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(t *TradierAPI) {
		if d > 0 {
			t.client.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second. Zero disables limiting.
func WithRateLimit(perSec float64) ClientOption {
	return func(t *TradierAPI) {
		if perSec <= 0 {
			t.limiter = nil
			return
		}
		burst := int(math.Ceil(perSec))
		t.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) ClientOption {
	return func(t *TradierAPI) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTradierAPI creates a client. Sandbox selects the sandbox API root.
func NewTradierAPI(apiKey string, sandbox bool, opts ...ClientOption) *TradierAPI {
	baseURL := productionURL
	if sandbox {
		baseURL = sandboxURL
	}
	t := &TradierAPI{
		client:  &http.Client{Timeout: 10 * time.Second},
		apiKey:  apiKey,
		baseURL: baseURL,
		sandbox: sandbox,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ============ API Response Structures ============

// Handle single-object vs array responses from Tradier
type singleOrArray[T any] []T

func (s *singleOrArray[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`"null"`)) {
		return nil
	}
	if b[0] == '[' {
		return json.Unmarshal(b, (*[]T)(s))
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = append(*s, one)
	return nil
}

// OptionChainResponse represents the API response for option chain requests.
type OptionChainResponse struct {
	Options struct {
		Option singleOrArray[Option] `json:"option"`
	} `json:"options"`
}

// Option represents an option contract from the Tradier API.
type Option struct {
	Symbol         string  `json:"symbol"`
	OptionType     string  `json:"option_type"`
	ExpirationDate string  `json:"expiration_date"`
	Underlying     string  `json:"underlying"`
	RootSymbol     string  `json:"root_symbol"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Last           float64 `json:"last"`
	Strike         float64 `json:"strike"`
	OpenInterest   int64   `json:"open_interest"`
	Volume         int64   `json:"volume"`
}

// Quote returns the bid/ask pair of the contract.
func (o Option) Quote() models.Quote {
	return models.Quote{Bid: o.Bid, Ask: o.Ask}
}

// QuotesResponse represents the quotes response from the Tradier API.
type QuotesResponse struct {
	Quotes struct {
		Quote singleOrArray[QuoteItem] `json:"quote"`
	} `json:"quotes"`
}

// QuoteItem represents a single quote item from the Tradier API.
type QuoteItem struct {
	Symbol    string  `json:"symbol"`
	Type      string  `json:"type"`
	Last      float64 `json:"last"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	PrevClose float64 `json:"prevclose"`
	TradeDate int64   `json:"trade_date"` // epoch milliseconds
}

// Price returns the last trade, falling back to the bid/ask midpoint.
func (q QuoteItem) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return 0
}

// ============ API Methods ============

// GetQuotes retrieves quotes for one or more symbols.
func (t *TradierAPI) GetQuotes(ctx context.Context, symbols ...string) ([]QuoteItem, error) {
	if len(symbols) == 0 {
		return nil, errors.New("at least one symbol is required")
	}
	params := url.Values{}
	params.Set("symbols", strings.Join(symbols, ","))
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/quotes?" + params.Encode()

	var response QuotesResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}
	return []QuoteItem(response.Quotes.Quote), nil
}

// GetQuote retrieves the current market quote for a symbol.
func (t *TradierAPI) GetQuote(ctx context.Context, symbol string) (*QuoteItem, error) {
	quotes, err := t.GetQuotes(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for i := range quotes {
		if strings.EqualFold(quotes[i].Symbol, symbol) {
			return &quotes[i], nil
		}
	}
	return nil, fmt.Errorf("%w for symbol: %s", ErrNoQuote, symbol)
}

// GetOptionChain retrieves the option chain for a symbol and expiration (YYYY-MM-DD).
func (t *TradierAPI) GetOptionChain(ctx context.Context, symbol, expiration string) ([]Option, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("expiration", expiration)
	params.Set("greeks", "false")
	endpoint := t.baseURL + "/markets/options/chains?" + params.Encode()

	var response OptionChainResponse
	if err := t.makeRequestCtx(ctx, http.MethodGet, endpoint, &response); err != nil {
		return nil, err
	}
	return []Option(response.Options.Option), nil
}

// makeRequestCtx makes an HTTP request with context support for timeout/cancellation
func (t *TradierAPI) makeRequestCtx(ctx context.Context, method, endpoint string, response interface{}) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+t.apiKey)
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "gex-scalper/1.0 (+tradier)")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.WithError(err).Warn("failed to close response body")
		}
	}()

	if remaining := resp.Header.Get("X-Ratelimit-Available"); remaining != "" && t.sandbox {
		t.logger.WithField("remaining", remaining).Debug("tradier rate limit")
	}

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s (retry-after: %s)", method, endpoint, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> %s", method, endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// ============ Helper Functions ============

// GetOptionByStrike finds the contract for strike and type in a chain.
func GetOptionByStrike(options []Option, strike float64, optionType models.OptionType) *Option {
	want := strings.ToLower(string(optionType))
	for i := range options {
		if math.Abs(options[i].Strike-strike) <= StrikeMatchEpsilon && options[i].OptionType == want {
			return &options[i]
		}
	}
	return nil
}

// ExpirationFor returns the same-day expiration date for ts in loc.
func ExpirationFor(ts time.Time, loc *time.Location) string {
	return ts.In(loc).Format("2006-01-02")
}
