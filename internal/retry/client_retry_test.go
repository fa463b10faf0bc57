package retry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// --- Test helpers ---

// scripted returns an operation that fails with errTransient until call
// successAfterN, then succeeds. A non-nil errPermanent is returned every time.
type scripted struct {
	callCount     int32
	successAfterN int
	errTransient  error
	errPermanent  error
}

func (s *scripted) fn(ctx context.Context) (float64, error) {
	n := atomic.AddInt32(&s.callCount, 1)
	if s.errPermanent != nil {
		return 0, s.errPermanent
	}
	if s.successAfterN > 0 && int(n) < s.successAfterN {
		if s.errTransient != nil {
			return 0, s.errTransient
		}
		return 0, errors.New("timeout")
	}
	return 6020.5, nil
}

func (s *scripted) calls() int {
	return int(atomic.LoadInt32(&s.callCount))
}

// makeClient builds a Client with controllable timing and a buffer-backed logger.
func makeClient(t *testing.T, cfg Config) (*Client, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return NewClient(l, cfg), &buf
}

func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        time.Second,
	}
}

// --- Tests ---

func TestNewClient_ConfigSanitizationAndDefaults(t *testing.T) {
	c := NewClient(nil, Config{MaxRetries: -1})

	if c.logger == nil {
		t.Fatalf("expected logger to be non-nil (defaulted)")
	}
	if c.config != DefaultConfig {
		t.Fatalf("config sanitized: got %+v want %+v", c.config, DefaultConfig)
	}

	l := logrus.New()
	c2 := NewClient(l)
	if c2.logger != l {
		t.Fatalf("expected provided logger to be used")
	}
}

func TestIsTransientError_Patterns(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout", errors.New("request TIMEOUT while processing"), true},
		{"conn refused", errors.New("connection refused by target"), true},
		{"conn reset", errors.New("read: connection reset by peer"), true},
		{"temporary failure", errors.New("temporary failure in name resolution"), true},
		{"server error", errors.New("internal server error"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"429", errors.New("API error 429: GET /markets/quotes -> slow down"), true},
		{"502", errors.New("502 bad gateway"), true},
		{"503", errors.New("Service Unavailable (503)"), true},
		{"504", errors.New("504 Gateway Timeout"), true},
		{"network", errors.New("network unreachable"), true},
		{"dns", errors.New("dns lookup failed"), true},
		{"tcp", errors.New("tcp handshake failed"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"unauthorized", errors.New("API error 401: invalid token"), false},
		{"empty string", errors.New(""), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransientError(tc.err); got != tc.want {
				t.Fatalf("IsTransientError(%v)=%v want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestCalculateNextBackoff_GeneralBehavior(t *testing.T) {
	c, _ := makeClient(t, Config{
		MaxRetries:     2,
		InitialBackoff: 4 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Timeout:        1 * time.Second,
	})

	// multiply by 1.5 within max, with jitter in [0, backoff/4)
	next := c.calculateNextBackoff(4 * time.Millisecond)
	if next < 6*time.Millisecond || next >= 7500*time.Microsecond {
		t.Fatalf("unexpected next backoff: got %v, expected [6ms,7.5ms)", next)
	}

	// cap to MaxBackoff before jitter
	next2 := c.calculateNextBackoff(8 * time.Millisecond)
	if next2 < 10*time.Millisecond || next2 >= 12500*time.Microsecond {
		t.Fatalf("unexpected capped next backoff: got %v, expected [10ms,12.5ms)", next2)
	}

	if got := c.calculateNextBackoff(0); got != 0 {
		t.Fatalf("zero backoff expected to remain zero, got %v", got)
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	c, buf := makeClient(t, fastConfig())
	s := &scripted{}

	got, err := Do(context.Background(), c, "quote", s.fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 6020.5 {
		t.Fatalf("got %v", got)
	}
	if s.calls() != 1 {
		t.Fatalf("expected 1 call, got %d", s.calls())
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no log output, got %q", buf.String())
	}
}

func TestDo_RetriesOnTransientAndThenSucceeds(t *testing.T) {
	c, buf := makeClient(t, fastConfig())
	s := &scripted{successAfterN: 3, errTransient: errors.New("API error 503: unavailable")}

	got, err := Do(context.Background(), c, "chain", s.fn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 6020.5 || s.calls() != 3 {
		t.Fatalf("got %v after %d calls", got, s.calls())
	}
	if !strings.Contains(buf.String(), "transient error, retrying") {
		t.Fatalf("expected retry log, got %q", buf.String())
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	c, _ := makeClient(t, fastConfig())
	s := &scripted{successAfterN: 100}

	_, err := Do(context.Background(), c, "quote", s.fn)
	if err == nil || !strings.Contains(err.Error(), "failed after 4 attempts") {
		t.Fatalf("expected exhaustion error, got %v", err)
	}
	if s.calls() != 4 {
		t.Fatalf("expected 4 calls, got %d", s.calls())
	}
}

func TestDo_FailFastOnNonTransient(t *testing.T) {
	c, _ := makeClient(t, fastConfig())
	permanent := errors.New("API error 401: invalid token")
	s := &scripted{errPermanent: permanent}

	_, err := Do(context.Background(), c, "quote", s.fn)
	if !errors.Is(err, permanent) {
		t.Fatalf("expected wrapped permanent error, got %v", err)
	}
	if s.calls() != 1 {
		t.Fatalf("expected 1 call, got %d", s.calls())
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	c, _ := makeClient(t, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &scripted{}

	_, err := Do(ctx, c, "quote", s.fn)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.calls() != 0 {
		t.Fatalf("expected no calls, got %d", s.calls())
	}
}

func TestDo_TimeoutDuringBackoff(t *testing.T) {
	c, _ := makeClient(t, Config{
		MaxRetries:     5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     time.Second,
		Timeout:        20 * time.Millisecond,
	})
	s := &scripted{successAfterN: 100}

	start := time.Now()
	_, err := Do(context.Background(), c, "quote", s.fn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out during backoff") {
		t.Fatalf("unexpected error text: %v", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("backoff was not interrupted by the timeout")
	}
}
