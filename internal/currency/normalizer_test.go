package currency

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func staticSource(rates map[string]float64) RateSource {
	return func(ctx context.Context) (map[string]decimal.Decimal, error) {
		out := map[string]decimal.Decimal{}
		for code, r := range rates {
			out[code] = decimal.NewFromFloat(r)
		}
		return out, nil
	}
}

func TestConvertBaseCurrencyShortCircuits(t *testing.T) {
	n := New(Config{Source: staticSource(map[string]float64{"PHP": 56}), Logger: testLogger()})

	amount := decimal.RequireFromString("42.50")
	conv := n.Convert(context.Background(), amount, "USD")
	if conv.WasConverted {
		t.Error("same-currency conversion must report WasConverted=false")
	}
	if !conv.Rate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected rate 1, got %s", conv.Rate)
	}
	if !conv.Amount.Equal(amount) {
		t.Errorf("amount must pass through unchanged, got %s", conv.Amount)
	}
}

func TestConvertPHPRounding(t *testing.T) {
	n := New(Config{Source: staticSource(map[string]float64{"PHP": 56}), Logger: testLogger()})

	conv := n.Convert(context.Background(), decimal.NewFromInt(1500), "PHP")
	if !conv.WasConverted {
		t.Fatal("expected conversion for PHP")
	}
	// 1500 / 56 = 26.7857... -> 26.79 at minor-unit precision.
	if got := conv.Amount.StringFixed(2); got != "26.79" {
		t.Errorf("expected 26.79, got %s", got)
	}
	if !conv.Rate.Equal(decimal.NewFromInt(56)) {
		t.Errorf("expected rate 56, got %s", conv.Rate)
	}
	if conv.From != "PHP" {
		t.Errorf("expected From=PHP, got %s", conv.From)
	}
}

func TestConvertUnknownCodeDefaultsToBase(t *testing.T) {
	n := New(Config{Source: staticSource(map[string]float64{}), Logger: testLogger()})

	conv := n.Convert(context.Background(), decimal.NewFromInt(10), "XYZ")
	if conv.WasConverted {
		t.Error("unknown code must not report a conversion")
	}
	if !conv.Rate.Equal(decimal.NewFromInt(1)) || !conv.Amount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("unknown code must be 1:1, got amount=%s rate=%s", conv.Amount, conv.Rate)
	}
}

func TestFallbackTableOnSourceFailure(t *testing.T) {
	failing := func(ctx context.Context) (map[string]decimal.Decimal, error) {
		return nil, errors.New("boom")
	}
	n := New(Config{Source: failing, Logger: testLogger()})

	conv := n.Convert(context.Background(), decimal.NewFromInt(112), "PHP")
	if !conv.WasConverted {
		t.Fatal("fallback rate should still convert")
	}
	// Embedded fallback: 56 PHP per USD.
	if got := conv.Amount.StringFixed(2); got != "2.00" {
		t.Errorf("expected 2.00, got %s", got)
	}
}

func TestRefreshFailureNeverPropagates(t *testing.T) {
	failing := func(ctx context.Context) (map[string]decimal.Decimal, error) {
		return nil, errors.New("network down")
	}
	n := New(Config{Source: failing, Logger: testLogger()})

	// Unknown currency AND failed refresh: still a usable 1:1 result.
	conv := n.Convert(context.Background(), decimal.NewFromInt(5), "ZZZ")
	if conv.WasConverted || !conv.Rate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected 1:1 degradation, got %+v", conv)
	}
}

func TestCacheFreshnessWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	calls := 0
	source := func(ctx context.Context) (map[string]decimal.Decimal, error) {
		calls++
		return map[string]decimal.Decimal{"PHP": decimal.NewFromInt(56)}, nil
	}
	n := New(Config{Source: source, Clock: clock, CacheTTL: time.Hour, Logger: testLogger()})

	ctx := context.Background()
	n.Convert(ctx, decimal.NewFromInt(100), "PHP")
	n.Convert(ctx, decimal.NewFromInt(200), "PHP")
	if calls != 1 {
		t.Fatalf("fresh cache must not refetch, got %d calls", calls)
	}

	clock.Advance(2 * time.Hour)
	n.Convert(ctx, decimal.NewFromInt(300), "PHP")
	if calls != 2 {
		t.Errorf("stale cache must refetch, got %d calls", calls)
	}
}

func TestSourceURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rates":{"PHP":56.0,"EUR":0.92}}`))
	}))
	defer srv.Close()

	source := SourceURL(srv.URL, time.Second)
	rates, err := source(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !rates["PHP"].Equal(decimal.NewFromInt(56)) {
		t.Errorf("expected PHP=56, got %s", rates["PHP"])
	}
}

func TestSourceURLServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := SourceURL(srv.URL, time.Second)(context.Background()); err == nil {
		t.Error("expected error on HTTP 500")
	}
}
