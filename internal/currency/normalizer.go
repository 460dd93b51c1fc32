// Package currency normalizes receipt amounts to the ledger's base currency
// using a time-bounded cache of exchange rates. A refresh failure never
// escapes this package: it degrades to a static fallback table, and an
// unknown currency degrades to a 1:1 rate.
package currency

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
)

//go:embed fallback.yaml
var fallbackYAML []byte

var (
	fallbackOnce  sync.Once
	fallbackRates map[string]decimal.Decimal
)

// loadFallback parses the embedded fallback table once per process.
func loadFallback() map[string]decimal.Decimal {
	fallbackOnce.Do(func() {
		var doc struct {
			Rates map[string]float64 `yaml:"rates"`
		}
		fallbackRates = map[string]decimal.Decimal{}
		if err := yaml.Unmarshal(fallbackYAML, &doc); err != nil {
			// The table is compiled in; a parse failure is a build defect.
			panic(fmt.Sprintf("currency: embedded fallback table: %v", err))
		}
		for code, rate := range doc.Rates {
			fallbackRates[strings.ToUpper(code)] = decimal.NewFromFloat(rate)
		}
	})
	return fallbackRates
}

// RateSource fetches the full rate table relative to the base currency:
// units of each currency per 1 unit of base.
type RateSource func(ctx context.Context) (map[string]decimal.Decimal, error)

// Config configures the Normalizer.
type Config struct {
	BaseCurrency string        // default "USD"
	CacheTTL     time.Duration // default 1 hour
	Source       RateSource    // default: exchangerate-api.com
	Clock        domain.Clock
	Logger       *slog.Logger
}

// Normalizer converts amounts into the base currency. One shared instance
// holds the rate cache; a racing refresh is last-writer-wins.
type Normalizer struct {
	base   string
	ttl    time.Duration
	source RateSource
	clock  domain.Clock
	logger *slog.Logger

	mu        sync.RWMutex
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

// New creates a Normalizer.
func New(cfg Config) *Normalizer {
	base := strings.ToUpper(cfg.BaseCurrency)
	if base == "" {
		base = "USD"
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	source := cfg.Source
	if source == nil {
		source = DefaultSource(base, 0)
	}
	return &Normalizer{
		base:   base,
		ttl:    ttl,
		source: source,
		clock:  clock,
		logger: cfg.Logger,
	}
}

// BaseCurrency returns the ledger's base currency code.
func (n *Normalizer) BaseCurrency() string { return n.base }

// Rate returns how many units of code equal 1 unit of the base currency, and
// whether the code was actually known (live cache or fallback table). Unknown
// codes report rate 1 and known=false.
func (n *Normalizer) Rate(ctx context.Context, code string) (decimal.Decimal, bool) {
	code = strings.ToUpper(code)
	if code == n.base {
		return decimal.NewFromInt(1), true
	}

	n.refreshIfStale(ctx)

	n.mu.RLock()
	rate, ok := n.rates[code]
	n.mu.RUnlock()
	if ok {
		return rate, true
	}

	if rate, ok := loadFallback()[code]; ok {
		n.logger.Warn("using fallback exchange rate", "currency", code, "rate", rate)
		return rate, true
	}

	// Treat as already in base currency rather than failing the request.
	return decimal.NewFromInt(1), false
}

// Convert normalizes amount from the given currency into the base currency,
// rounded to minor-unit precision. Same-currency and unknown-currency inputs
// short-circuit with rate 1 and WasConverted=false.
func (n *Normalizer) Convert(ctx context.Context, amount decimal.Decimal, code string) domain.Conversion {
	code = strings.ToUpper(code)
	one := decimal.NewFromInt(1)

	if code == n.base {
		return domain.Conversion{Amount: amount, Rate: one, From: n.base, WasConverted: false}
	}

	rate, known := n.Rate(ctx, code)
	if !known {
		return domain.Conversion{Amount: amount, Rate: one, From: code, WasConverted: false}
	}

	converted := amount.DivRound(rate, 2)
	return domain.Conversion{Amount: converted, Rate: rate, From: code, WasConverted: true}
}

func (n *Normalizer) refreshIfStale(ctx context.Context) {
	n.mu.RLock()
	fresh := !n.fetchedAt.IsZero() && n.clock.Now().Sub(n.fetchedAt) <= n.ttl
	n.mu.RUnlock()
	if fresh {
		return
	}

	rates, err := n.source(ctx)
	if err != nil {
		n.logger.Warn("exchange rate refresh failed, keeping previous/fallback rates", "err", err)
		return
	}

	upper := make(map[string]decimal.Decimal, len(rates))
	for code, rate := range rates {
		upper[strings.ToUpper(code)] = rate
	}

	n.mu.Lock()
	n.rates = upper
	n.fetchedAt = n.clock.Now()
	n.mu.Unlock()
	n.logger.Info("exchange rates refreshed", "currencies", len(upper))
}
