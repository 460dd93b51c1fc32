package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

const defaultRateURL = "https://api.exchangerate-api.com/v4/latest/"

// DefaultSource fetches the live rate table from exchangerate-api.com (free,
// keyless endpoint).
func DefaultSource(base string, timeout time.Duration) RateSource {
	return SourceURL(defaultRateURL+base, timeout)
}

// SourceURL builds a RateSource against a specific endpoint, used when the
// operator points the bot at a mirror or a test server.
func SourceURL(url string, timeout time.Duration) RateSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context) (map[string]decimal.Decimal, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build rate request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch rates: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("rate source returned HTTP %d", resp.StatusCode)
		}

		var payload struct {
			Rates map[string]float64 `json:"rates"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode rate response: %w", err)
		}
		if len(payload.Rates) == 0 {
			return nil, fmt.Errorf("rate source returned no rates")
		}

		rates := make(map[string]decimal.Decimal, len(payload.Rates))
		for code, rate := range payload.Rates {
			rates[code] = decimal.NewFromFloat(rate)
		}
		return rates, nil
	}
}
