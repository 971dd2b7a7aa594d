// Package pricing supplies reference prices to the monitors. Prices come
// from an external service when one is configured, with a random-walk
// simulator for offline and paper runs.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tradepilot/config"
	"tradepilot/internal/logging"
)

// ErrPriceUnavailable means no reference price could be obtained for the
// symbol this tick. The monitor skips evaluation rather than acting on a
// stale or absent price.
var ErrPriceUnavailable = errors.New("price unavailable")

// Feed supplies the current reference price for a symbol.
type Feed interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

// httpFeed reads prices from a pricing service.
type httpFeed struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// NewHTTPFeed creates a feed backed by the configured pricing service.
func NewHTTPFeed(cfg config.PricingConfig) Feed {
	return &httpFeed{
		baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logging.WithComponent("pricing"),
	}
}

type priceResponse struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,string"`
}

func (f *httpFeed) Price(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/api/v1/price?symbol=%s", f.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrPriceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}

	var pr priceResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return 0, fmt.Errorf("%w: malformed response: %v", ErrPriceUnavailable, err)
	}
	if pr.Price <= 0 {
		return 0, ErrPriceUnavailable
	}
	return pr.Price, nil
}

// retryFeed wraps a feed with one retry on failure. Transient pricing
// hiccups should not force a skipped tick.
type retryFeed struct {
	inner Feed
	delay time.Duration
}

// WithRetry wraps a feed so one transient failure is retried before the
// tick is skipped.
func WithRetry(inner Feed, delay time.Duration) Feed {
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	return &retryFeed{inner: inner, delay: delay}
}

func (f *retryFeed) Price(ctx context.Context, symbol string) (float64, error) {
	price, err := f.inner.Price(ctx, symbol)
	if err == nil {
		return price, nil
	}

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, ctx.Err())
	case <-time.After(f.delay):
	}
	return f.inner.Price(ctx, symbol)
}
