// Package signals supplies entry signals to the monitors. Signals come
// from an external analysis service when one is configured, with an
// offline generator for paper and development runs.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"

	"tradepilot/config"
	"tradepilot/internal/logging"
)

// Signal directions.
const (
	Buy  = "BUY"
	Sell = "SELL"
	Hold = "HOLD"
)

// Signal is one entry recommendation for a symbol. Confidence is 0-100;
// the monitor ignores signals below its threshold.
type Signal struct {
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

// Provider supplies signals for a batch of symbols.
type Provider interface {
	Signals(ctx context.Context, symbols []string) ([]Signal, error)
}

// httpProvider reads signals from an analysis service.
type httpProvider struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// NewHTTPProvider creates a provider backed by the configured signal
// service.
func NewHTTPProvider(cfg config.SignalsConfig) Provider {
	return &httpProvider{
		baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logging.WithComponent("signals"),
	}
}

type signalRequest struct {
	Symbols []string `json:"symbols"`
}

type signalResponse struct {
	Signals []Signal `json:"signals"`
}

func (p *httpProvider) Signals(ctx context.Context, symbols []string) ([]Signal, error) {
	payload, err := json.Marshal(signalRequest{Symbols: symbols})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/v1/signals", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signal service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signal service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var sr signalResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("malformed signal response: %w", err)
	}
	return sr.Signals, nil
}

// simProvider generates offline signals. Mostly HOLD with occasional
// directional signals so paper sessions actually open positions.
type simProvider struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimProvider creates an offline signal generator.
func NewSimProvider(seed int64) Provider {
	return &simProvider{rng: rand.New(rand.NewSource(seed))}
}

func (p *simProvider) Signals(_ context.Context, symbols []string) ([]Signal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Signal, 0, len(symbols))
	for _, symbol := range symbols {
		s := Signal{Symbol: symbol, Direction: Hold}
		switch roll := p.rng.Float64(); {
		case roll < 0.08:
			s.Direction = Buy
			s.Confidence = 50 + p.rng.Float64()*50
		case roll < 0.12:
			s.Direction = Sell
			s.Confidence = 50 + p.rng.Float64()*50
		}
		out = append(out, s)
	}
	return out, nil
}
