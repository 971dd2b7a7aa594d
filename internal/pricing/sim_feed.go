package pricing

import (
	"context"
	"math/rand"
	"sync"
)

// simFeed is a random-walk price simulator used when no pricing service is
// configured. Each symbol drifts around its seed price with a bounded step
// so stop-loss and take-profit levels get exercised in paper runs.
type simFeed struct {
	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
	// stepPct is the max fractional move per read.
	stepPct float64
}

// NewSimFeed creates a simulated feed seeded with starting prices.
func NewSimFeed(seed int64, startPrices map[string]float64) Feed {
	prices := make(map[string]float64, len(startPrices))
	for symbol, price := range startPrices {
		prices[symbol] = price
	}
	return &simFeed{
		prices:  prices,
		rng:     rand.New(rand.NewSource(seed)),
		stepPct: 0.004,
	}
}

func (f *simFeed) Price(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.prices[symbol]
	if !ok {
		// Unseeded symbols start at a nominal 100.
		price = 100
	}

	step := (f.rng.Float64()*2 - 1) * f.stepPct
	price *= 1 + step
	f.prices[symbol] = price
	return price, nil
}
