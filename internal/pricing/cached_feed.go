package pricing

import (
	"context"

	"tradepilot/internal/database"
)

// cachedFeed writes every successful observation through to the
// last-known price cache. The feed itself never serves cached prices to
// the monitors; a symbol that cannot be priced this tick stays unpriced.
type cachedFeed struct {
	inner Feed
	cache *database.RedisPriceCache
}

// WithCache wraps a feed so successful reads update the last-known price
// cache.
func WithCache(inner Feed, cache *database.RedisPriceCache) Feed {
	return &cachedFeed{inner: inner, cache: cache}
}

func (f *cachedFeed) Price(ctx context.Context, symbol string) (float64, error) {
	price, err := f.inner.Price(ctx, symbol)
	if err != nil {
		return 0, err
	}
	f.cache.Set(ctx, symbol, price)
	return price, nil
}
