package pricing

import (
	"context"
	"testing"
	"time"

	"tradepilot/internal/database"
)

func TestSimFeedWalksAroundSeedPrice(t *testing.T) {
	feed := NewSimFeed(1, map[string]float64{"BTCUSDT": 60000})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		price, err := feed.Price(ctx, "BTCUSDT")
		if err != nil {
			t.Fatalf("sim feed must always price: %v", err)
		}
		// Bounded step: 100 ticks of at most 0.4% stay well inside this.
		if price < 30000 || price > 120000 {
			t.Fatalf("price walked out of range: %f", price)
		}
	}
}

func TestSimFeedUnseededSymbol(t *testing.T) {
	feed := NewSimFeed(1, nil)
	price, err := feed.Price(context.Background(), "XRPUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price <= 0 {
		t.Fatalf("expected positive price, got %f", price)
	}
}

func TestCachedFeedWritesThrough(t *testing.T) {
	cache := database.NewRedisPriceCache(nil, time.Minute)
	feed := WithCache(NewSimFeed(1, map[string]float64{"BTCUSDT": 60000}), cache)

	ctx := context.Background()
	price, err := feed.Price(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("price failed: %v", err)
	}

	cached := cache.Get(ctx, "BTCUSDT")
	if cached == nil {
		t.Fatal("successful read must populate the cache")
	}
	if cached.Price != price {
		t.Fatalf("cache holds %f, feed returned %f", cached.Price, price)
	}
}
