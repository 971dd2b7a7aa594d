// Redis-backed cache for last-known reference prices. When Redis is
// unavailable the cache falls back to an in-memory map so monitoring
// continues without interruption.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"tradepilot/internal/logging"
)

const (
	// priceKeyPrefix is the prefix for cached price keys.
	// Format: tradepilot:price:{symbol}
	priceKeyPrefix = "tradepilot:price"
)

// CachedPrice is one last-known price observation.
type CachedPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisPriceCache stores last-known prices in Redis with an in-memory
// fallback when Redis is unavailable.
type RedisPriceCache struct {
	client    *redis.Client
	ttl       time.Duration
	memory    map[string]*CachedPrice
	mu        sync.RWMutex
	available atomic.Bool
	log       *logging.Logger
}

// NewRedisPriceCache creates a price cache. If client is nil the cache
// operates in memory-only mode.
func NewRedisPriceCache(client *redis.Client, ttl time.Duration) *RedisPriceCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	cache := &RedisPriceCache{
		client: client,
		ttl:    ttl,
		memory: make(map[string]*CachedPrice),
		log:    logging.WithComponent("price-cache"),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			cache.log.Warn("Redis unavailable at startup, using in-memory cache", "error", err)
			cache.available.Store(false)
		} else {
			cache.log.Info("Redis price cache connected")
			cache.available.Store(true)
		}
	} else {
		cache.log.Info("No Redis client provided, using in-memory cache only")
		cache.available.Store(false)
	}

	return cache
}

func priceKey(symbol string) string {
	return fmt.Sprintf("%s:%s", priceKeyPrefix, symbol)
}

// Set records a price observation for a symbol.
func (c *RedisPriceCache) Set(ctx context.Context, symbol string, price float64) {
	cached := &CachedPrice{Symbol: symbol, Price: price, UpdatedAt: time.Now().UTC()}

	c.mu.Lock()
	c.memory[symbol] = cached
	c.mu.Unlock()

	if c.client == nil || !c.available.Load() {
		return
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, priceKey(symbol), data, c.ttl).Err(); err != nil {
		c.log.Warn("Redis write failed, falling back to memory", "symbol", symbol, "error", err)
		c.available.Store(false)
	}
}

// Get returns the last-known price for a symbol, or nil if none is cached.
func (c *RedisPriceCache) Get(ctx context.Context, symbol string) *CachedPrice {
	if c.client != nil && c.available.Load() {
		data, err := c.client.Get(ctx, priceKey(symbol)).Bytes()
		if err == nil {
			var cached CachedPrice
			if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
				return &cached
			}
		} else if err != redis.Nil {
			c.log.Warn("Redis read failed, falling back to memory", "symbol", symbol, "error", err)
			c.available.Store(false)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.memory[symbol]
	if !ok || time.Since(cached.UpdatedAt) > c.ttl {
		return nil
	}
	return cached
}

// Reconnect re-checks Redis availability. Called periodically so the cache
// recovers once Redis comes back.
func (c *RedisPriceCache) Reconnect(ctx context.Context) {
	if c.client == nil || c.available.Load() {
		return
	}
	if err := c.client.Ping(ctx).Err(); err == nil {
		c.log.Info("Redis price cache reconnected")
		c.available.Store(true)
	}
}
