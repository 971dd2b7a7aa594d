package venue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradepilot/config"
	"tradepilot/internal/logging"
	"tradepilot/internal/vault"
)

// Resolver hands out per-user venue clients. Clients are cached per
// (user, venue) and evicted after an idle TTL so rotated credentials get
// picked up without a restart.
type Resolver struct {
	configs []config.VenueConfig
	vault   *vault.Client
	cache   sync.Map // "{userID}/{venue}" -> *cachedVenue
	ttl     time.Duration
	stopCh  chan struct{}
	once    sync.Once
	log     *logging.Logger
}

type cachedVenue struct {
	venue    Venue
	mu       sync.Mutex
	lastUsed time.Time
}

// NewResolver creates a resolver over the configured venues. Config order
// is the router's preference order.
func NewResolver(configs []config.VenueConfig, vaultClient *vault.Client) *Resolver {
	r := &Resolver{
		configs: configs,
		vault:   vaultClient,
		ttl:     30 * time.Minute,
		stopCh:  make(chan struct{}),
		log:     logging.WithComponent("venue-resolver"),
	}
	go r.cleanupLoop()
	return r
}

// Configs returns the venue configurations in preference order.
func (r *Resolver) Configs() []config.VenueConfig {
	return r.configs
}

// Venue returns a client for the named venue bound to the user's
// credentials. Returns *Error with CodeNoCredentials when the user has no
// keys stored for the venue.
func (r *Resolver) Venue(ctx context.Context, userID, name string) (Venue, error) {
	var cfg *config.VenueConfig
	for i := range r.configs {
		if r.configs[i].Name == name {
			cfg = &r.configs[i]
			break
		}
	}
	if cfg == nil {
		return nil, fmt.Errorf("unknown venue: %s", name)
	}

	key := userID + "/" + name
	if val, ok := r.cache.Load(key); ok {
		cached := val.(*cachedVenue)
		cached.mu.Lock()
		cached.lastUsed = time.Now()
		cached.mu.Unlock()
		return cached.venue, nil
	}

	creds, err := r.vault.GetCredentials(ctx, userID, name)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			return nil, &Error{Code: CodeNoCredentials, Venue: name,
				Message: "no credentials stored for user"}
		}
		return nil, &Error{Code: CodeConnectivity, Venue: name, Message: err.Error()}
	}

	v := NewREST(*cfg, creds.APIKey, creds.SecretKey)
	actual, _ := r.cache.LoadOrStore(key, &cachedVenue{venue: v, lastUsed: time.Now()})
	return actual.(*cachedVenue).venue, nil
}

// Invalidate drops cached clients for a user, forcing credential re-reads.
func (r *Resolver) Invalidate(userID string) {
	prefix := userID + "/"
	r.cache.Range(func(key, _ interface{}) bool {
		if k, ok := key.(string); ok && len(k) > len(prefix) && k[:len(prefix)] == prefix {
			r.cache.Delete(key)
		}
		return true
	})
	r.vault.InvalidateUser(userID)
}

// Close stops the background cleanup loop.
func (r *Resolver) Close() {
	r.once.Do(func() { close(r.stopCh) })
}

func (r *Resolver) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-r.ttl)
			evicted := 0
			r.cache.Range(func(key, val interface{}) bool {
				cached := val.(*cachedVenue)
				cached.mu.Lock()
				stale := cached.lastUsed.Before(cutoff)
				cached.mu.Unlock()
				if stale {
					r.cache.Delete(key)
					evicted++
				}
				return true
			})
			if evicted > 0 {
				r.log.Debug("Evicted idle venue clients", "count", evicted)
			}
		}
	}
}
