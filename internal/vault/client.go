package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"tradepilot/config"
)

// ErrNotFound is returned when a user has no stored credentials for a venue.
var ErrNotFound = errors.New("venue credentials not found")

// Credentials holds one user's API keys for one venue.
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Venue     string `json:"venue"`
}

// Client wraps the HashiCorp Vault client. Credentials are cached
// in memory after the first read; with Vault disabled the cache is the
// only store, which is how tests and local development run.
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]*Credentials // "{userID}/{venue}"
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config: cfg,
			cache:  make(map[string]*Credentials),
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]*Credentials),
	}, nil
}

// StoreCredentials writes a user's credentials for a venue.
func (c *Client) StoreCredentials(ctx context.Context, userID string, creds Credentials) error {
	c.mu.Lock()
	c.cache[c.cacheKey(userID, creds.Venue)] = &creds
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
			"venue":      creds.Venue,
		},
	}

	_, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(userID, creds.Venue), secretData)
	if err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}
	return nil
}

// GetCredentials retrieves a user's credentials for a venue. Returns
// ErrNotFound when the user never stored keys for the venue.
func (c *Client) GetCredentials(ctx context.Context, userID, venue string) (*Credentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[c.cacheKey(userID, venue)]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, ErrNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(userID, venue))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		Venue:     venue,
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, ErrNotFound
	}

	c.mu.Lock()
	c.cache[c.cacheKey(userID, venue)] = creds
	c.mu.Unlock()

	return creds, nil
}

// DeleteCredentials removes a user's credentials for a venue.
func (c *Client) DeleteCredentials(ctx context.Context, userID, venue string) error {
	c.mu.Lock()
	delete(c.cache, c.cacheKey(userID, venue))
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	_, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(userID, venue))
	if err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

// InvalidateUser drops cached credentials for a user, forcing the next read
// back to Vault.
func (c *Client) InvalidateUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := userID + "/"
	for key := range c.cache {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(c.cache, key)
		}
	}
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(userID, venue string) string {
	return fmt.Sprintf("%s/data/%s/%s/%s", c.config.MountPath, c.config.SecretPath, userID, venue)
}

func (c *Client) metadataPath(userID, venue string) string {
	return fmt.Sprintf("%s/metadata/%s/%s/%s", c.config.MountPath, c.config.SecretPath, userID, venue)
}

func (c *Client) cacheKey(userID, venue string) string {
	return fmt.Sprintf("%s/%s", userID, venue)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMemoryClient creates a cache-only client for testing.
func NewMemoryClient() *Client {
	return &Client{
		config: config.VaultConfig{Enabled: false},
		cache:  make(map[string]*Credentials),
	}
}
