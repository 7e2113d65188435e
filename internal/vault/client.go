package vault

import (
	"context"
	"fmt"
	"sync"

	"smc-trading-core/config"

	"github.com/hashicorp/vault/api"
)

// Credentials is one account's broker login material stored in Vault.
type Credentials struct {
	Login    string `json:"login"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

// Client wraps the HashiCorp Vault client. With Vault disabled it degrades
// to an in-memory store so development setups need no Vault process.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu    sync.RWMutex
	cache map[string]*Credentials
}

// NewClient creates a Vault client from config.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{config: cfg, cache: make(map[string]*Credentials)}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// StoreCredentials writes one account's credentials.
func (c *Client) StoreCredentials(ctx context.Context, accountID string, creds Credentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[accountID] = &creds
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"login":    creds.Login,
			"password": creds.Password,
			"server":   creds.Server,
		},
	}
	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(accountID), secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[accountID] = &creds
	c.mu.Unlock()
	return nil
}

// GetCredentials reads one account's credentials, cache first.
func (c *Client) GetCredentials(ctx context.Context, accountID string) (*Credentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[accountID]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("credentials for %s not found and vault is disabled", accountID)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials for %s not found", accountID)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format for %s", accountID)
	}

	creds := &Credentials{
		Login:    getString(data, "login"),
		Password: getString(data, "password"),
		Server:   getString(data, "server"),
	}

	c.mu.Lock()
	c.cache[accountID] = creds
	c.mu.Unlock()
	return creds, nil
}

// DeleteCredentials removes one account's credentials.
func (c *Client) DeleteCredentials(ctx context.Context, accountID string) error {
	c.mu.Lock()
	delete(c.cache, accountID)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(accountID)); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

// ClearCache drops the in-memory copy; the next read hits Vault.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*Credentials)
	c.mu.Unlock()
}

// IsEnabled reports whether a real Vault backs this client.
func (c *Client) IsEnabled() bool { return c.config.Enabled }

// Health checks the Vault connection and seal state.
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

func (c *Client) secretPath(accountID string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, accountID)
}

func (c *Client) metadataPath(accountID string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, accountID)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
