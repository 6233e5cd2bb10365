package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// configPath is the backend endpoint serving the webphone configuration.
const configPath = "/phone/webphone/config"

// Client is an HTTP client for the webphone backend API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchConfig retrieves the webphone configuration. A user without a
// provisioned SIP account yields HasAccount == false with a nil Account.
func (c *Client) FetchConfig(ctx context.Context) (*Config, error) {
	body := bytes.NewReader([]byte("{}"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+configPath, body)
	if err != nil {
		return nil, fmt.Errorf("build config request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch config: unexpected status %d", resp.StatusCode)
	}

	var cfg Config
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.HasAccount && cfg.Account == nil {
		return nil, fmt.Errorf("config marked has_account but carries no account")
	}
	return &cfg, nil
}
