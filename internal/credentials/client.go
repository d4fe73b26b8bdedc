// Package credentials fetches decrypted login material from the external
// credential store. The engine never sees keys or ciphertext; decryption is
// entirely the store's concern.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/m0rphlin/operetta/api/schemas"
	"github.com/m0rphlin/operetta/internal/config"
)

// Client implements schemas.CredentialSource against the store's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient initializes the client.
func NewClient(cfg config.CredentialStoreConfig, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("credential store URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("credential_store"),
	}, nil
}

// GetDecryptedCredentials fetches login material for the account, retrying
// transient store failures.
func (c *Client) GetDecryptedCredentials(ctx context.Context, accountID string) (*schemas.Credentials, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	b.MaxInterval = 5 * time.Second

	var creds schemas.Credentials
	operation := func() error {
		url := c.baseURL + "/accounts/" + accountID + "/credentials"
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Network error during credential fetch, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
			return fmt.Errorf("credential store error: status %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("credential store error: status %d, body: %s", resp.StatusCode, string(body)))
		}

		if err := json.Unmarshal(body, &creds); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode credentials payload: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("failed to fetch credentials for account %s: %w", accountID, err)
	}
	return &creds, nil
}

var _ schemas.CredentialSource = (*Client)(nil)
