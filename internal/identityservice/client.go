// Package identityservice is the HTTP client for the external anti-detect
// identity provider. The provider owns the actual browser profiles; the
// engine only holds the external IDs and asks it to create, start, stop and
// verify them.
package identityservice

import (
	"bytes"
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

// Client implements schemas.IdentityService against the provider's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// -- Provider API Request/Response Structures (Internal to this file) --

type createProfileRequest struct {
	OS       string `json:"os"`
	Browser  string `json:"browser"`
	Timezone string `json:"timezone"`
	Language string `json:"language"`
}

type createProfileResponse struct {
	ID string `json:"id"`
}

type startProfileResponse struct {
	WSEndpoint string `json:"ws_endpoint"`
}

// NewClient initializes the client.
func NewClient(cfg config.IdentityConfig, logger *zap.Logger) (*Client, error) {
	if cfg.ServiceURL == "" {
		return nil, fmt.Errorf("identity service URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.ServiceURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.Named("identity_service"),
	}, nil
}

// Create provisions a new browsing identity with the given fingerprint and
// returns the provider's ID for it.
func (c *Client) Create(ctx context.Context, fp schemas.Fingerprint) (string, error) {
	body, err := json.Marshal(createProfileRequest{
		OS:       fp.OS,
		Browser:  fp.Browser,
		Timezone: fp.Timezone,
		Language: fp.Language,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal profile request: %w", err)
	}

	var resp createProfileResponse
	if err := c.doJSON(ctx, http.MethodPost, "/profiles", body, &resp); err != nil {
		return "", fmt.Errorf("failed to create browsing identity: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("identity provider returned an empty profile ID")
	}

	c.logger.Info("Provisioned browsing identity",
		zap.String("external_id", resp.ID),
		zap.String("os", fp.OS),
		zap.String("timezone", fp.Timezone))
	return resp.ID, nil
}

// Start boots the identity's browser and returns the CDP websocket endpoint.
func (c *Client) Start(ctx context.Context, externalID string) (string, error) {
	var resp startProfileResponse
	path := "/profiles/" + externalID + "/start"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", fmt.Errorf("failed to start browsing identity %s: %w", externalID, err)
	}
	if resp.WSEndpoint == "" {
		return "", fmt.Errorf("identity provider returned no websocket endpoint for %s", externalID)
	}
	return resp.WSEndpoint, nil
}

// Stop shuts the identity's browser down.
func (c *Client) Stop(ctx context.Context, externalID string) error {
	path := "/profiles/" + externalID + "/stop"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("failed to stop browsing identity %s: %w", externalID, err)
	}
	return nil
}

// Verify probes the identity. A 404 from the provider maps to
// schemas.ErrStaleIdentity so callers can rotate the profile record.
func (c *Client) Verify(ctx context.Context, externalID string) error {
	err := c.doJSON(ctx, http.MethodGet, "/profiles/"+externalID, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to verify browsing identity %s: %w", externalID, err)
	}
	return nil
}

// doJSON performs one API call with retries on transient failures and
// decodes the response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = time.Minute
	b.MaxInterval = 10 * time.Second

	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Network error during identity provider request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
			}
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (c *Client) handleAPIError(statusCode int, body []byte) error {
	if statusCode == http.StatusNotFound {
		return backoff.Permanent(schemas.ErrStaleIdentity)
	}

	c.logger.Error("Identity provider returned error status",
		zap.Int("status", statusCode), zap.String("response", string(body)))
	err := fmt.Errorf("identity provider error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
		return err // Transient errors, retry.
	default:
		return backoff.Permanent(err) // Permanent errors.
	}
}

var _ schemas.IdentityService = (*Client)(nil)
