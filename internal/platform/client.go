// Package platform is a thin HTTP client for the internal pipeline
// services (website analysis, proposal generation, discovery, site
// builds). The worker dispatches non-email job types through it.
package platform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Config holds pipeline service connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client calls the pipeline services over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client. A zero timeout defaults to 60s.
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Run invokes one pipeline operation with a JSON payload and returns
// the raw JSON response. Non-2xx responses are errors and retryable by
// the caller's policy.
func (c *Client) Run(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/internal/v1/%s", c.baseURL, operation)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline call %s failed: %w", operation, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline response: %w", err)
	}

	c.logger.Debug("Pipeline call finished",
		slog.String("operation", operation),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pipeline call %s returned status %d: %s", operation, resp.StatusCode, body)
	}
	return body, nil
}
