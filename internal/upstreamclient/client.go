// Package upstreamclient implements C1: an authenticated HTTP client for
// the upstream proxy engine's read-only status API
// (/configs, /rules, /proxies, /providers/rules), with exponential
// backoff + jitter retries per spec.md §4.1.
package upstreamclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"routesync/internal/config"
	"routesync/internal/model"
	"routesync/internal/retry"
)

// ClientError is a non-retryable 4xx response from the upstream API.
type ClientError struct {
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.StatusCode, e.Body)
}

// ExhaustedError wraps the last error seen after the retry budget for an
// operation ran out.
type ExhaustedError struct {
	Endpoint string
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted retries calling %s: %v", e.Endpoint, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Client is an HTTP reader for the upstream router's status API.
type Client struct {
	baseURL string
	secret  string
	retry   config.RetryConfig
	http    *http.Client
	log     *zap.Logger
}

// New builds a Client from process configuration.
func New(cfg *config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.UpstreamAPIURL, "/"),
		secret:  cfg.UpstreamAPISecret,
		retry:   cfg.RetryConfig,
		http:    &http.Client{Timeout: cfg.Timeout()},
		log:     log.Named("upstreamclient"),
	}
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	shouldRetry := func(err error) bool {
		var clientErr *ClientError
		return !errors.As(err, &clientErr)
	}

	body, err := retry.Do(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, endpoint)
	}, shouldRetry)
	if err != nil {
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			return clientErr
		}
		return &ExhaustedError{Endpoint: endpoint, Err: err}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, endpoint string) ([]byte, error) {
	url := c.baseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err // network/timeout error: retryable
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body from %s: %w", url, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &ClientError{StatusCode: resp.StatusCode, Body: truncate(string(data), 200)}
	default:
		return nil, fmt.Errorf("server error %d from %s: %s", resp.StatusCode, url, truncate(string(data), 200))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// GetConfigs performs GET /configs.
func (c *Client) GetConfigs(ctx context.Context) (model.ConfigsResponse, error) {
	var out model.ConfigsResponse
	err := c.get(ctx, "/configs", &out)
	return out, err
}

// GetRules performs GET /rules.
func (c *Client) GetRules(ctx context.Context) (model.RulesResponse, error) {
	var out model.RulesResponse
	err := c.get(ctx, "/rules", &out)
	return out, err
}

// GetProxies performs GET /proxies.
func (c *Client) GetProxies(ctx context.Context) (model.ProxiesResponse, error) {
	var out model.ProxiesResponse
	err := c.get(ctx, "/proxies", &out)
	return out, err
}

// GetProviders performs GET /providers/rules.
func (c *Client) GetProviders(ctx context.Context) (model.ProvidersResponse, error) {
	var out model.ProvidersResponse
	err := c.get(ctx, "/providers/rules", &out)
	return out, err
}

// CheckConnectivity is GetConfigs with errors coerced to a boolean, used
// only by the health-check endpoint (spec.md §4.1).
func (c *Client) CheckConnectivity(ctx context.Context) bool {
	_, err := c.GetConfigs(ctx)
	if err != nil {
		c.log.Debug("connectivity check failed", zap.Error(err))
		return false
	}
	return true
}
