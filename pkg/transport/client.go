// Package transport is the generic HTTP collaborator every other portal
// package sits on: it shapes requests against the school backend's REST API,
// attaches the bearer token and device-identifier headers, and normalizes
// the backend's JSON response envelope and error statuses.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Pagination is the backend's listing metadata.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Envelope is the backend's uniform response shape.
type Envelope struct {
	Success    bool                `json:"success"`
	Data       json.RawMessage     `json:"data"`
	Pagination *Pagination         `json:"pagination,omitempty"`
	Errors     map[string][]string `json:"errors,omitempty"`
	Code       string              `json:"code,omitempty"`
	Message    string              `json:"message,omitempty"`
}

// TokenSource yields the current bearer token, or "" when unauthenticated.
type TokenSource interface {
	Token() string
}

// DeviceIDSource yields the persistent device identifier, or "" before one
// has been generated.
type DeviceIDSource interface {
	DeviceID() string
}

// Config holds configuration for the Client.
type Config struct {
	BaseURL string
	// Timeout applies per request. Defaults to 15s.
	Timeout time.Duration
}

// Client is a thin JSON client over net/http. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	device     DeviceIDSource
	logger     zerolog.Logger
}

// NewClient creates a Client. tokens and device may be nil for unauthenticated
// use (for example the public marketing endpoints).
func NewClient(cfg *Config, tokens TokenSource, device DeviceIDSource, logger zerolog.Logger) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		tokens:     tokens,
		device:     device,
		logger:     logger.With().Str("component", "Client").Logger(),
	}, nil
}

// Get issues a GET request with optional query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Envelope, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Envelope, error) {
	return c.do(ctx, http.MethodPut, path, nil, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Envelope, error) {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*Envelope, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if c.device != nil {
		if id := c.device.DeviceID(); id != "" {
			req.Header.Set("X-Device-ID", id)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s failed: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response for %s %s: %w", method, path, err)
	}

	// Decode the envelope best-effort; error statuses may carry one too.
	var env Envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("failed to decode response for %s %s: %w", method, path, err)
		}
	}

	if resp.StatusCode >= 300 {
		return nil, c.statusError(resp.StatusCode, &env, method, path)
	}
	return &env, nil
}

// statusError maps a non-2xx response onto the error taxonomy.
func (c *Client) statusError(status int, env *Envelope, method, path string) error {
	c.logger.Debug().Int("status", status).Str("code", env.Code).Str("path", method+" "+path).Msg("API error response.")

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case http.StatusConflict:
		if env.Code == deviceConflictCode {
			return fmt.Errorf("%s %s: %w", method, path, ErrDeviceConflict)
		}
	case http.StatusUnprocessableEntity:
		return &ValidationError{Fields: env.Errors}
	}
	return &APIError{Status: status, Code: env.Code, Message: env.Message}
}
