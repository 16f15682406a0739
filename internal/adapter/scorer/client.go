// Package scorer provides an HTTP client for the semantic alignment
// classifier service.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/civicforge/civicforge/internal/config"
	"github.com/civicforge/civicforge/internal/domain/moderation"
	"github.com/civicforge/civicforge/internal/resilience"
)

// Client talks to the alignment scorer's scoring API. It implements the
// classifier port.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new scorer client from config.
func NewClient(cfg config.Scorer) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type classifyRequest struct {
	Content string `json:"content"`
}

// Classify sends content to the scorer and returns its semantic verdict.
func (c *Client) Classify(ctx context.Context, content string) (*moderation.LayerBResult, error) {
	body, err := json.Marshal(classifyRequest{Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/v1/score", body)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	var result moderation.LayerBResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal classify response: %w", err)
	}
	return &result, nil
}

// Health checks if the scorer is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("scorer API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
