// Package tracker provides an HTTP client for the external validator
// performance tracker. All calls are best-effort from the caller's point
// of view; this client just reports transport and API errors.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/civicforge/civicforge/internal/config"
)

// Client implements the tracker port against the tracker's REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new tracker client from config.
func NewClient(cfg config.Tracker) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type metricsUpdate struct {
	Recommendation    string `json:"recommendation"`
	AutomatedDecision string `json:"automated_decision,omitempty"`
}

// UpdateMetrics reports one validator's recommendation against the automated
// decision for the same submission.
func (c *Client) UpdateMetrics(ctx context.Context, validatorID, recommendation, automatedDecision string) error {
	body, err := json.Marshal(metricsUpdate{
		Recommendation:    recommendation,
		AutomatedDecision: automatedDecision,
	})
	if err != nil {
		return fmt.Errorf("marshal metrics update: %w", err)
	}
	path := "/v1/validators/" + validatorID + "/metrics"
	if err := c.doRequest(ctx, http.MethodPost, path, body); err != nil {
		return fmt.Errorf("update metrics: %w", err)
	}
	return nil
}

// CheckTierChange asks the tracker to re-evaluate the validator's tier.
func (c *Client) CheckTierChange(ctx context.Context, validatorID string) error {
	path := "/v1/validators/" + validatorID + "/tier-check"
	if err := c.doRequest(ctx, http.MethodPost, path, nil); err != nil {
		return fmt.Errorf("tier check: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tracker API error %d: %s", resp.StatusCode, string(data))
	}
	return nil
}
