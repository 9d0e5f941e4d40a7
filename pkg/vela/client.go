// Package vela provides a Go SDK for the vela-server API.
package vela

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"vela/internal/backtest"
	"vela/internal/runstore"
)

// Client talks to a running vela-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new vela API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RunRequest mirrors the POST /api/backtest/run payload. Dates are YYYY-MM-DD.
type RunRequest struct {
	Tickers          []string `json:"tickers,omitempty"`
	Sector           string   `json:"sector,omitempty"`
	Start            string   `json:"start"`
	End              string   `json:"end"`
	StrategyVariant  string   `json:"strategy_variant,omitempty"`
	RiskLevel        string   `json:"risk_level,omitempty"`
	SentimentMode    string   `json:"sentiment_mode,omitempty"`
	InitialCapital   float64  `json:"initial_capital,omitempty"`
	MaxOpenPositions int      `json:"max_open_positions,omitempty"`
	BuyThreshold     float64  `json:"buy_threshold,omitempty"`
	SellThreshold    float64  `json:"sell_threshold,omitempty"`
	AllowShorts      bool     `json:"allow_shorts,omitempty"`
	BenchmarkTicker  string   `json:"benchmark_ticker,omitempty"`
	RunID            string   `json:"run_id,omitempty"`
}

// StartRun submits a backtest and returns its initial status.
func (c *Client) StartRun(ctx context.Context, req RunRequest) (*backtest.Status, error) {
	var status backtest.Status
	if err := c.do(ctx, http.MethodPost, "/api/backtest/run", req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Status reports the state of the current or most recent run.
func (c *Client) Status(ctx context.Context) (*backtest.Status, error) {
	var status backtest.Status
	if err := c.do(ctx, http.MethodGet, "/api/backtest/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// WaitForRun polls status until the run reaches a terminal state.
func (c *Client) WaitForRun(ctx context.Context, interval time.Duration) (*backtest.Status, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.Status(ctx)
		if err != nil {
			return nil, err
		}
		if status.State == backtest.StateComplete || status.State == backtest.StateError {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ListRuns returns summaries of all persisted runs, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]backtest.RunMeta, error) {
	var resp struct {
		Runs []backtest.RunMeta `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/backtest/results", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// GetRun fetches the full result of one run.
func (c *Client) GetRun(ctx context.Context, runID string) (*backtest.RunResult, error) {
	var result backtest.RunResult
	path := "/api/backtest/result/" + url.PathEscape(runID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteRun removes a persisted run.
func (c *Client) DeleteRun(ctx context.Context, runID string) error {
	path := "/api/backtest/result/" + url.PathEscape(runID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Compare returns a side-by-side metric table for the given runs.
func (c *Client) Compare(ctx context.Context, runIDs []string) (*runstore.Comparison, error) {
	req := map[string][]string{"run_ids": runIDs}
	var cmp runstore.Comparison
	if err := c.do(ctx, http.MethodPost, "/api/backtest/compare", req, &cmp); err != nil {
		return nil, err
	}
	return &cmp, nil
}

// Sectors returns the built-in universe grouped by sector.
func (c *Client) Sectors(ctx context.Context) ([]string, map[string][]string, error) {
	var resp struct {
		Sectors []string            `json:"sectors"`
		Tickers map[string][]string `json:"tickers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/universe/sectors", nil, &resp); err != nil {
		return nil, nil, err
	}
	return resp.Sectors, resp.Tickers, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
