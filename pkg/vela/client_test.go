package vela

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vela/internal/backtest"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080"
	c := NewClient(baseURL)

	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.baseURL != baseURL {
		t.Errorf("expected baseURL %q, got %q", baseURL, c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestStartRunAndStatus(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		var req RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Tickers) != 1 || req.Tickers[0] != "AAPL" {
			t.Errorf("tickers = %v", req.Tickers)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(backtest.Status{State: backtest.StateRunning, RunID: "run_x"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	status, err := c.StartRun(context.Background(), RunRequest{
		Tickers: []string{"AAPL"}, Start: "2024-01-02", End: "2024-04-01",
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/backtest/run" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if status.State != backtest.StateRunning || status.RunID != "run_x" {
		t.Errorf("status = %+v", status)
	}
}

func TestWaitForRun(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls++
		state := backtest.StateRunning
		if polls >= 3 {
			state = backtest.StateComplete
		}
		json.NewEncoder(w).Encode(backtest.Status{State: state, RunID: "run_x"})
	}))
	defer srv.Close()

	status, err := NewClient(srv.URL).WaitForRun(context.Background(), time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if status.State != backtest.StateComplete {
		t.Errorf("state = %s, want complete", status.State)
	}
	if polls < 3 {
		t.Errorf("polls = %d, want at least 3", polls)
	}
}

func TestAPIErrorSurfacesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "run not found: run_y"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetRun(context.Background(), "run_y")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if apiErr.Message != "run not found: run_y" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestDeleteRunEscapesID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).DeleteRun(context.Background(), "run a/b"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/backtest/result/run%20a%2Fb" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestListRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"runs": []backtest.RunMeta{{RunID: "run_b"}, {RunID: "run_a"}},
		})
	}))
	defer srv.Close()

	runs, err := NewClient(srv.URL).ListRuns(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "run_b" {
		t.Errorf("runs = %+v", runs)
	}
}
