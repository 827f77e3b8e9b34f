package smartcfd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8090/")

	if c.baseURL != "http://localhost:8090" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("httpClient is nil")
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			t.Errorf("path = %q, want /api/v1/status", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"run_id":        7,
			"cycle_count":   42,
			"equity":        100_500.0,
			"broker_online": true,
			"halted":        true,
			"halt_reason":   "max daily drawdown exceeded: -6.00% < -5.00%",
		})
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if s.RunID != 7 || s.CycleCount != 42 {
		t.Errorf("run/cycles = %d/%d, want 7/42", s.RunID, s.CycleCount)
	}
	if !s.Halted || s.HaltReason == "" {
		t.Errorf("halt state = %v %q, want halted with reason", s.Halted, s.HaltReason)
	}
}

func TestHealthDegradedStillDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(Health{
			Status:     "degraded",
			Reason:     "data_feed: validation failing",
			Components: map[string]string{"database": "ok", "data_feed": "validation failing"},
		})
	}))
	defer srv.Close()

	h, err := NewClient(srv.URL).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", h.Status)
	}
	if h.Components["data_feed"] != "validation failing" {
		t.Errorf("Components = %v", h.Components)
	}
}

func TestTradeGroupsStatusFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("status"); got != "closed" {
			t.Errorf("status query = %q, want closed", got)
		}
		json.NewEncoder(w).Encode(tradeGroupsEnvelope{
			Count: 1,
			Groups: []TradeGroup{{
				GID:       "gid_01hx",
				Symbol:    "BTC/USD",
				Side:      "buy",
				Status:    "closed",
				Note:      "take profit filled",
				CreatedAt: time.Now().UTC(),
			}},
		})
	}))
	defer srv.Close()

	groups, err := NewClient(srv.URL).TradeGroups(context.Background(), "closed")
	if err != nil {
		t.Fatalf("TradeGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].GID != "gid_01hx" {
		t.Fatalf("groups = %+v, want one gid_01hx", groups)
	}
}

func TestTradeGroupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "trade group gid_x not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).TradeGroup(context.Background(), "gid_x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.Message != "trade group gid_x not found" {
		t.Errorf("Message = %q, want server error text", apiErr.Message)
	}
}

func TestHeartbeatsPassesLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "3" {
			t.Errorf("limit query = %q, want 3", got)
		}
		json.NewEncoder(w).Encode(heartbeatsEnvelope{
			Count:      1,
			Heartbeats: []Heartbeat{{ID: 12, OK: true, LatencyMS: 15.5, StatusCode: 200}},
		})
	}))
	defer srv.Close()

	hbs, err := NewClient(srv.URL).Heartbeats(context.Background(), 3)
	if err != nil {
		t.Fatalf("Heartbeats: %v", err)
	}
	if len(hbs) != 1 || hbs[0].ID != 12 || !hbs[0].OK {
		t.Fatalf("heartbeats = %+v", hbs)
	}
}

func TestRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("query = %q, want none for default limit", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(runsEnvelope{
			Count: 1,
			Runs:  []Run{{ID: 3, Status: "stopped", Note: "shutdown signal"}},
		})
	}))
	defer srv.Close()

	runs, err := NewClient(srv.URL).Runs(context.Background(), 0)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "stopped" {
		t.Fatalf("runs = %+v", runs)
	}
}
