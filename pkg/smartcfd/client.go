// Package smartcfd provides a Go client for the trading engine's read-only
// HTTP API. The types here mirror the wire format so consumers do not need
// the engine's internal packages.
package smartcfd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client calls the engine API at a fixed base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the API at baseURL, e.g.
// "http://localhost:8090".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
}

// Health is the GET /healthz envelope.
type Health struct {
	Status     string            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Components map[string]string `json:"components"`
}

// FeedStatus is one symbol's latest data validation outcome.
type FeedStatus struct {
	OK        bool      `json:"ok"`
	Reason    string    `json:"reason,omitempty"`
	Bars      int       `json:"bars"`
	LastBarAt time.Time `json:"last_bar_at"`
	CheckedAt time.Time `json:"checked_at"`
}

// Position is one open position as the engine last reconciled it.
type Position struct {
	Symbol         string  `json:"symbol"`
	Qty            float64 `json:"qty"`
	Side           string  `json:"side"`
	MarketValue    float64 `json:"market_value"`
	UnrealizedPL   float64 `json:"unrealized_pl"`
	UnrealizedPLPC float64 `json:"unrealized_plpc"`
	AvgEntryPrice  float64 `json:"avg_entry_price"`
}

// Status is the engine status board snapshot.
type Status struct {
	RunID            int64                 `json:"run_id"`
	StartedAt        time.Time             `json:"started_at"`
	LastCycleAt      time.Time             `json:"last_cycle_at"`
	CycleCount       int64                 `json:"cycle_count"`
	Equity           float64               `json:"equity"`
	LastEquity       float64               `json:"last_equity"`
	BrokerOnline     bool                  `json:"broker_online"`
	Halted           bool                  `json:"halted"`
	HaltReason       string                `json:"halt_reason,omitempty"`
	TotalExposure    float64               `json:"total_exposure"`
	ExposureBySymbol map[string]float64    `json:"exposure_by_symbol"`
	OpenPositions    []Position            `json:"open_positions"`
	OpenOrders       int                   `json:"open_orders"`
	DataFeed         map[string]FeedStatus `json:"data_feed"`
}

// TradeGroup is one bracket trade's lifecycle record.
type TradeGroup struct {
	GID             string    `json:"gid"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	Status          string    `json:"status"`
	EntryOrderID    string    `json:"entry_order_id,omitempty"`
	EntryFilledQty  float64   `json:"entry_filled_qty,omitempty"`
	TPOrderID       string    `json:"tp_order_id,omitempty"`
	SLOrderID       string    `json:"sl_order_id,omitempty"`
	OpenQty         float64   `json:"open_qty,omitempty"`
	TakeProfitPrice float64   `json:"take_profit_price,omitempty"`
	StopLossPrice   float64   `json:"stop_loss_price,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Note            string    `json:"note,omitempty"`
}

type tradeGroupsEnvelope struct {
	Count  int          `json:"count"`
	Groups []TradeGroup `json:"groups"`
}

// Heartbeat is one recorded broker liveness probe.
type Heartbeat struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	OK         bool      `json:"ok"`
	LatencyMS  float64   `json:"latency_ms"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Note       string    `json:"note,omitempty"`
}

type heartbeatsEnvelope struct {
	Count      int         `json:"count"`
	Heartbeats []Heartbeat `json:"heartbeats"`
}

// Run is one engine run record.
type Run struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
}

type runsEnvelope struct {
	Count int   `json:"count"`
	Runs  []Run `json:"runs"`
}

// Health fetches /healthz. A degraded engine answers 503 with the same
// body, so both 200 and 503 decode rather than erroring.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, apiError(resp)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding health: %w", err)
	}
	return &h, nil
}

// Status fetches the engine status board.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.get(ctx, "/api/v1/status", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// TradeGroups lists trade groups, newest first. A non-empty status filters
// to that lifecycle state.
func (c *Client) TradeGroups(ctx context.Context, status string) ([]TradeGroup, error) {
	var q url.Values
	if status != "" {
		q = url.Values{"status": {status}}
	}
	var env tradeGroupsEnvelope
	if err := c.get(ctx, "/api/v1/trade-groups", q, &env); err != nil {
		return nil, err
	}
	return env.Groups, nil
}

// TradeGroup fetches one trade group by gid.
func (c *Client) TradeGroup(ctx context.Context, gid string) (*TradeGroup, error) {
	var g TradeGroup
	if err := c.get(ctx, "/api/v1/trade-groups/"+url.PathEscape(gid), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Heartbeats lists recent heartbeats, newest first. limit <= 0 uses the
// server default.
func (c *Client) Heartbeats(ctx context.Context, limit int) ([]Heartbeat, error) {
	var env heartbeatsEnvelope
	if err := c.get(ctx, "/api/v1/heartbeats", limitQuery(limit), &env); err != nil {
		return nil, err
	}
	return env.Heartbeats, nil
}

// Runs lists engine runs, newest first. limit <= 0 uses the server
// default.
func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	var env runsEnvelope
	if err := c.get(ctx, "/api/v1/runs", limitQuery(limit), &env); err != nil {
		return nil, err
	}
	return env.Runs, nil
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": {strconv.Itoa(limit)}}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// apiError drains the error body, preferring the server's {"error": ...}
// message when present.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
