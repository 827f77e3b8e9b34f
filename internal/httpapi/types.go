// Package httpapi exposes the engine's observability surface over HTTP:
// liveness probes, the status board, trade group history, heartbeats, and
// run records. Every endpoint is read-only.
package httpapi

import (
	"time"

	"smartcfd/internal/domain"
	"smartcfd/internal/store"
)

// HealthResponse is the envelope for GET /healthz.
type HealthResponse struct {
	Status     string            `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	Components map[string]string `json:"components"`
}

// LatencyStatsJSON summarizes broker probe latencies in milliseconds.
type LatencyStatsJSON struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	Max float64 `json:"max"`
}

// DBHealthResponse reports heartbeat statistics for GET /health/db.
type DBHealthResponse struct {
	Window     int              `json:"window"`
	Heartbeats int              `json:"heartbeats"`
	OKRatio    float64          `json:"ok_ratio"`
	LatencyMS  LatencyStatsJSON `json:"latency_ms"`
	LastTS     time.Time        `json:"last_ts"`
	LastOK     bool             `json:"last_ok"`
}

// FeedHealthJSON is one symbol's data feed verdict.
type FeedHealthJSON struct {
	OK        bool      `json:"ok"`
	Reason    string    `json:"reason,omitempty"`
	Bars      int       `json:"bars"`
	LastBarAt time.Time `json:"last_bar_at"`
	CheckedAt time.Time `json:"checked_at"`
}

// DataHealthResponse reports per-symbol feed validation for GET /health/data.
type DataHealthResponse struct {
	OK      bool                      `json:"ok"`
	Symbols map[string]FeedHealthJSON `json:"symbols"`
}

// TradeGroupJSON is the JSON representation of a trade group.
type TradeGroupJSON struct {
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

// TradeGroupsResponse lists trade groups, newest first.
type TradeGroupsResponse struct {
	Count  int              `json:"count"`
	Groups []TradeGroupJSON `json:"groups"`
}

// HeartbeatJSON is one recorded broker liveness probe.
type HeartbeatJSON struct {
	ID         int64     `json:"id"`
	TS         time.Time `json:"ts"`
	OK         bool      `json:"ok"`
	LatencyMS  float64   `json:"latency_ms"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Note       string    `json:"note,omitempty"`
}

// HeartbeatsResponse lists heartbeats, newest first.
type HeartbeatsResponse struct {
	Count      int             `json:"count"`
	Heartbeats []HeartbeatJSON `json:"heartbeats"`
}

// RunJSON is one engine run record.
type RunJSON struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
}

// RunsResponse lists run records, newest first.
type RunsResponse struct {
	Count int       `json:"count"`
	Runs  []RunJSON `json:"runs"`
}

func convertTradeGroup(g *domain.TradeGroup) TradeGroupJSON {
	return TradeGroupJSON{
		GID:             g.GID,
		Symbol:          g.Symbol,
		Side:            string(g.Side),
		Status:          string(g.Status),
		EntryOrderID:    g.EntryOrderID,
		EntryFilledQty:  g.EntryFilledQty,
		TPOrderID:       g.TPOrderID,
		SLOrderID:       g.SLOrderID,
		OpenQty:         g.OpenQty,
		TakeProfitPrice: g.TakeProfitPrice,
		StopLossPrice:   g.StopLossPrice,
		CreatedAt:       g.CreatedAt,
		UpdatedAt:       g.UpdatedAt,
		Note:            g.Note,
	}
}

func convertTradeGroups(groups []domain.TradeGroup) TradeGroupsResponse {
	out := make([]TradeGroupJSON, 0, len(groups))
	for i := range groups {
		out = append(out, convertTradeGroup(&groups[i]))
	}
	return TradeGroupsResponse{Count: len(out), Groups: out}
}

func convertHeartbeats(hbs []store.Heartbeat) HeartbeatsResponse {
	out := make([]HeartbeatJSON, 0, len(hbs))
	for _, hb := range hbs {
		out = append(out, HeartbeatJSON{
			ID:         hb.ID,
			TS:         hb.TS,
			OK:         hb.OK,
			LatencyMS:  hb.LatencyMS,
			StatusCode: hb.StatusCode,
			Error:      hb.Error,
			Note:       hb.Note,
		})
	}
	return HeartbeatsResponse{Count: len(out), Heartbeats: out}
}

func convertRuns(runs []store.Run) RunsResponse {
	out := make([]RunJSON, 0, len(runs))
	for _, r := range runs {
		out = append(out, RunJSON{
			ID:        r.ID,
			StartedAt: r.StartedAt,
			StoppedAt: r.StoppedAt,
			Status:    r.Status,
			Note:      r.Note,
		})
	}
	return RunsResponse{Count: len(out), Runs: out}
}
