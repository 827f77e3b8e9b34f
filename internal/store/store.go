// Package store defines the persistence interfaces of the trading engine:
// run and heartbeat bookkeeping, durable trade group state, and the Parquet
// bar archive.
package store

import (
	"context"
	"errors"
	"time"

	"smartcfd/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Run is one engine lifecycle: a row written at startup and completed at
// shutdown. StoppedAt is zero while the run is live.
type Run struct {
	ID        int64
	StartedAt time.Time
	StoppedAt time.Time
	Status    string
	Note      string
}

// Heartbeat is one liveness probe recorded per engine cycle. LatencyMS is
// the duration of the broker account probe; StatusCode carries the HTTP
// status of a failed broker call when one is known.
type Heartbeat struct {
	ID         int64
	TS         time.Time
	OK         bool
	LatencyMS  float64
	StatusCode int
	Error      string
	Note       string
}

// RunStore records engine lifecycles.
type RunStore interface {
	// StartRun inserts a new run with status "running" and returns its id.
	StartRun(ctx context.Context, note string) (int64, error)

	// FinishRun stamps the run's stopped_at and final status.
	FinishRun(ctx context.Context, id int64, status, note string) error

	// ListRuns returns the most recent runs, newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// HeartbeatStore records per-cycle liveness probes.
type HeartbeatStore interface {
	// SaveHeartbeat inserts a heartbeat and returns its id.
	SaveHeartbeat(ctx context.Context, hb Heartbeat) (int64, error)

	// ListHeartbeats returns the most recent heartbeats, newest first, up
	// to limit.
	ListHeartbeats(ctx context.Context, limit int) ([]Heartbeat, error)
}

// TradeGroupStore persists trade group state. Every mutation is a narrow
// single-row update that refreshes updated_at.
type TradeGroupStore interface {
	// SaveTradeGroup inserts a new trade group.
	SaveTradeGroup(ctx context.Context, g *domain.TradeGroup) error

	// UpdateTradeGroupEntry records the entry order id.
	UpdateTradeGroupEntry(ctx context.Context, gid, entryOrderID string) error

	// UpdateTradeGroupExits records both exit leg order ids.
	UpdateTradeGroupExits(ctx context.Context, gid, tpOrderID, slOrderID string) error

	// UpdateTradeGroupLevels records the derived take-profit and stop-loss
	// prices so the exit legs can be reconstructed after a restart.
	UpdateTradeGroupLevels(ctx context.Context, gid string, takeProfit, stopLoss float64) error

	// UpdateTradeGroupStatus transitions the group. An empty note leaves
	// the stored note untouched.
	UpdateTradeGroupStatus(ctx context.Context, gid string, status domain.GroupStatus, note string) error

	// UpdateTradeGroupFill records the confirmed entry fill quantity.
	UpdateTradeGroupFill(ctx context.Context, gid string, filledQty, openQty float64) error

	// GetTradeGroup retrieves a group by gid, or ErrNotFound.
	GetTradeGroup(ctx context.Context, gid string) (*domain.TradeGroup, error)

	// ListTradeGroupsByStatus returns groups in the given status, newest
	// first.
	ListTradeGroupsByStatus(ctx context.Context, status domain.GroupStatus) ([]domain.TradeGroup, error)

	// ListTradeGroups returns all groups, newest first.
	ListTradeGroups(ctx context.Context) ([]domain.TradeGroup, error)
}

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars gathered at the given interval.
	WriteBars(ctx context.Context, interval string, bars []domain.Bar) error

	// ReadBars returns bars for the symbol and interval within [start, end].
	ReadBars(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols archived at the interval.
	ListSymbols(ctx context.Context, interval string) ([]string, error)
}
