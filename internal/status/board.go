// Package status holds the engine's observable state: a mutex-guarded board
// the worker goroutine writes after every cycle and the HTTP handlers read.
// The board decouples the single-writer engine state from concurrent
// readers.
package status

import (
	"sync"
	"time"

	"smartcfd/internal/domain"
)

// FeedStatus is the latest data validation outcome for one symbol.
type FeedStatus struct {
	OK        bool      `json:"ok"`
	Reason    string    `json:"reason,omitempty"`
	Bars      int       `json:"bars"`
	LastBarAt time.Time `json:"last_bar_at"`
	CheckedAt time.Time `json:"checked_at"`
}

// PositionView is the JSON rendering of one open position.
type PositionView struct {
	Symbol         string  `json:"symbol"`
	Qty            float64 `json:"qty"`
	Side           string  `json:"side"`
	MarketValue    float64 `json:"market_value"`
	UnrealizedPL   float64 `json:"unrealized_pl"`
	UnrealizedPLPC float64 `json:"unrealized_plpc"`
	AvgEntryPrice  float64 `json:"avg_entry_price"`
}

// Snapshot is one consistent view of the engine state.
type Snapshot struct {
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
	OpenPositions    []PositionView        `json:"open_positions"`
	OpenOrders       int                   `json:"open_orders"`
	DataFeed         map[string]FeedStatus `json:"data_feed"`
}

// Board is the shared engine-state snapshot. A single writer (the worker
// goroutine) updates it; any number of readers take copies.
type Board struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{
		snap: Snapshot{
			ExposureBySymbol: make(map[string]float64),
			DataFeed:         make(map[string]FeedStatus),
		},
	}
}

// SetRun records the run identity at startup.
func (b *Board) SetRun(runID int64, startedAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap.RunID = runID
	b.snap.StartedAt = startedAt
}

// SetCycle stamps the completion of one engine cycle.
func (b *Board) SetCycle(at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap.LastCycleAt = at
	b.snap.CycleCount++
}

// SetAccount publishes the account view after reconciliation.
func (b *Board) SetAccount(equity, lastEquity float64, online bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap.Equity = equity
	b.snap.LastEquity = lastEquity
	b.snap.BrokerOnline = online
}

// SetHalt publishes the halt state.
func (b *Board) SetHalt(halted bool, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap.Halted = halted
	b.snap.HaltReason = reason
}

// SetExposure publishes total and per-symbol exposure plus the open
// positions and working order count.
func (b *Board) SetExposure(total float64, bySymbol map[string]float64, positions []domain.Position, openOrders int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap.TotalExposure = total
	b.snap.ExposureBySymbol = make(map[string]float64, len(bySymbol))
	for sym, v := range bySymbol {
		b.snap.ExposureBySymbol[sym] = v
	}
	b.snap.OpenPositions = make([]PositionView, 0, len(positions))
	for _, p := range positions {
		b.snap.OpenPositions = append(b.snap.OpenPositions, PositionView{
			Symbol:         p.Symbol,
			Qty:            p.Qty,
			Side:           string(p.Side),
			MarketValue:    p.MarketValue,
			UnrealizedPL:   p.UnrealizedPL,
			UnrealizedPLPC: p.UnrealizedPLPC,
			AvgEntryPrice:  p.AvgEntryPrice,
		})
	}
	b.snap.OpenOrders = openOrders
}

// SetDataFeed publishes the latest validation outcome for one symbol.
func (b *Board) SetDataFeed(symbol string, fs FeedStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap.DataFeed[symbol] = fs
}

// Snapshot returns a deep copy of the board state.
func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := b.snap
	out.ExposureBySymbol = make(map[string]float64, len(b.snap.ExposureBySymbol))
	for sym, v := range b.snap.ExposureBySymbol {
		out.ExposureBySymbol[sym] = v
	}
	out.DataFeed = make(map[string]FeedStatus, len(b.snap.DataFeed))
	for sym, fs := range b.snap.DataFeed {
		out.DataFeed[sym] = fs
	}
	out.OpenPositions = append([]PositionView(nil), b.snap.OpenPositions...)
	return out
}

// DataFeedHealthy reports whether every tracked symbol's latest validation
// passed. False when no symbol has reported yet.
func (b *Board) DataFeedHealthy() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.snap.DataFeed) == 0 {
		return false
	}
	for _, fs := range b.snap.DataFeed {
		if !fs.OK {
			return false
		}
	}
	return true
}
