package status

import (
	"testing"
	"time"

	"smartcfd/internal/domain"
)

func TestBoardSnapshot(t *testing.T) {
	b := NewBoard()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	b.SetRun(7, started)
	b.SetAccount(100_000, 99_000, true)
	b.SetHalt(true, "max daily drawdown exceeded: -6.00% < -5.00%")
	b.SetExposure(25_000, map[string]float64{"BTC/USD": 25_000},
		[]domain.Position{{Symbol: "BTC/USD", Qty: 0.5, MarketValue: 25_000}}, 2)
	b.SetCycle(started.Add(time.Minute))
	b.SetCycle(started.Add(2 * time.Minute))

	snap := b.Snapshot()
	if snap.RunID != 7 || !snap.StartedAt.Equal(started) {
		t.Errorf("run = %d/%v, want 7/%v", snap.RunID, snap.StartedAt, started)
	}
	if snap.CycleCount != 2 {
		t.Errorf("CycleCount = %d, want 2", snap.CycleCount)
	}
	if !snap.LastCycleAt.Equal(started.Add(2 * time.Minute)) {
		t.Errorf("LastCycleAt = %v, want second cycle time", snap.LastCycleAt)
	}
	if snap.Equity != 100_000 || !snap.BrokerOnline {
		t.Errorf("account = %v/%v, want 100000/online", snap.Equity, snap.BrokerOnline)
	}
	if !snap.Halted || snap.HaltReason == "" {
		t.Errorf("halt = %v/%q, want halted with reason", snap.Halted, snap.HaltReason)
	}
	if snap.ExposureBySymbol["BTC/USD"] != 25_000 {
		t.Errorf("ExposureBySymbol = %v, want BTC/USD 25000", snap.ExposureBySymbol)
	}
	if len(snap.OpenPositions) != 1 || snap.OpenOrders != 2 {
		t.Errorf("positions/orders = %d/%d, want 1/2", len(snap.OpenPositions), snap.OpenOrders)
	}
}

func TestBoardSnapshotIsolation(t *testing.T) {
	b := NewBoard()
	b.SetExposure(100, map[string]float64{"BTC/USD": 100}, nil, 0)
	b.SetDataFeed("BTC/USD", FeedStatus{OK: true, Bars: 50})

	snap := b.Snapshot()
	snap.ExposureBySymbol["BTC/USD"] = -1
	snap.DataFeed["BTC/USD"] = FeedStatus{OK: false}

	again := b.Snapshot()
	if again.ExposureBySymbol["BTC/USD"] != 100 {
		t.Error("mutating a snapshot map leaked into the board")
	}
	if !again.DataFeed["BTC/USD"].OK {
		t.Error("mutating a snapshot feed map leaked into the board")
	}
}

func TestDataFeedHealthy(t *testing.T) {
	b := NewBoard()

	// No symbol has reported yet.
	if b.DataFeedHealthy() {
		t.Error("DataFeedHealthy() = true on empty board")
	}

	b.SetDataFeed("BTC/USD", FeedStatus{OK: true, Bars: 100, CheckedAt: time.Now()})
	if !b.DataFeedHealthy() {
		t.Error("DataFeedHealthy() = false with one healthy feed")
	}

	b.SetDataFeed("ETH/USD", FeedStatus{OK: false, Reason: "stale bars", CheckedAt: time.Now()})
	if b.DataFeedHealthy() {
		t.Error("DataFeedHealthy() = true with one failing feed")
	}

	b.SetDataFeed("ETH/USD", FeedStatus{OK: true, Bars: 100, CheckedAt: time.Now()})
	if !b.DataFeedHealthy() {
		t.Error("DataFeedHealthy() = false after feed recovered")
	}
}
