// Package portfolio maintains the engine's view of the broker account,
// open positions, and open orders. The view is rebuilt from broker truth on
// every reconciliation and never persisted.
package portfolio

import (
	"context"
	"log/slog"
	"math"
	"time"

	"smartcfd/internal/broker"
	"smartcfd/internal/domain"
)

// ReconcileResult reports the outcome of one reconciliation pass. The
// account probe doubles as the connectivity heartbeat, so its latency and
// error are carried out.
type ReconcileResult struct {
	AccountOK      bool
	PositionsOK    bool
	OrdersOK       bool
	AccountLatency time.Duration
	Err            error // first error encountered, nil when all fetches succeeded
}

// Manager holds the last known-good snapshot of account, positions, and open
// orders. It is owned by the worker goroutine and not self-synchronized;
// other goroutines read snapshots pushed to the status board instead.
type Manager struct {
	broker            broker.Broker
	reconcileInterval time.Duration
	log               *slog.Logger

	account    *domain.Account
	positions  map[string]domain.Position
	openOrders []domain.Order
	lastSync   time.Time
}

// New creates a Manager that reconciles against b. reconcileInterval bounds
// how stale the snapshot may get before NeedsReconciliation reports true.
func New(b broker.Broker, reconcileInterval time.Duration, log *slog.Logger) *Manager {
	return &Manager{
		broker:            b,
		reconcileInterval: reconcileInterval,
		log:               log.With("component", "portfolio"),
		positions:         make(map[string]domain.Position),
	}
}

// Reconcile refreshes account, positions, and open orders with three
// independent fetches. Each fetch replaces its slice of state wholesale on
// success and leaves the previous value untouched on failure; an account
// fetch failure additionally marks the stale snapshot offline. A failure in
// one fetch never aborts the others.
func (m *Manager) Reconcile(ctx context.Context) ReconcileResult {
	var res ReconcileResult

	probeStart := time.Now()
	account, err := m.broker.GetAccount(ctx)
	res.AccountLatency = time.Since(probeStart)
	if err != nil {
		m.log.Error("account fetch failed", "err", err)
		if m.account != nil {
			m.account.IsOnline = false
		}
		res.Err = err
	} else {
		m.account = account
		m.account.IsOnline = true
		m.lastSync = time.Now()
		res.AccountOK = true
	}

	positions, err := m.broker.GetPositions(ctx)
	if err != nil {
		m.log.Error("positions fetch failed", "err", err)
		if res.Err == nil {
			res.Err = err
		}
	} else {
		fresh := make(map[string]domain.Position, len(positions))
		for _, p := range positions {
			fresh[p.Symbol] = p
		}
		m.positions = fresh
		res.PositionsOK = true
	}

	orders, err := m.broker.GetOpenOrders(ctx)
	if err != nil {
		m.log.Error("open orders fetch failed", "err", err)
		if res.Err == nil {
			res.Err = err
		}
	} else {
		m.openOrders = orders
		res.OrdersOK = true
	}

	return res
}

// NeedsReconciliation reports whether the snapshot is missing or older than
// the reconcile interval.
func (m *Manager) NeedsReconciliation() bool {
	if m.account == nil {
		return true
	}
	return time.Since(m.lastSync) > m.reconcileInterval
}

// Account returns the last known account snapshot, or nil before the first
// successful reconciliation.
func (m *Manager) Account() *domain.Account {
	return m.account
}

// IsOnline reports whether the last account fetch succeeded.
func (m *Manager) IsOnline() bool {
	return m.account != nil && m.account.IsOnline
}

// GetPosition returns the open position for symbol, if any.
func (m *Manager) GetPosition(symbol string) (domain.Position, bool) {
	p, ok := m.positions[symbol]
	return p, ok
}

// HasOpenPosition reports whether symbol has an open position.
func (m *Manager) HasOpenPosition(symbol string) bool {
	_, ok := m.positions[symbol]
	return ok
}

// HasPendingOrder reports whether symbol has an open order working at the
// broker.
func (m *Manager) HasPendingOrder(symbol string) bool {
	for _, o := range m.openOrders {
		if o.Symbol == symbol {
			return true
		}
	}
	return false
}

// OpenOrders returns a copy of the open order list.
func (m *Manager) OpenOrders() []domain.Order {
	out := make([]domain.Order, len(m.openOrders))
	copy(out, m.openOrders)
	return out
}

// Positions returns a copy of the position map.
func (m *Manager) Positions() map[string]domain.Position {
	out := make(map[string]domain.Position, len(m.positions))
	for sym, p := range m.positions {
		out[sym] = p
	}
	return out
}

// TotalExposure returns the sum of absolute position market values.
func (m *Manager) TotalExposure() float64 {
	var total float64
	for _, p := range m.positions {
		total += math.Abs(p.MarketValue)
	}
	return total
}

// ExposureFor returns the absolute market value held in symbol, or 0.
func (m *Manager) ExposureFor(symbol string) float64 {
	p, ok := m.positions[symbol]
	if !ok {
		return 0
	}
	return math.Abs(p.MarketValue)
}
