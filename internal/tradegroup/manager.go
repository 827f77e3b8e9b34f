// Package tradegroup tracks the lifecycle of client-side bracket trades: one
// entry order bound to its take-profit and stop-loss legs as a single
// logical trade. The manager is a thin typed facade over the store; it holds
// no cached state, so a crash-restart resumes from the last durably written
// status.
package tradegroup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"smartcfd/internal/domain"
	"smartcfd/internal/store"
	"smartcfd/internal/util"
)

// Manager creates and transitions trade groups.
type Manager struct {
	store store.TradeGroupStore
	log   *slog.Logger
}

// New creates a Manager persisting through st.
func New(st store.TradeGroupStore, log *slog.Logger) *Manager {
	return &Manager{
		store: st,
		log:   log.With("component", "tradegroup"),
	}
}

// CreateGroup persists a new group in status "new" and returns it. The
// group's gid is generated here and never reused.
func (m *Manager) CreateGroup(ctx context.Context, symbol string, side domain.OrderSide) (*domain.TradeGroup, error) {
	now := time.Now().UTC()
	group := &domain.TradeGroup{
		GID:       util.NewGroupID(),
		Symbol:    symbol,
		Side:      side,
		Status:    domain.GroupStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.SaveTradeGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("saving trade group: %w", err)
	}
	m.log.Info("trade group created", "gid", group.GID, "symbol", symbol, "side", side)
	return group, nil
}

// SetLevels records the derived take-profit and stop-loss prices. Persisted
// before the entry is submitted so the exit legs survive a restart.
func (m *Manager) SetLevels(ctx context.Context, gid string, takeProfit, stopLoss float64) error {
	return m.store.UpdateTradeGroupLevels(ctx, gid, takeProfit, stopLoss)
}

// UpdateEntry records the broker id of the submitted entry order.
func (m *Manager) UpdateEntry(ctx context.Context, gid, entryOrderID string) error {
	return m.store.UpdateTradeGroupEntry(ctx, gid, entryOrderID)
}

// UpdateExits records both exit leg order ids. Exits are always written as a
// pair once the entry fill is confirmed.
func (m *Manager) UpdateExits(ctx context.Context, gid, tpOrderID, slOrderID string) error {
	return m.store.UpdateTradeGroupExits(ctx, gid, tpOrderID, slOrderID)
}

// UpdateFill records the confirmed entry fill quantity. The open quantity
// starts equal to the fill and shrinks as exits execute.
func (m *Manager) UpdateFill(ctx context.Context, gid string, filledQty float64) error {
	return m.store.UpdateTradeGroupFill(ctx, gid, filledQty, filledQty)
}

// UpdateStatus transitions the group, optionally annotating it. Passing no
// note leaves the stored note untouched.
func (m *Manager) UpdateStatus(ctx context.Context, gid string, status domain.GroupStatus, note ...string) error {
	joined := ""
	if len(note) > 0 {
		joined = note[0]
	}
	if err := m.store.UpdateTradeGroupStatus(ctx, gid, status, joined); err != nil {
		return err
	}
	m.log.Info("trade group transition", "gid", gid, "status", status, "note", joined)
	return nil
}

// GetByGID retrieves one group, or store.ErrNotFound.
func (m *Manager) GetByGID(ctx context.Context, gid string) (*domain.TradeGroup, error) {
	return m.store.GetTradeGroup(ctx, gid)
}

// GetByStatus lists groups in the given status, newest first.
func (m *Manager) GetByStatus(ctx context.Context, status domain.GroupStatus) ([]domain.TradeGroup, error) {
	return m.store.ListTradeGroupsByStatus(ctx, status)
}

// GetAll lists every group, newest first.
func (m *Manager) GetAll(ctx context.Context) ([]domain.TradeGroup, error) {
	return m.store.ListTradeGroups(ctx)
}

// Active lists the groups still requiring OCO progression, oldest first for
// deterministic handling.
func (m *Manager) Active(ctx context.Context) ([]domain.TradeGroup, error) {
	all, err := m.store.ListTradeGroups(ctx)
	if err != nil {
		return nil, err
	}
	var active []domain.TradeGroup
	for i := len(all) - 1; i >= 0; i-- {
		if !all[i].Status.Terminal() {
			active = append(active, all[i])
		}
	}
	return active, nil
}
