package portfolio

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"smartcfd/internal/domain"
)

// fakeBroker returns canned account, position, and order data with
// per-endpoint error injection.
type fakeBroker struct {
	account      *domain.Account
	accountErr   error
	positions    []domain.Position
	positionsErr error
	orders       []domain.Order
	ordersErr    error
}

func (f *fakeBroker) Name() string { return "fake" }

func (f *fakeBroker) GetAccount(_ context.Context) (*domain.Account, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	acct := *f.account
	return &acct, nil
}

func (f *fakeBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return append([]domain.Position(nil), f.positions...), nil
}

func (f *fakeBroker) GetOpenOrders(_ context.Context) ([]domain.Order, error) {
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	return append([]domain.Order(nil), f.orders...), nil
}

func (f *fakeBroker) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) SubmitOrder(_ context.Context, _ *domain.OrderRequest) (*domain.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) CancelOrder(_ context.Context, _ string) error {
	return errors.New("not implemented")
}

func (f *fakeBroker) ClosePosition(_ context.Context, _ string, _ float64) error {
	return errors.New("not implemented")
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		account: &domain.Account{
			ID:         "acct-1",
			Equity:     100_000,
			LastEquity: 100_000,
			Cash:       40_000,
			Status:     "ACTIVE",
		},
		positions: []domain.Position{
			{Symbol: "BTC/USD", Qty: 0.5, Side: domain.PositionSideLong, MarketValue: 25_000},
			{Symbol: "ETH/USD", Qty: -10, Side: domain.PositionSideShort, MarketValue: -30_000},
		},
		orders: []domain.Order{
			{ID: "ord-1", Symbol: "BTC/USD", Status: "new"},
		},
	}
}

func TestReconcileSuccess(t *testing.T) {
	fb := newFakeBroker()
	m := New(fb, 5*time.Minute, testLogger())

	res := m.Reconcile(context.Background())
	if !res.AccountOK || !res.PositionsOK || !res.OrdersOK {
		t.Fatalf("Reconcile() = %+v, want all OK", res)
	}
	if res.Err != nil {
		t.Fatalf("Reconcile() Err = %v, want nil", res.Err)
	}

	if !m.IsOnline() {
		t.Error("IsOnline() = false after successful reconcile")
	}
	if got := m.Account().Equity; got != 100_000 {
		t.Errorf("Account().Equity = %v, want 100000", got)
	}
	if !m.HasOpenPosition("BTC/USD") {
		t.Error("HasOpenPosition(BTC/USD) = false, want true")
	}
	if !m.HasPendingOrder("BTC/USD") {
		t.Error("HasPendingOrder(BTC/USD) = false, want true")
	}
	if m.HasPendingOrder("ETH/USD") {
		t.Error("HasPendingOrder(ETH/USD) = true, want false")
	}
	if m.NeedsReconciliation() {
		t.Error("NeedsReconciliation() = true right after reconcile")
	}
}

func TestReconcileAccountFailurePreservesSnapshot(t *testing.T) {
	fb := newFakeBroker()
	m := New(fb, 5*time.Minute, testLogger())
	m.Reconcile(context.Background())

	fb.accountErr = errors.New("503 service unavailable")
	res := m.Reconcile(context.Background())

	if res.AccountOK {
		t.Error("AccountOK = true, want false")
	}
	if res.Err == nil {
		t.Error("Err = nil, want account fetch error")
	}
	// Equity data survives the outage; staleness is signaled via IsOnline.
	if got := m.Account(); got == nil || got.Equity != 100_000 {
		t.Errorf("Account() = %+v, want preserved equity 100000", got)
	}
	if m.IsOnline() {
		t.Error("IsOnline() = true, want false after account fetch failure")
	}
	// The other fetches still ran.
	if !res.PositionsOK || !res.OrdersOK {
		t.Errorf("Reconcile() = %+v, want positions and orders OK", res)
	}
}

func TestReconcilePositionsFailurePreservesMap(t *testing.T) {
	fb := newFakeBroker()
	m := New(fb, 5*time.Minute, testLogger())
	m.Reconcile(context.Background())

	fb.positionsErr = errors.New("timeout")
	res := m.Reconcile(context.Background())

	if res.PositionsOK {
		t.Error("PositionsOK = true, want false")
	}
	if got := len(m.Positions()); got != 2 {
		t.Errorf("len(Positions()) = %d, want 2 preserved positions", got)
	}
	// Account fetch succeeded, so the snapshot is online again.
	if !m.IsOnline() {
		t.Error("IsOnline() = false, want true")
	}
}

func TestReconcileOrdersFailurePreservesOrders(t *testing.T) {
	fb := newFakeBroker()
	m := New(fb, 5*time.Minute, testLogger())
	m.Reconcile(context.Background())

	fb.ordersErr = errors.New("timeout")
	res := m.Reconcile(context.Background())

	if res.OrdersOK {
		t.Error("OrdersOK = true, want false")
	}
	if got := len(m.OpenOrders()); got != 1 {
		t.Errorf("len(OpenOrders()) = %d, want 1 preserved order", got)
	}
}

func TestNeedsReconciliation(t *testing.T) {
	fb := newFakeBroker()
	m := New(fb, 0, testLogger())

	if !m.NeedsReconciliation() {
		t.Error("NeedsReconciliation() = false before first reconcile")
	}

	m.Reconcile(context.Background())
	time.Sleep(time.Millisecond)
	if !m.NeedsReconciliation() {
		t.Error("NeedsReconciliation() = false with zero interval")
	}
}

func TestExposure(t *testing.T) {
	fb := newFakeBroker()
	m := New(fb, 5*time.Minute, testLogger())
	m.Reconcile(context.Background())

	// Short positions count at absolute value.
	if got := m.TotalExposure(); got != 55_000 {
		t.Errorf("TotalExposure() = %v, want 55000", got)
	}
	if got := m.ExposureFor("ETH/USD"); got != 30_000 {
		t.Errorf("ExposureFor(ETH/USD) = %v, want 30000", got)
	}
	if got := m.ExposureFor("SOL/USD"); got != 0 {
		t.Errorf("ExposureFor(SOL/USD) = %v, want 0", got)
	}
}

func TestPositionsReturnsCopy(t *testing.T) {
	fb := newFakeBroker()
	m := New(fb, 5*time.Minute, testLogger())
	m.Reconcile(context.Background())

	snap := m.Positions()
	delete(snap, "BTC/USD")

	if !m.HasOpenPosition("BTC/USD") {
		t.Error("mutating the Positions() copy leaked into the manager")
	}
}
