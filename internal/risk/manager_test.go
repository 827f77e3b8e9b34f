package risk

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"

	"smartcfd/internal/config"
	"smartcfd/internal/domain"
	"smartcfd/internal/portfolio"
)

// closeCall records one broker.ClosePosition invocation.
type closeCall struct {
	symbol string
	qty    float64
}

// fakeBroker feeds the portfolio snapshot and records position closes.
type fakeBroker struct {
	account    *domain.Account
	accountErr error
	positions  []domain.Position
	closeCalls []closeCall
	closeErr   error
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
	return append([]domain.Position(nil), f.positions...), nil
}

func (f *fakeBroker) GetOpenOrders(_ context.Context) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeBroker) GetOrder(_ context.Context, _ string) (*domain.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) SubmitOrder(_ context.Context, _ *domain.OrderRequest) (*domain.Order, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) CancelOrder(_ context.Context, _ string) error {
	return errors.New("not implemented")
}

func (f *fakeBroker) ClosePosition(_ context.Context, symbol string, qty float64) error {
	f.closeCalls = append(f.closeCalls, closeCall{symbol: symbol, qty: qty})
	return f.closeErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newTestRisk wires a fake broker through a reconciled portfolio into a risk
// Manager. A nil account leaves the portfolio without a snapshot.
func newTestRisk(t *testing.T, cfg config.Risk, account *domain.Account, positions []domain.Position) (*Manager, *fakeBroker, *portfolio.Manager) {
	t.Helper()

	fb := &fakeBroker{account: account, positions: positions}
	pf := portfolio.New(fb, 5*time.Minute, testLogger())
	if account != nil {
		if res := pf.Reconcile(context.Background()); res.Err != nil {
			t.Fatalf("Reconcile() Err = %v", res.Err)
		}
	}
	return New(cfg, pf, fb, testLogger()), fb, pf
}

func activeAccount(equity, lastEquity float64) *domain.Account {
	return &domain.Account{
		ID:         "acct-1",
		Equity:     equity,
		LastEquity: lastEquity,
		Cash:       equity,
		Status:     "ACTIVE",
	}
}

// closeBars builds flat bars closing at price. Their ATR is zero.
func closeBars(symbol string, price float64, n int) []domain.Bar {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    1,
		}
	}
	return bars
}

// rangeBars builds bars centered at 100 whose true range equals each given
// range value (closes pinned to 100 so TR reduces to high minus low).
func rangeBars(symbol string, ranges ...float64) []domain.Bar {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(ranges))
	for i, r := range ranges {
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      100,
			High:      100 + r/2,
			Low:       100 - r/2,
			Close:     100,
			Volume:    1,
		}
	}
	return bars
}

// calmPlusSpike builds n calm bars of range calm followed by one bar of
// range spike.
func calmPlusSpike(symbol string, n int, calm, spike float64) []domain.Bar {
	ranges := make([]float64, n+1)
	for i := 0; i < n; i++ {
		ranges[i] = calm
	}
	ranges[n] = spike
	return rangeBars(symbol, ranges...)
}

// ---------------------------------------------------------------------------
// CalculateOrderQty
// ---------------------------------------------------------------------------

func TestCalculateOrderQtyRiskBound(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), nil)

	// Risk budget 1% of 100k = 1000 is the binding ceiling.
	qty, price := m.CalculateOrderQty("BTC/USD", domain.OrderSideBuy, closeBars("BTC/USD", 50_000, 20))
	if price != 50_000 {
		t.Fatalf("price = %v, want 50000", price)
	}
	if math.Abs(qty-0.02) > 1e-12 {
		t.Errorf("qty = %v, want 0.02", qty)
	}
}

func TestCalculateOrderQtyAssetBound(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "BTC/USD", Qty: 0.49, Side: domain.PositionSideLong, MarketValue: 24_500},
	}
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), positions)

	// Per-asset cap 25% of 100k leaves 500 of headroom, under the 1000 risk
	// budget.
	qty, _ := m.CalculateOrderQty("BTC/USD", domain.OrderSideBuy, closeBars("BTC/USD", 50_000, 20))
	if math.Abs(qty-0.01) > 1e-12 {
		t.Errorf("qty = %v, want 0.01", qty)
	}
}

func TestCalculateOrderQtyTotalBound(t *testing.T) {
	cfg := config.Default().Risk
	cfg.MaxTotalExposurePercent = 26
	cfg.RiskPerTradePercent = 5

	positions := []domain.Position{
		{Symbol: "BTC/USD", Qty: 0.49, Side: domain.PositionSideLong, MarketValue: 24_500},
	}
	m, _, _ := newTestRisk(t, cfg, activeAccount(100_000, 100_000), positions)

	// Total cap 26% of 100k leaves 1500, under both the asset headroom and
	// the 5000 risk budget.
	qty, _ := m.CalculateOrderQty("ETH/USD", domain.OrderSideBuy, closeBars("ETH/USD", 50_000, 20))
	if math.Abs(qty-0.03) > 1e-12 {
		t.Errorf("qty = %v, want 0.03", qty)
	}
}

func TestCalculateOrderQtyZeroAtLimit(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "BTC/USD", Qty: 0.5, Side: domain.PositionSideLong, MarketValue: 25_000},
	}
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), positions)

	qty, price := m.CalculateOrderQty("BTC/USD", domain.OrderSideBuy, closeBars("BTC/USD", 50_000, 20))
	if qty != 0 {
		t.Errorf("qty = %v, want 0 at the exposure limit", qty)
	}
	if price != 50_000 {
		t.Errorf("price = %v, want 50000 even when qty is 0", price)
	}
}

func TestCalculateOrderQtyMinNotional(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "BTC/USD", Qty: 0.49999, Side: domain.PositionSideLong, MarketValue: 24_999.50},
	}
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), positions)

	// Headroom 0.50 is under the 1.00 minimum notional.
	qty, _ := m.CalculateOrderQty("BTC/USD", domain.OrderSideBuy, closeBars("BTC/USD", 50_000, 20))
	if qty != 0 {
		t.Errorf("qty = %v, want 0 under min_order_notional", qty)
	}
}

func TestCalculateOrderQtyHalted(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(94_000, 100_000), nil)

	if !m.CheckForHalt(nil) {
		t.Fatal("CheckForHalt() = false, want halt on drawdown")
	}
	qty, price := m.CalculateOrderQty("BTC/USD", domain.OrderSideBuy, closeBars("BTC/USD", 50_000, 20))
	if qty != 0 || price != 0 {
		t.Errorf("CalculateOrderQty() = (%v, %v), want (0, 0) while halted", qty, price)
	}
}

func TestCalculateOrderQtyOffline(t *testing.T) {
	m, fb, pf := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), nil)

	fb.accountErr = errors.New("503 service unavailable")
	pf.Reconcile(context.Background())

	qty, price := m.CalculateOrderQty("BTC/USD", domain.OrderSideBuy, closeBars("BTC/USD", 50_000, 20))
	if qty != 0 || price != 0 {
		t.Errorf("CalculateOrderQty() = (%v, %v), want (0, 0) with stale account", qty, price)
	}
}

func TestCalculateOrderQtyNoBars(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), nil)

	qty, price := m.CalculateOrderQty("BTC/USD", domain.OrderSideBuy, nil)
	if qty != 0 || price != 0 {
		t.Errorf("CalculateOrderQty() = (%v, %v), want (0, 0) without bars", qty, price)
	}
}

// ---------------------------------------------------------------------------
// CheckForHalt
// ---------------------------------------------------------------------------

func TestCheckForHaltNoAccount(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, nil, nil)

	if !m.CheckForHalt(nil) {
		t.Fatal("CheckForHalt() = false, want halt without account info")
	}
	halted, reason := m.Halted()
	if !halted {
		t.Error("Halted() = false, want true")
	}
	if reason != "could not calculate drawdown: no account info" {
		t.Errorf("reason = %q, want no-account reason", reason)
	}
}

func TestCheckForHaltDrawdown(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(94_000, 100_000), nil)

	if !m.CheckForHalt(nil) {
		t.Fatal("CheckForHalt() = false, want halt at -6%")
	}
	_, reason := m.Halted()
	if reason != "max daily drawdown exceeded: -6.00% < -5.00%" {
		t.Errorf("reason = %q, want formatted drawdown reason", reason)
	}
}

func TestCheckForHaltDrawdownWithinLimit(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(96_000, 100_000), nil)

	if m.CheckForHalt(nil) {
		t.Error("CheckForHalt() = true, want no halt at -4%")
	}
}

func TestCheckForHaltVolatilityBreaker(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), nil)

	// Historical ATR 2, multiplier 3: a true range of 10 trips the breaker.
	data := map[string][]domain.Bar{
		"BTC/USD": calmPlusSpike("BTC/USD", 15, 2, 10),
	}
	if !m.CheckForHalt(data) {
		t.Fatal("CheckForHalt() = false, want volatility halt")
	}
	_, reason := m.Halted()
	if !strings.Contains(reason, "BTC/USD") {
		t.Errorf("reason = %q, want symbol named", reason)
	}
}

func TestCheckForHaltVolatilityWithinLimit(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), nil)

	// True range 5 stays under ceiling 2 x 3 = 6.
	data := map[string][]domain.Bar{
		"BTC/USD": calmPlusSpike("BTC/USD", 15, 2, 5),
	}
	if m.CheckForHalt(data) {
		t.Error("CheckForHalt() = true, want no halt under the ceiling")
	}
}

func TestCheckForHaltBreakerDisabled(t *testing.T) {
	cfg := config.Default().Risk
	cfg.CircuitBreakerATRMultiplier = 0
	m, _, _ := newTestRisk(t, cfg, activeAccount(100_000, 100_000), nil)

	data := map[string][]domain.Bar{
		"BTC/USD": calmPlusSpike("BTC/USD", 15, 2, 50),
	}
	if m.CheckForHalt(data) {
		t.Error("CheckForHalt() = true, want breaker disabled with multiplier 0")
	}
}

func TestCheckForHaltBreakerInsufficientBars(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), nil)

	data := map[string][]domain.Bar{
		"BTC/USD": calmPlusSpike("BTC/USD", 10, 2, 50), // 11 bars, under the 16 minimum
	}
	if m.CheckForHalt(data) {
		t.Error("CheckForHalt() = true, want symbol skipped with short history")
	}
}

func TestCheckForHaltSelfHeals(t *testing.T) {
	m, fb, pf := newTestRisk(t, config.Default().Risk, activeAccount(94_000, 100_000), nil)

	if !m.CheckForHalt(nil) {
		t.Fatal("CheckForHalt() = false, want initial halt")
	}

	// Equity recovers; the next check clears the halt.
	fb.account.Equity = 99_000
	pf.Reconcile(context.Background())

	if m.CheckForHalt(nil) {
		t.Fatal("CheckForHalt() = true, want self-healed")
	}
	halted, reason := m.Halted()
	if halted || reason != "" {
		t.Errorf("Halted() = (%v, %q), want cleared state", halted, reason)
	}
}

// ---------------------------------------------------------------------------
// GenerateBracketOrder
// ---------------------------------------------------------------------------

func TestGenerateBracketOrderBuy(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), nil)

	bars := rangeBars("BTC/USD", 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2)
	req := m.GenerateBracketOrder("BTC/USD", domain.OrderSideBuy, 0.02, 50_000, bars)
	if req == nil {
		t.Fatal("GenerateBracketOrder() = nil, want request")
	}

	if req.Type != domain.OrderTypeMarket || req.TimeInForce != domain.TimeInForceGTC {
		t.Errorf("type/tif = %v/%v, want market/gtc", req.Type, req.TimeInForce)
	}
	if req.Qty != 0.02 || req.Side != domain.OrderSideBuy {
		t.Errorf("qty/side = %v/%v, want 0.02/buy", req.Qty, req.Side)
	}
	// ATR 2: stop 1.5 ATR below entry, target 3 ATR above.
	if req.StopLoss == nil || math.Abs(req.StopLoss.StopPrice-49_997) > 1e-9 {
		t.Errorf("StopLoss = %+v, want stop at 49997", req.StopLoss)
	}
	if req.TakeProfit == nil || math.Abs(req.TakeProfit.LimitPrice-50_006) > 1e-9 {
		t.Errorf("TakeProfit = %+v, want limit at 50006", req.TakeProfit)
	}
}

func TestGenerateBracketOrderSell(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), nil)

	bars := rangeBars("ETH/USD", 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2)
	req := m.GenerateBracketOrder("ETH/USD", domain.OrderSideSell, 1, 50_000, bars)
	if req == nil {
		t.Fatal("GenerateBracketOrder() = nil, want request")
	}
	if math.Abs(req.StopLoss.StopPrice-50_003) > 1e-9 {
		t.Errorf("stop = %v, want 50003", req.StopLoss.StopPrice)
	}
	if math.Abs(req.TakeProfit.LimitPrice-49_994) > 1e-9 {
		t.Errorf("target = %v, want 49994", req.TakeProfit.LimitPrice)
	}
}

func TestGenerateBracketOrderNil(t *testing.T) {
	m, _, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), nil)

	calm := rangeBars("BTC/USD", 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2)

	if req := m.GenerateBracketOrder("BTC/USD", domain.OrderSideBuy, 0, 50_000, calm); req != nil {
		t.Error("want nil for zero qty")
	}
	if req := m.GenerateBracketOrder("BTC/USD", domain.OrderSideBuy, 1, 0, calm); req != nil {
		t.Error("want nil for zero entry")
	}
	if req := m.GenerateBracketOrder("BTC/USD", domain.OrderSideBuy, 1, 50_000, closeBars("BTC/USD", 50_000, 20)); req != nil {
		t.Error("want nil for zero ATR")
	}
	// Stop would land below zero: entry 2 with ATR 2 and 1.5x stop.
	if req := m.GenerateBracketOrder("BTC/USD", domain.OrderSideBuy, 1, 2, calm); req != nil {
		t.Error("want nil for degenerate stop")
	}
}

// ---------------------------------------------------------------------------
// ManageOpenPositions
// ---------------------------------------------------------------------------

func TestManageOpenPositionsDeRisks(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "BTC/USD", Qty: 0.2, Side: domain.PositionSideLong, MarketValue: 10_000, UnrealizedPLPC: -0.12},
	}
	m, fb, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), positions)

	if err := m.ManageOpenPositions(context.Background()); err != nil {
		t.Fatalf("ManageOpenPositions() error = %v", err)
	}
	if len(fb.closeCalls) != 1 {
		t.Fatalf("close calls = %d, want 1", len(fb.closeCalls))
	}
	// The whole position goes, signaled by qty 0.
	if fb.closeCalls[0].symbol != "BTC/USD" || fb.closeCalls[0].qty != 0 {
		t.Errorf("close call = %+v, want full BTC/USD close", fb.closeCalls[0])
	}
}

func TestManageOpenPositionsTrims(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "BTC/USD", Qty: 0.6, Side: domain.PositionSideLong, MarketValue: 30_000, UnrealizedPLPC: 0.01},
	}
	m, fb, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), positions)

	if err := m.ManageOpenPositions(context.Background()); err != nil {
		t.Fatalf("ManageOpenPositions() error = %v", err)
	}
	if len(fb.closeCalls) != 1 {
		t.Fatalf("close calls = %d, want 1", len(fb.closeCalls))
	}
	// 5000 of excess exposure at mark 50000 trims 0.1.
	if math.Abs(fb.closeCalls[0].qty-0.1) > 1e-12 {
		t.Errorf("trim qty = %v, want 0.1", fb.closeCalls[0].qty)
	}
}

func TestManageOpenPositionsHaltedSkips(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "BTC/USD", Qty: 0.2, Side: domain.PositionSideLong, MarketValue: 10_000, UnrealizedPLPC: -0.12},
	}
	m, fb, _ := newTestRisk(t, config.Default().Risk, activeAccount(94_000, 100_000), positions)
	m.CheckForHalt(nil)

	if err := m.ManageOpenPositions(context.Background()); err != nil {
		t.Fatalf("ManageOpenPositions() error = %v", err)
	}
	if len(fb.closeCalls) != 0 {
		t.Errorf("close calls = %d, want 0 while halted", len(fb.closeCalls))
	}
}

func TestManageOpenPositionsHaltedWithOverride(t *testing.T) {
	cfg := config.Default().Risk
	cfg.ManagePositionsWhenHalted = true

	positions := []domain.Position{
		{Symbol: "BTC/USD", Qty: 0.2, Side: domain.PositionSideLong, MarketValue: 10_000, UnrealizedPLPC: -0.12},
	}
	m, fb, _ := newTestRisk(t, cfg, activeAccount(94_000, 100_000), positions)
	m.CheckForHalt(nil)

	if err := m.ManageOpenPositions(context.Background()); err != nil {
		t.Fatalf("ManageOpenPositions() error = %v", err)
	}
	if len(fb.closeCalls) != 1 {
		t.Errorf("close calls = %d, want 1 with manage_positions_when_halted", len(fb.closeCalls))
	}
}

func TestManageOpenPositionsErrorDoesNotAbort(t *testing.T) {
	positions := []domain.Position{
		{Symbol: "BTC/USD", Qty: 0.2, Side: domain.PositionSideLong, MarketValue: 10_000, UnrealizedPLPC: -0.12},
		{Symbol: "ETH/USD", Qty: 5, Side: domain.PositionSideLong, MarketValue: 15_000, UnrealizedPLPC: -0.20},
	}
	m, fb, _ := newTestRisk(t, config.Default().Risk, activeAccount(100_000, 100_000), positions)
	fb.closeErr = errors.New("rejected")

	if err := m.ManageOpenPositions(context.Background()); err != nil {
		t.Fatalf("ManageOpenPositions() error = %v", err)
	}
	if len(fb.closeCalls) != 2 {
		t.Errorf("close calls = %d, want both positions attempted", len(fb.closeCalls))
	}
}
