package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"smartcfd/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*PaperBroker)(nil)

type paperPosition struct {
	qty float64 // signed: positive long, negative short
	avg float64
}

// PaperBroker implements the Broker interface entirely in memory. Market
// orders fill immediately at the last set mark; limit and stop orders rest
// until a SetPrice call crosses them. It backs engine tests and offline
// simulation runs.
type PaperBroker struct {
	mu         sync.Mutex
	cash       float64
	lastEquity float64
	marks      map[string]float64
	positions  map[string]*paperPosition
	orders     map[string]*domain.Order
	seq        int
}

// NewPaperBroker creates a PaperBroker holding startingCash and no
// positions. LastEquity starts equal to the cash balance.
func NewPaperBroker(startingCash float64) *PaperBroker {
	return &PaperBroker{
		cash:       startingCash,
		lastEquity: startingCash,
		marks:      make(map[string]float64),
		positions:  make(map[string]*paperPosition),
		orders:     make(map[string]*domain.Order),
	}
}

// Name returns "paper".
func (b *PaperBroker) Name() string {
	return "paper"
}

// SetPrice marks a symbol and fills any resting orders the new price
// crosses.
func (b *PaperBroker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks[symbol] = price

	for _, o := range b.orders {
		if o.Symbol != symbol || o.Status.Done() {
			continue
		}
		if fillPrice, ok := crossed(o, price); ok {
			b.fill(o, fillPrice)
		}
	}
}

// SetLastEquity overrides the previous-close equity used for drawdown
// calculations.
func (b *PaperBroker) SetLastEquity(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastEquity = v
}

// GetAccount returns the simulated account snapshot.
func (b *PaperBroker) GetAccount(_ context.Context) (*domain.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &domain.Account{
		ID:          "paper-account",
		Equity:      b.equity(),
		LastEquity:  b.lastEquity,
		BuyingPower: b.cash,
		Cash:        b.cash,
		Status:      "ACTIVE",
		IsOnline:    true,
	}, nil
}

// GetPositions returns all simulated positions.
func (b *PaperBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	positions := make([]domain.Position, 0, len(b.positions))
	for symbol, p := range b.positions {
		positions = append(positions, b.position(symbol, p))
	}
	return positions, nil
}

// GetOpenOrders returns all orders that are still working.
func (b *PaperBroker) GetOpenOrders(_ context.Context) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var orders []domain.Order
	for _, o := range b.orders {
		if !o.Status.Done() {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

// GetOrder retrieves an order by ID.
func (b *PaperBroker) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	cp := *o
	return &cp, nil
}

// SubmitOrder records the order and simulates execution: market orders fill
// immediately at the mark, limit/stop orders rest until crossed.
func (b *PaperBroker) SubmitOrder(_ context.Context, req *domain.OrderRequest) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	mark, marked := b.marks[req.Symbol]
	if req.Type == domain.OrderTypeMarket && !marked {
		return nil, fmt.Errorf("no market price for %s", req.Symbol)
	}

	b.seq++
	now := time.Now().UTC()
	order := &domain.Order{
		ID:            fmt.Sprintf("paper-%d", b.seq),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Qty:           req.Qty,
		Side:          req.Side,
		Type:          req.Type,
		Status:        domain.OrderStatusNew,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.orders[order.ID] = order

	switch req.Type {
	case domain.OrderTypeMarket:
		b.fill(order, mark)
	default:
		if marked {
			if fillPrice, ok := crossed(order, mark); ok {
				b.fill(order, fillPrice)
			}
		}
	}

	cp := *order
	return &cp, nil
}

// CancelOrder cancels a working order. Canceling a terminal order is an
// error, matching venue behavior.
func (b *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	if o.Status.Done() {
		return fmt.Errorf("order %s is %s", orderID, o.Status)
	}
	o.Status = domain.OrderStatusCanceled
	o.UpdatedAt = time.Now().UTC()
	return nil
}

// ClosePosition liquidates qty of the position at the current mark; qty <= 0
// or qty beyond the held amount closes the whole position.
func (b *PaperBroker) ClosePosition(_ context.Context, symbol string, qty float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok {
		return fmt.Errorf("no position in %s", symbol)
	}
	mark, marked := b.marks[symbol]
	if !marked {
		return fmt.Errorf("no market price for %s", symbol)
	}

	closeQty := math.Abs(qty)
	if closeQty <= 0 || closeQty > math.Abs(p.qty) {
		closeQty = math.Abs(p.qty)
	}

	side := domain.OrderSideSell
	if p.qty < 0 {
		side = domain.OrderSideBuy
	}

	b.seq++
	now := time.Now().UTC()
	order := &domain.Order{
		ID:        fmt.Sprintf("paper-%d", b.seq),
		Symbol:    symbol,
		Qty:       closeQty,
		Side:      side,
		Type:      domain.OrderTypeMarket,
		Status:    domain.OrderStatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.orders[order.ID] = order
	b.fill(order, mark)
	return nil
}

// ---------------------------------------------------------------------------
// Internals (callers hold b.mu)
// ---------------------------------------------------------------------------

// crossed reports whether the mark triggers the resting order and at what
// price it fills.
func crossed(o *domain.Order, mark float64) (float64, bool) {
	switch o.Type {
	case domain.OrderTypeLimit:
		if o.Side == domain.OrderSideBuy && mark <= o.LimitPrice {
			return o.LimitPrice, true
		}
		if o.Side == domain.OrderSideSell && mark >= o.LimitPrice {
			return o.LimitPrice, true
		}
	case domain.OrderTypeStop:
		if o.Side == domain.OrderSideBuy && mark >= o.StopPrice {
			return o.StopPrice, true
		}
		if o.Side == domain.OrderSideSell && mark <= o.StopPrice {
			return o.StopPrice, true
		}
	}
	return 0, false
}

func (b *PaperBroker) fill(o *domain.Order, price float64) {
	delta := o.Qty
	if o.Side == domain.OrderSideSell {
		delta = -delta
	}

	p := b.positions[o.Symbol]
	if p == nil {
		p = &paperPosition{}
		b.positions[o.Symbol] = p
	}

	oldQty := p.qty
	newQty := oldQty + delta
	b.cash -= delta * price

	switch {
	case newQty == 0:
		delete(b.positions, o.Symbol)
	case oldQty == 0 || oldQty*newQty < 0:
		// Fresh position, or the fill flipped the direction.
		p.qty = newQty
		p.avg = price
	case math.Abs(newQty) > math.Abs(oldQty):
		p.avg = (p.avg*math.Abs(oldQty) + price*math.Abs(delta)) / math.Abs(newQty)
		p.qty = newQty
	default:
		// Reduced: average entry unchanged.
		p.qty = newQty
	}

	now := time.Now().UTC()
	o.Status = domain.OrderStatusFilled
	o.FilledQty = o.Qty
	o.FilledAvgPrice = price
	o.FilledAt = now
	o.UpdatedAt = now
}

func (b *PaperBroker) position(symbol string, p *paperPosition) domain.Position {
	mark, marked := b.marks[symbol]
	if !marked {
		mark = p.avg
	}

	side := domain.PositionSideLong
	if p.qty < 0 {
		side = domain.PositionSideShort
	}

	marketValue := p.qty * mark
	unrealized := (mark - p.avg) * p.qty
	costBasis := math.Abs(p.avg * p.qty)
	var plpc float64
	if costBasis > 0 {
		plpc = unrealized / costBasis
	}

	return domain.Position{
		Symbol:         symbol,
		Qty:            p.qty,
		Side:           side,
		MarketValue:    marketValue,
		UnrealizedPL:   unrealized,
		UnrealizedPLPC: plpc,
		AvgEntryPrice:  p.avg,
	}
}

func (b *PaperBroker) equity() float64 {
	eq := b.cash
	for symbol, p := range b.positions {
		mark, marked := b.marks[symbol]
		if !marked {
			mark = p.avg
		}
		eq += p.qty * mark
	}
	return eq
}
