package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"smartcfd/internal/domain"
	"smartcfd/internal/util"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// Read calls are retried on transient failures; submissions never are.
const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Crypto order quantities are accepted up to 9 decimal places.
const cryptoQtyPrecision = 9

// AlpacaBroker implements the Broker interface using the Alpaca trading API.
type AlpacaBroker struct {
	client  *alpaca.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint. timeout bounds each call including retries;
// <= 0 means no deadline.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string, timeout time.Duration, log *slog.Logger) *AlpacaBroker {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &AlpacaBroker{
		client:  client,
		timeout: timeout,
		log:     log,
	}
}

func (b *AlpacaBroker) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// GetAccount returns the current account snapshot.
func (b *AlpacaBroker) GetAccount(ctx context.Context) (*domain.Account, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var acct *alpaca.Account
	err := util.Retry(ctx, retryAttempts, retryBaseDelay, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		a, err := b.client.GetAccount()
		if err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}
	return accountFromAlpaca(acct), nil
}

// GetPositions returns all current positions.
func (b *AlpacaBroker) GetPositions(ctx context.Context) ([]domain.Position, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var raw []alpaca.Position
	err := util.Retry(ctx, retryAttempts, retryBaseDelay, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ps, err := b.client.GetPositions()
		if err != nil {
			return err
		}
		raw = ps
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching positions: %w", err)
	}

	positions := make([]domain.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, positionFromAlpaca(p))
	}
	return positions, nil
}

// GetOpenOrders returns all working orders.
func (b *AlpacaBroker) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var raw []alpaca.Order
	err := util.Retry(ctx, retryAttempts, retryBaseDelay, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		os, err := b.client.GetOrders(alpaca.GetOrdersRequest{Status: "open"})
		if err != nil {
			return err
		}
		raw = os
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching open orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, *orderFromAlpaca(&o))
	}
	return orders, nil
}

// GetOrder retrieves a single order by ID.
func (b *AlpacaBroker) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var raw *alpaca.Order
	err := util.Retry(ctx, retryAttempts, retryBaseDelay, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		o, err := b.client.GetOrder(orderID)
		if err != nil {
			return err
		}
		raw = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching order %s: %w", orderID, err)
	}
	return orderFromAlpaca(raw), nil
}

// SubmitOrder sends an order for execution. Exactly one attempt: a failed
// submission is surfaced to the caller, never silently retried — a timed-out
// request may still have reached the venue.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, req *domain.OrderRequest) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qty := decimal.NewFromFloat(req.Qty).Round(cryptoQtyPrecision)
	preq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          alpaca.Side(req.Side),
		Type:          alpaca.OrderType(req.Type),
		TimeInForce:   alpaca.TimeInForce(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice > 0 {
		lp := decimal.NewFromFloat(req.LimitPrice)
		preq.LimitPrice = &lp
	}
	if req.StopPrice > 0 {
		sp := decimal.NewFromFloat(req.StopPrice)
		preq.StopPrice = &sp
	}

	order, err := b.client.PlaceOrder(preq)
	if err != nil {
		return nil, fmt.Errorf("submitting %s %s %s: %w", req.Side, req.Symbol, qty, err)
	}

	b.log.Info("order submitted",
		"symbol", req.Symbol,
		"side", req.Side,
		"type", req.Type,
		"qty", req.Qty,
		"order_id", order.ID,
		"client_order_id", req.ClientOrderID)

	return orderFromAlpaca(order), nil
}

// CancelOrder requests cancellation of an open order.
func (b *AlpacaBroker) CancelOrder(ctx context.Context, orderID string) error {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	err := util.Retry(ctx, retryAttempts, retryBaseDelay, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return b.client.CancelOrder(orderID)
	})
	if err != nil {
		return fmt.Errorf("canceling order %s: %w", orderID, err)
	}
	return nil
}

// ClosePosition liquidates qty of the position at market; qty <= 0 closes
// the whole position.
func (b *AlpacaBroker) ClosePosition(ctx context.Context, symbol string, qty float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var req alpaca.ClosePositionRequest
	if qty > 0 {
		req.Qty = decimal.NewFromFloat(qty).Round(cryptoQtyPrecision)
	}

	if _, err := b.client.ClosePosition(symbol, req); err != nil {
		return fmt.Errorf("closing position %s: %w", symbol, err)
	}

	b.log.Info("position close requested", "symbol", symbol, "qty", qty)
	return nil
}

// StatusCode extracts the HTTP status from an Alpaca API error chain, or 0
// when the error carries none.
func StatusCode(err error) int {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ---------------------------------------------------------------------------
// SDK type conversions
// ---------------------------------------------------------------------------

func accountFromAlpaca(a *alpaca.Account) *domain.Account {
	return &domain.Account{
		ID:          a.ID,
		Equity:      a.Equity.InexactFloat64(),
		LastEquity:  a.LastEquity.InexactFloat64(),
		BuyingPower: a.BuyingPower.InexactFloat64(),
		Cash:        a.Cash.InexactFloat64(),
		Status:      a.Status,
		IsOnline:    true,
	}
}

func positionFromAlpaca(p alpaca.Position) domain.Position {
	pos := domain.Position{
		Symbol:        p.Symbol,
		Qty:           p.Qty.InexactFloat64(),
		Side:          domain.PositionSide(p.Side),
		AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
	}
	if p.MarketValue != nil {
		pos.MarketValue = p.MarketValue.InexactFloat64()
	}
	if p.UnrealizedPL != nil {
		pos.UnrealizedPL = p.UnrealizedPL.InexactFloat64()
	}
	if p.UnrealizedPLPC != nil {
		pos.UnrealizedPLPC = p.UnrealizedPLPC.InexactFloat64()
	}
	return pos
}

func orderFromAlpaca(o *alpaca.Order) *domain.Order {
	order := &domain.Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          domain.OrderSide(o.Side),
		Type:          domain.OrderType(o.Type),
		Status:        domain.OrderStatus(o.Status),
		FilledQty:     o.FilledQty.InexactFloat64(),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Qty != nil {
		order.Qty = o.Qty.InexactFloat64()
	}
	if o.FilledAvgPrice != nil {
		order.FilledAvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	if o.LimitPrice != nil {
		order.LimitPrice = o.LimitPrice.InexactFloat64()
	}
	if o.StopPrice != nil {
		order.StopPrice = o.StopPrice.InexactFloat64()
	}
	if o.FilledAt != nil {
		order.FilledAt = *o.FilledAt
	}
	return order
}
