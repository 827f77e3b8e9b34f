// Package domain defines the shared value types used across the trading
// engine: market-data bars, account and position snapshots, orders, trade
// groups, and strategy signals.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV bar for one symbol. Volume is fractional because
// crypto quantities are not whole units.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount int64
	VWAP       float64
}

// MarketRegime classifies recent volatility conditions for a symbol.
type MarketRegime string

const (
	RegimeLowVolatility  MarketRegime = "low_volatility"
	RegimeHighVolatility MarketRegime = "high_volatility"
	RegimeUndefined      MarketRegime = "undefined"
)

// ---------------------------------------------------------------------------
// Account and positions
// ---------------------------------------------------------------------------

// Account is a snapshot of the broker account. IsOnline reports whether the
// snapshot reflects a successful fetch; when false the remaining fields hold
// the last known-good values.
type Account struct {
	ID          string
	Equity      float64
	LastEquity  float64
	BuyingPower float64
	Cash        float64
	Status      string
	IsOnline    bool
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is a broker-reported open position for one symbol.
type Position struct {
	Symbol         string
	Qty            float64
	Side           PositionSide
	MarketValue    float64
	UnrealizedPL   float64
	UnrealizedPLPC float64
	AvgEntryPrice  float64
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// TimeInForce controls how long an order remains working.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "day"
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
)

// OrderStatus mirrors the broker's order lifecycle states.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Done reports whether the status is terminal at the broker.
func (s OrderStatus) Done() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusExpired, OrderStatusRejected:
		return true
	}
	return false
}

// Order is a read-only mirror of a broker order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Qty            float64
	Side           OrderSide
	Type           OrderType
	Status         OrderStatus
	FilledQty      float64
	FilledAvgPrice float64
	LimitPrice     float64
	StopPrice      float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FilledAt       time.Time
}

// TakeProfit is the profit-taking leg of a bracket.
type TakeProfit struct {
	LimitPrice float64
}

// StopLoss is the protective leg of a bracket. LimitPrice is optional; when
// zero the stop triggers a market order.
type StopLoss struct {
	StopPrice  float64
	LimitPrice float64
}

// OrderRequest describes an order to submit. TakeProfit/StopLoss carry the
// derived exit levels for the client-side bracket emulation; the entry itself
// is submitted as a plain order because the venue has no native bracket
// support for crypto.
type OrderRequest struct {
	Symbol        string
	Qty           float64
	Side          OrderSide
	Type          OrderType
	TimeInForce   TimeInForce
	LimitPrice    float64
	StopPrice     float64
	ClientOrderID string
	TakeProfit    *TakeProfit
	StopLoss      *StopLoss
}

// Validate reports whether the request is well-formed enough to submit.
func (r *OrderRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("order request: symbol is empty")
	}
	if r.Qty <= 0 {
		return fmt.Errorf("order request: qty must be positive, got %v", r.Qty)
	}
	switch r.Side {
	case OrderSideBuy, OrderSideSell:
	default:
		return fmt.Errorf("order request: invalid side %q", r.Side)
	}
	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if r.LimitPrice <= 0 {
			return fmt.Errorf("order request: limit order needs positive limit price, got %v", r.LimitPrice)
		}
	case OrderTypeStop:
		if r.StopPrice <= 0 {
			return fmt.Errorf("order request: stop order needs positive stop price, got %v", r.StopPrice)
		}
	case OrderTypeStopLimit:
		if r.LimitPrice <= 0 || r.StopPrice <= 0 {
			return fmt.Errorf("order request: stop-limit order needs positive stop and limit prices, got %v/%v", r.StopPrice, r.LimitPrice)
		}
	default:
		return fmt.Errorf("order request: invalid type %q", r.Type)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Trade groups
// ---------------------------------------------------------------------------

// GroupStatus is the lifecycle state of a trade group. The happy path is
// new → entry_submitted → entry_filled → exits_submitted → closed; canceled
// and error are reachable from any non-terminal state.
type GroupStatus string

const (
	GroupStatusNew            GroupStatus = "new"
	GroupStatusEntrySubmitted GroupStatus = "entry_submitted"
	GroupStatusEntryFilled    GroupStatus = "entry_filled"
	GroupStatusExitsSubmitted GroupStatus = "exits_submitted"
	GroupStatusClosed         GroupStatus = "closed"
	GroupStatusCanceled       GroupStatus = "canceled"
	GroupStatusError          GroupStatus = "error"
)

// Terminal reports whether no further transitions are expected.
func (s GroupStatus) Terminal() bool {
	switch s {
	case GroupStatusClosed, GroupStatusCanceled, GroupStatusError:
		return true
	}
	return false
}

// TradeGroup binds one entry order to its two dependent exit legs so the pair
// can be tracked as a single logical trade (client-side OCO). One row per
// trade attempt, persisted on every transition.
type TradeGroup struct {
	GID             string
	Symbol          string
	Side            OrderSide
	Status          GroupStatus
	EntryOrderID    string
	EntryFilledQty  float64
	TPOrderID       string
	SLOrderID       string
	OpenQty         float64
	TakeProfitPrice float64
	StopLossPrice   float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Note            string
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// SignalType is the directional opinion of a strategy.
type SignalType string

const (
	SignalTypeBuy  SignalType = "buy"
	SignalTypeSell SignalType = "sell"
	SignalTypeHold SignalType = "hold"
)

// Signal is a strategy's directional opinion on one symbol with a confidence
// in [0, 1]. A nil *Signal means the strategy has no opinion this cycle.
type Signal struct {
	Symbol     string
	Type       SignalType
	Confidence float64
	Strategy   string
	CreatedAt  time.Time
}
