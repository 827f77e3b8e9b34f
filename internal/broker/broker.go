// Package broker defines the Broker interface and provides implementations
// for executing orders and managing accounts: a live Alpaca client and an
// in-memory paper broker for tests and offline runs.
package broker

import (
	"context"

	"smartcfd/internal/domain"
)

// Broker abstracts brokerage operations for order execution and account
// management. All mutating calls are idempotency-sensitive: implementations
// must not retry submissions on their own.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "paper").
	Name() string

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.Account, error)

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetOpenOrders returns all orders still working at the brokerage.
	GetOpenOrders(ctx context.Context) ([]domain.Order, error)

	// GetOrder retrieves a single order by its broker-assigned ID.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// SubmitOrder sends an order for execution. Exactly one attempt: the
	// caller decides whether a failed submission is ever re-issued.
	SubmitOrder(ctx context.Context, req *domain.OrderRequest) (*domain.Order, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// ClosePosition liquidates qty of the position in symbol at market.
	// qty <= 0 closes the whole position.
	ClosePosition(ctx context.Context, symbol string, qty float64) error
}
