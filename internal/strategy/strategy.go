// Package strategy defines the Strategy interface for trading strategies and
// provides a Registry plus a name-based factory for the shipped
// implementations.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"smartcfd/internal/domain"
)

// Strategy is the interface that all trading strategies must implement.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// Evaluate inspects the bar history for one symbol and returns a
	// directional signal, or nil when the strategy has no opinion this
	// cycle. Bars are ordered oldest first.
	Evaluate(ctx context.Context, symbol string, regime domain.MarketRegime, bars []domain.Bar) (*domain.Signal, error)
}

// ByName constructs one of the shipped strategies from its configured name.
// modelPath is only consulted by the inference strategy.
func ByName(name, modelPath string) (Strategy, error) {
	switch name {
	case "sma-momentum":
		return NewSMAMomentum(DefaultShortPeriod, DefaultLongPeriod), nil
	case "inference":
		return NewInference(modelPath), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
