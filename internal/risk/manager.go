// Package risk enforces the account-level trading guards: the halt state
// machine, position sizing under three capital ceilings, bracket level
// derivation, and the standing open-position policies.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"smartcfd/internal/broker"
	"smartcfd/internal/config"
	"smartcfd/internal/domain"
	"smartcfd/internal/indicator"
	"smartcfd/internal/portfolio"
)

// atrPeriod is the lookback used for stops, targets, and the circuit breaker.
const atrPeriod = 14

// Manager owns the halt state and applies the configured risk limits. It is
// owned by the worker goroutine; there is a single writer to the halt state.
type Manager struct {
	cfg    config.Risk
	pf     *portfolio.Manager
	broker broker.Broker
	log    *slog.Logger

	halted     bool
	haltReason string
}

// New creates a risk Manager applying cfg against the portfolio snapshot.
func New(cfg config.Risk, pf *portfolio.Manager, b broker.Broker, log *slog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		pf:     pf,
		broker: b,
		log:    log.With("component", "risk"),
	}
}

// ---------------------------------------------------------------------------
// Halt state machine
// ---------------------------------------------------------------------------

// CheckForHalt evaluates the halt triggers in strict order, short-circuiting
// on the first hit: missing account data, daily drawdown, then the
// per-symbol volatility circuit breaker. When nothing triggers, a previous
// halt clears (self-healing). Returns the resulting halt state.
func (m *Manager) CheckForHalt(dataBySymbol map[string][]domain.Bar) bool {
	account := m.pf.Account()
	if account == nil || account.LastEquity <= 0 {
		m.halt("could not calculate drawdown: no account info")
		return m.halted
	}

	drawdown := account.Equity/account.LastEquity - 1
	if drawdown < m.cfg.MaxDailyDrawdownPercent/100 {
		m.halt(fmt.Sprintf("max daily drawdown exceeded: %.2f%% < %.2f%%",
			drawdown*100, m.cfg.MaxDailyDrawdownPercent))
		return m.halted
	}

	if m.cfg.CircuitBreakerATRMultiplier > 0 {
		symbols := make([]string, 0, len(dataBySymbol))
		for sym := range dataBySymbol {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)

		for _, sym := range symbols {
			bars := dataBySymbol[sym]
			// Need a full ATR window plus the bar under test.
			if len(bars) < atrPeriod+2 {
				continue
			}
			histATR := indicator.ATR(bars[:len(bars)-1], atrPeriod)
			if histATR <= 0 {
				continue
			}
			tr := indicator.TrueRange(bars[len(bars)-1], bars[len(bars)-2])
			ceiling := histATR * m.cfg.CircuitBreakerATRMultiplier
			if tr > ceiling {
				m.halt(fmt.Sprintf("volatility circuit breaker tripped for %s: true range %.4f > %.4f",
					sym, tr, ceiling))
				return m.halted
			}
		}
	}

	if m.halted {
		m.log.Info("halt cleared", "previousReason", m.haltReason)
		m.halted = false
		m.haltReason = ""
	}
	return m.halted
}

func (m *Manager) halt(reason string) {
	if !m.halted {
		m.log.Error("trading halted", "reason", reason)
	}
	m.halted = true
	m.haltReason = reason
}

// Halted returns the halt flag and the current reason.
func (m *Manager) Halted() (bool, string) {
	return m.halted, m.haltReason
}

// ---------------------------------------------------------------------------
// Position sizing
// ---------------------------------------------------------------------------

// CalculateOrderQty sizes a new position for symbol under three ceilings:
// remaining total-exposure headroom, remaining per-asset headroom, and the
// per-trade risk budget. It never returns an error; every unsafe condition
// collapses to qty 0. price is the latest close when one is known.
func (m *Manager) CalculateOrderQty(symbol string, side domain.OrderSide, bars []domain.Bar) (qty, price float64) {
	if m.halted {
		return 0, 0
	}
	account := m.pf.Account()
	if account == nil || !account.IsOnline || len(bars) == 0 {
		return 0, 0
	}
	price = bars[len(bars)-1].Close
	if price <= 0 {
		return 0, 0
	}

	equity := account.Equity
	totalHeadroom := equity*m.cfg.MaxTotalExposurePercent/100 - m.pf.TotalExposure()
	assetHeadroom := equity*m.cfg.MaxExposurePerAssetPercent/100 - m.pf.ExposureFor(symbol)
	riskValue := equity * m.cfg.RiskPerTradePercent / 100

	capital := math.Min(totalHeadroom, math.Min(assetHeadroom, riskValue))
	if capital <= 0 || capital < m.cfg.MinOrderNotional {
		return 0, price
	}

	qty = capital / price
	m.log.Debug("sized order",
		"symbol", symbol,
		"side", side,
		"qty", qty,
		"price", price,
		"capital", capital,
	)
	return qty, price
}

// GenerateBracketOrder derives ATR-based stop and target levels around entry
// and wraps them in a market order request with gtc time in force. It
// returns nil whenever a level would be degenerate; it never submits.
func (m *Manager) GenerateBracketOrder(symbol string, side domain.OrderSide, qty, entry float64, bars []domain.Bar) *domain.OrderRequest {
	if qty <= 0 || entry <= 0 {
		return nil
	}
	atr := indicator.ATR(bars, atrPeriod)
	if atr <= 0 {
		return nil
	}

	var stop, target float64
	switch side {
	case domain.OrderSideBuy:
		stop = entry - atr*m.cfg.StopLossATRMultiplier
		target = entry + atr*m.cfg.TakeProfitATRMultiplier
	case domain.OrderSideSell:
		stop = entry + atr*m.cfg.StopLossATRMultiplier
		target = entry - atr*m.cfg.TakeProfitATRMultiplier
	default:
		return nil
	}
	if stop <= 0 || target <= 0 {
		return nil
	}

	return &domain.OrderRequest{
		Symbol:      symbol,
		Qty:         qty,
		Side:        side,
		Type:        domain.OrderTypeMarket,
		TimeInForce: domain.TimeInForceGTC,
		TakeProfit:  &domain.TakeProfit{LimitPrice: target},
		StopLoss:    &domain.StopLoss{StopPrice: stop},
	}
}

// ---------------------------------------------------------------------------
// Open-position policies
// ---------------------------------------------------------------------------

// ManageOpenPositions applies the standing policies to every open position:
// forced de-risking when the unrealized loss breaches the configured limit,
// then trimming of per-asset exposure above its cap. Per-position errors are
// logged and do not abort the pass.
func (m *Manager) ManageOpenPositions(ctx context.Context) error {
	if m.halted && !m.cfg.ManagePositionsWhenHalted {
		return nil
	}
	account := m.pf.Account()
	if account == nil || !account.IsOnline {
		return nil
	}

	positions := m.pf.Positions()
	symbols := make([]string, 0, len(positions))
	for sym := range positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	assetCap := account.Equity * m.cfg.MaxExposurePerAssetPercent / 100

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		pos := positions[sym]

		if pos.UnrealizedPLPC*100 < m.cfg.MaxUnrealizedLossPercent {
			m.log.Warn("de-risking position",
				"symbol", sym,
				"unrealizedPLPC", pos.UnrealizedPLPC,
				"limitPercent", m.cfg.MaxUnrealizedLossPercent,
			)
			if err := m.broker.ClosePosition(ctx, sym, 0); err != nil {
				m.log.Error("close position failed", "symbol", sym, "err", err)
			}
			continue
		}

		exposure := math.Abs(pos.MarketValue)
		if exposure <= assetCap || pos.Qty == 0 {
			continue
		}
		markPrice := exposure / math.Abs(pos.Qty)
		if markPrice <= 0 {
			continue
		}
		trimQty := (exposure - assetCap) / markPrice
		m.log.Warn("trimming position",
			"symbol", sym,
			"exposure", exposure,
			"cap", assetCap,
			"trimQty", trimQty,
		)
		if err := m.broker.ClosePosition(ctx, sym, trimQty); err != nil {
			m.log.Error("trim position failed", "symbol", sym, "err", err)
		}
	}
	return nil
}
