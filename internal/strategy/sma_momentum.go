package strategy

import (
	"context"
	"math"
	"time"

	"smartcfd/internal/domain"
	"smartcfd/internal/indicator"
)

// Compile-time interface check.
var _ Strategy = (*SMAMomentum)(nil)

// Default moving-average periods for the sma-momentum strategy.
const (
	DefaultShortPeriod = 20
	DefaultLongPeriod  = 50
)

// SMAMomentum implements a moving-average crossover strategy. It signals a
// buy when the short-period SMA crosses above the long-period SMA on the
// latest bar, and a sell when it crosses below. Crosses that happened on
// earlier bars produce no signal.
type SMAMomentum struct {
	shortPeriod int
	longPeriod  int
}

// NewSMAMomentum creates an SMAMomentum strategy with the specified short and
// long moving average periods.
func NewSMAMomentum(short, long int) *SMAMomentum {
	return &SMAMomentum{
		shortPeriod: short,
		longPeriod:  long,
	}
}

// Name returns "sma-momentum".
func (s *SMAMomentum) Name() string {
	return "sma-momentum"
}

// Evaluate detects a crossover on the latest bar. Confidence grows with the
// width of the cross and is dampened in high-volatility regimes.
func (s *SMAMomentum) Evaluate(_ context.Context, symbol string, regime domain.MarketRegime, bars []domain.Bar) (*domain.Signal, error) {
	if len(bars) < s.longPeriod+1 {
		return nil, nil
	}

	closes := indicator.Closes(bars)
	curShort := indicator.SMA(closes, s.shortPeriod)
	curLong := indicator.SMA(closes, s.longPeriod)
	prevShort := indicator.SMA(closes[:len(closes)-1], s.shortPeriod)
	prevLong := indicator.SMA(closes[:len(closes)-1], s.longPeriod)
	if curLong <= 0 || prevLong <= 0 {
		return nil, nil
	}

	var sigType domain.SignalType
	switch {
	case prevShort <= prevLong && curShort > curLong:
		sigType = domain.SignalTypeBuy
	case prevShort >= prevLong && curShort < curLong:
		sigType = domain.SignalTypeSell
	default:
		return nil, nil
	}

	spread := math.Abs(curShort-curLong) / curLong
	confidence := 0.5 + spread*25
	if confidence > 0.95 {
		confidence = 0.95
	}
	if regime == domain.RegimeHighVolatility {
		confidence *= 0.8
	}

	return &domain.Signal{
		Symbol:     symbol,
		Type:       sigType,
		Confidence: confidence,
		Strategy:   s.Name(),
		CreatedAt:  time.Now().UTC(),
	}, nil
}
