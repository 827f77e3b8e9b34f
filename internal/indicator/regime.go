package indicator

import (
	"fmt"

	"smartcfd/internal/domain"
)

// Default regime detection parameters. A short ATR running hot relative to
// the long ATR marks a volatility expansion.
const (
	DefaultRegimeShortWindow = 14
	DefaultRegimeLongWindow  = 50
	DefaultRegimeThreshold   = 1.5
)

// RegimeDetector classifies market volatility by comparing a short-window
// ATR against a long-window ATR.
type RegimeDetector struct {
	shortWindow         int
	longWindow          int
	minDataPoints       int
	thresholdMultiplier float64
}

// NewRegimeDetector creates a detector. The short window must be smaller
// than the long window and the threshold multiplier positive.
func NewRegimeDetector(shortWindow, longWindow, minDataPoints int, thresholdMultiplier float64) (*RegimeDetector, error) {
	if shortWindow <= 0 || longWindow <= 0 {
		return nil, fmt.Errorf("regime detector: windows must be positive, got %d/%d", shortWindow, longWindow)
	}
	if shortWindow >= longWindow {
		return nil, fmt.Errorf("regime detector: short window %d must be smaller than long window %d", shortWindow, longWindow)
	}
	if thresholdMultiplier <= 0 {
		return nil, fmt.Errorf("regime detector: threshold multiplier must be positive, got %v", thresholdMultiplier)
	}
	return &RegimeDetector{
		shortWindow:         shortWindow,
		longWindow:          longWindow,
		minDataPoints:       minDataPoints,
		thresholdMultiplier: thresholdMultiplier,
	}, nil
}

// Detect classifies the bars. It returns RegimeUndefined when there is not
// enough history to compute both ATRs or when the long ATR is zero; trading
// logic treats undefined conservatively.
func (d *RegimeDetector) Detect(bars []domain.Bar) domain.MarketRegime {
	need := d.longWindow + 1
	if d.minDataPoints > need {
		need = d.minDataPoints
	}
	if len(bars) < need {
		return domain.RegimeUndefined
	}

	shortATR := ATR(bars, d.shortWindow)
	longATR := ATR(bars, d.longWindow)
	if longATR <= 0 {
		return domain.RegimeUndefined
	}

	if shortATR > longATR*d.thresholdMultiplier {
		return domain.RegimeHighVolatility
	}
	return domain.RegimeLowVolatility
}
