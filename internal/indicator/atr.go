// Package indicator provides the volatility and trend measures used for
// position sizing, circuit breaking, and regime detection.
package indicator

import (
	"math"

	"smartcfd/internal/domain"
)

// TrueRange returns the true range of cur given the previous bar: the
// largest of the bar's own range and the gaps from the prior close.
func TrueRange(cur, prev domain.Bar) float64 {
	hl := cur.High - cur.Low
	hc := math.Abs(cur.High - prev.Close)
	lc := math.Abs(cur.Low - prev.Close)
	return math.Max(hl, math.Max(hc, lc))
}

// ATR computes the Wilder average true range over the given bars. The first
// `period` true ranges are averaged as a seed, then each remaining value is
// smoothed with atr = (atr*(period-1) + tr) / period. Returns 0 when there
// are fewer than period+1 bars.
func ATR(bars []domain.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		trs = append(trs, TrueRange(bars[i], bars[i-1]))
	}

	var atr float64
	for _, tr := range trs[:period] {
		atr += tr
	}
	atr /= float64(period)

	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}

	return atr
}

// SMA returns the arithmetic mean of the last `period` values, or 0 when
// there are fewer values than the period.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	var sum float64
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}

// Closes extracts the close prices from a bar series.
func Closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
