package indicator

import (
	"math"
	"testing"
	"time"

	"smartcfd/internal/domain"
)

// rangeBars builds bars centered at 100 whose high-low ranges are given by
// rngs. With a constant center the true range equals the bar's own range.
func rangeBars(rngs ...float64) []domain.Bar {
	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(rngs))
	for i, r := range rngs {
		bars[i] = domain.Bar{
			Symbol:    "BTC/USD",
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
			Open:      100,
			High:      100 + r/2,
			Low:       100 - r/2,
			Close:     100,
			Volume:    1,
		}
	}
	return bars
}

func flatBars(n int, rng float64) []domain.Bar {
	rngs := make([]float64, n)
	for i := range rngs {
		rngs[i] = rng
	}
	return rangeBars(rngs...)
}

func TestTrueRange(t *testing.T) {
	prev := domain.Bar{High: 101, Low: 99, Close: 100}

	// Bar's own range dominates.
	cur := domain.Bar{High: 103, Low: 98, Close: 102}
	if got := TrueRange(cur, prev); got != 5 {
		t.Errorf("TrueRange = %v, want 5", got)
	}

	// Gap up: distance from prior close dominates.
	cur = domain.Bar{High: 110, Low: 109, Close: 109.5}
	if got := TrueRange(cur, prev); got != 10 {
		t.Errorf("TrueRange gap up = %v, want 10", got)
	}

	// Gap down.
	cur = domain.Bar{High: 91, Low: 90, Close: 90.5}
	if got := TrueRange(cur, prev); got != 10 {
		t.Errorf("TrueRange gap down = %v, want 10", got)
	}
}

func TestATRInsufficientBars(t *testing.T) {
	bars := flatBars(14, 2)
	if got := ATR(bars, 14); got != 0 {
		t.Errorf("ATR with %d bars and period 14 = %v, want 0", len(bars), got)
	}
	if got := ATR(nil, 14); got != 0 {
		t.Errorf("ATR(nil) = %v, want 0", got)
	}
	if got := ATR(flatBars(20, 2), 0); got != 0 {
		t.Errorf("ATR with period 0 = %v, want 0", got)
	}
}

func TestATRConstantRange(t *testing.T) {
	bars := flatBars(30, 2)
	got := ATR(bars, 14)
	if math.Abs(got-2) > 1e-9 {
		t.Errorf("ATR over constant-range bars = %v, want 2", got)
	}
}

func TestATRWilderSmoothing(t *testing.T) {
	// True ranges are [2, 4, 8]. Seed for period 2 is (2+4)/2 = 3, then one
	// smoothing step: (3*1 + 8) / 2 = 5.5.
	bars := rangeBars(2, 2, 4, 8)
	got := ATR(bars, 2)
	if math.Abs(got-5.5) > 1e-9 {
		t.Errorf("ATR = %v, want 5.5", got)
	}
}

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4}
	if got := SMA(values, 2); got != 3.5 {
		t.Errorf("SMA = %v, want 3.5", got)
	}
	if got := SMA(values, 4); got != 2.5 {
		t.Errorf("SMA = %v, want 2.5", got)
	}
	if got := SMA(values, 5); got != 0 {
		t.Errorf("SMA with insufficient values = %v, want 0", got)
	}
}

func TestNewRegimeDetectorValidation(t *testing.T) {
	if _, err := NewRegimeDetector(50, 14, 0, 1.5); err == nil {
		t.Error("short >= long should be rejected")
	}
	if _, err := NewRegimeDetector(0, 14, 0, 1.5); err == nil {
		t.Error("zero short window should be rejected")
	}
	if _, err := NewRegimeDetector(14, 50, 0, 0); err == nil {
		t.Error("zero threshold should be rejected")
	}
	if _, err := NewRegimeDetector(14, 50, 100, 1.5); err != nil {
		t.Errorf("valid detector rejected: %v", err)
	}
}

func TestRegimeDetect(t *testing.T) {
	d, err := NewRegimeDetector(14, 50, 0, 1.5)
	if err != nil {
		t.Fatalf("NewRegimeDetector: %v", err)
	}

	// Calm history, calm present.
	if got := d.Detect(flatBars(70, 2)); got != domain.RegimeLowVolatility {
		t.Errorf("calm bars: Detect = %q, want %q", got, domain.RegimeLowVolatility)
	}

	// Calm history with a recent volatility expansion: the short ATR reacts
	// much faster than the long ATR.
	rngs := make([]float64, 0, 70)
	for i := 0; i < 55; i++ {
		rngs = append(rngs, 2)
	}
	for i := 0; i < 15; i++ {
		rngs = append(rngs, 20)
	}
	if got := d.Detect(rangeBars(rngs...)); got != domain.RegimeHighVolatility {
		t.Errorf("volatility expansion: Detect = %q, want %q", got, domain.RegimeHighVolatility)
	}

	// Not enough bars for the long window.
	if got := d.Detect(flatBars(20, 2)); got != domain.RegimeUndefined {
		t.Errorf("short history: Detect = %q, want %q", got, domain.RegimeUndefined)
	}

	// Zero ranges make the long ATR zero.
	if got := d.Detect(flatBars(70, 0)); got != domain.RegimeUndefined {
		t.Errorf("zero-range bars: Detect = %q, want %q", got, domain.RegimeUndefined)
	}
}

func TestRegimeDetectMinDataPoints(t *testing.T) {
	d, err := NewRegimeDetector(5, 10, 100, 1.5)
	if err != nil {
		t.Fatalf("NewRegimeDetector: %v", err)
	}
	// Enough for the windows but below the configured floor.
	if got := d.Detect(flatBars(60, 2)); got != domain.RegimeUndefined {
		t.Errorf("below min data points: Detect = %q, want %q", got, domain.RegimeUndefined)
	}
}
