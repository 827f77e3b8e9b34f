// Package marketdata loads historical crypto bars and validates their
// integrity before they reach the strategy and risk layers.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"smartcfd/internal/domain"
)

// Sentinel errors returned by Validate. Callers use errors.Is to decide why a
// series was rejected; any of them means the symbol sits out the cycle.
var (
	ErrNoData           = errors.New("marketdata: no bars")
	ErrInsufficientData = errors.New("marketdata: insufficient bars")
	ErrStaleData        = errors.New("marketdata: stale bars")
	ErrDataGap          = errors.New("marketdata: gap between bars")
	ErrAnomalousData    = errors.New("marketdata: anomalous bar values")
)

// Loader fetches recent bars for a symbol and validates them.
type Loader interface {
	// GetBars returns up to limit bars for symbol, oldest first.
	GetBars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error)
	// Validate reports whether a bar series is fit for trading decisions.
	Validate(bars []domain.Bar) error
}

// ---------------------------------------------------------------------------
// Validator
// ---------------------------------------------------------------------------

// Validator applies integrity checks to a bar series: minimum length, value
// sanity per bar, ordering and gaps between consecutive bars, and staleness
// of the newest bar. Zero-valued fields disable the corresponding check.
type Validator struct {
	Interval      time.Duration // expected spacing between consecutive bars
	MaxStaleness  time.Duration // newest bar must be at most this old
	MinDataPoints int           // minimum series length
}

// Validate checks bars against the configured thresholds. Bars must be
// ordered oldest first.
func (v Validator) Validate(bars []domain.Bar) error {
	if len(bars) == 0 {
		return ErrNoData
	}
	if v.MinDataPoints > 0 && len(bars) < v.MinDataPoints {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientData, len(bars), v.MinDataPoints)
	}

	for i, bar := range bars {
		if err := checkBar(bar); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		gap := bar.Timestamp.Sub(bars[i-1].Timestamp)
		if gap <= 0 {
			return fmt.Errorf("%w: timestamps not increasing at %s",
				ErrAnomalousData, bar.Timestamp.Format(time.RFC3339))
		}
		if v.Interval > 0 && gap > v.Interval {
			return fmt.Errorf("%w: %s between %s and %s", ErrDataGap, gap,
				bars[i-1].Timestamp.Format(time.RFC3339), bar.Timestamp.Format(time.RFC3339))
		}
	}

	if v.MaxStaleness > 0 {
		if age := time.Since(bars[len(bars)-1].Timestamp); age > v.MaxStaleness {
			return fmt.Errorf("%w: last bar is %s old", ErrStaleData, age.Round(time.Second))
		}
	}
	return nil
}

// checkBar rejects bars with non-finite or non-positive prices, inverted
// high/low, or negative volume.
func checkBar(bar domain.Bar) error {
	for _, price := range []float64{bar.Open, bar.High, bar.Low, bar.Close} {
		if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			return fmt.Errorf("%w: bad price %v in %s bar at %s",
				ErrAnomalousData, price, bar.Symbol, bar.Timestamp.Format(time.RFC3339))
		}
	}
	if bar.High < bar.Low {
		return fmt.Errorf("%w: high %.8g below low %.8g in %s bar at %s",
			ErrAnomalousData, bar.High, bar.Low, bar.Symbol, bar.Timestamp.Format(time.RFC3339))
	}
	if math.IsNaN(bar.Volume) || bar.Volume < 0 {
		return fmt.Errorf("%w: bad volume %v in %s bar at %s",
			ErrAnomalousData, bar.Volume, bar.Symbol, bar.Timestamp.Format(time.RFC3339))
	}
	return nil
}
