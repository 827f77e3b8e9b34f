package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"smartcfd/internal/domain"
	"smartcfd/internal/util"
)

// ---------------------------------------------------------------------------
// Compile-time interface checks
// ---------------------------------------------------------------------------

var _ Loader = (*AlpacaLoader)(nil)
var _ Loader = (*StaticLoader)(nil)

const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond

	// fetchPadBars widens the request window so minutes without trades do
	// not shrink the returned series below the requested length.
	fetchPadBars = 32
)

// AlpacaLoader fetches crypto bars from the Alpaca market-data API.
type AlpacaLoader struct {
	client    *marketdata.Client
	interval  time.Duration
	timeframe marketdata.TimeFrame
	validator Validator
	log       *slog.Logger
}

// NewAlpacaLoader creates an AlpacaLoader for the given bar interval
// ("1m", "1h", "1d", ...). minDataPoints and maxStaleness configure the
// integrity checks applied by Validate.
func NewAlpacaLoader(apiKey, apiSecret, dataURL, interval string, minDataPoints int, maxStaleness time.Duration, log *slog.Logger) (*AlpacaLoader, error) {
	ivl, err := util.ParseInterval(interval)
	if err != nil {
		return nil, fmt.Errorf("parsing interval: %w", err)
	}

	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaLoader{
		client:    marketdata.NewClient(opts),
		interval:  ivl,
		timeframe: timeFrameFor(ivl),
		validator: Validator{
			Interval:      ivl,
			MaxStaleness:  maxStaleness,
			MinDataPoints: minDataPoints,
		},
		log: log.With("loader", "alpaca"),
	}, nil
}

// GetBars fetches the most recent limit bars for symbol, oldest first.
// Transient API failures are retried with backoff.
func (l *AlpacaLoader) GetBars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("bar limit must be positive, got %d", limit)
	}

	start := time.Now().UTC().Add(-time.Duration(limit+fetchPadBars) * l.interval)

	var cryptoBars []marketdata.CryptoBar
	err := util.Retry(ctx, retryAttempts, retryBaseDelay, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		cryptoBars, err = l.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: l.timeframe,
			Start:     start,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching bars for %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(cryptoBars))
	for _, cb := range cryptoBars {
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  cb.Timestamp,
			Open:       cb.Open,
			High:       cb.High,
			Low:        cb.Low,
			Close:      cb.Close,
			Volume:     cb.Volume,
			TradeCount: int64(cb.TradeCount),
			VWAP:       cb.VWAP,
		})
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}

	l.log.Debug("fetched bars", "symbol", symbol, "count", len(bars))
	return bars, nil
}

// Validate applies the loader's integrity checks to a bar series.
func (l *AlpacaLoader) Validate(bars []domain.Bar) error {
	return l.validator.Validate(bars)
}

// timeFrameFor maps a bar interval to the coarsest Alpaca timeframe that
// expresses it exactly.
func timeFrameFor(d time.Duration) marketdata.TimeFrame {
	switch {
	case d%(24*time.Hour) == 0:
		return marketdata.NewTimeFrame(int(d/(24*time.Hour)), marketdata.Day)
	case d%time.Hour == 0:
		return marketdata.NewTimeFrame(int(d/time.Hour), marketdata.Hour)
	default:
		return marketdata.NewTimeFrame(int(d/time.Minute), marketdata.Min)
	}
}
