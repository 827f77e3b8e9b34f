package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"smartcfd/internal/domain"
	"smartcfd/internal/store"
	"smartcfd/internal/util"
)

// ---------------------------------------------------------------------------
// Backfiller — bulk historical crypto bars into the archive store.
// ---------------------------------------------------------------------------

// Backfiller downloads historical crypto bars for a set of symbols and
// writes them to the archive store in day-sized windows.
type Backfiller struct {
	client     *marketdata.Client
	store      store.BarStore
	interval   string
	timeframe  marketdata.TimeFrame
	days       int // how far back to fetch
	batchDays  int // days per API request window
	maxWorkers int // concurrent goroutines
	limiter    *util.RateLimiter
	log        *slog.Logger
}

// NewBackfiller creates a Backfiller for the given bar interval. days is how
// far back to fetch, batchDays the window size per API request, and
// rateLimitPerMin caps the request rate across all workers.
func NewBackfiller(apiKey, apiSecret, dataURL string, s store.BarStore, interval string, days, batchDays, maxWorkers, rateLimitPerMin int) (*Backfiller, error) {
	ivl, err := util.ParseInterval(interval)
	if err != nil {
		return nil, fmt.Errorf("parsing interval: %w", err)
	}
	if days <= 0 {
		return nil, fmt.Errorf("backfill days must be positive, got %d", days)
	}
	if batchDays <= 0 {
		batchDays = 30
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &Backfiller{
		client:     marketdata.NewClient(opts),
		store:      s,
		interval:   interval,
		timeframe:  timeFrameFor(ivl),
		days:       days,
		batchDays:  batchDays,
		maxWorkers: maxWorkers,
		limiter:    util.NewRateLimiter(rateLimitPerMin),
		log:        slog.Default().With("component", "backfill"),
	}, nil
}

// window is a half-open [start, end) fetch range.
type window struct {
	start time.Time
	end   time.Time
}

// splitWindows cuts [start, end) into consecutive windows of at most
// batchDays days.
func splitWindows(start, end time.Time, batchDays int) []window {
	var windows []window
	for cur := start; cur.Before(end); {
		next := cur.AddDate(0, 0, batchDays)
		if next.After(end) {
			next = end
		}
		windows = append(windows, window{start: cur, end: next})
		cur = next
	}
	return windows
}

// Run fetches bars for all symbols and writes them to the store. Windows are
// processed by a worker pool; a failed window is logged and counted but does
// not stop the rest.
func (b *Backfiller) Run(ctx context.Context, symbols []string) error {
	if len(symbols) == 0 {
		return errors.New("no symbols to backfill")
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -b.days)

	type job struct {
		symbol string
		win    window
	}
	var jobs []job
	for _, sym := range symbols {
		for _, win := range splitWindows(start, end, b.batchDays) {
			jobs = append(jobs, job{symbol: sym, win: win})
		}
	}

	b.log.Info("starting backfill",
		"symbols", len(symbols),
		"interval", b.interval,
		"days", b.days,
		"windows", len(jobs),
	)

	jobCh := make(chan job, len(jobs))
	for _, j := range jobs {
		jobCh <- j
	}
	close(jobCh)

	var (
		wg        sync.WaitGroup
		totalBars atomic.Int64
		failed    atomic.Int64
		runStart  = time.Now()
	)

	workers := min(b.maxWorkers, len(jobs))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				if ctx.Err() != nil {
					return
				}

				n, err := b.fetchWindow(ctx, j.symbol, j.win)
				if err != nil {
					failed.Add(1)
					b.log.Error("window fetch failed",
						"symbol", j.symbol,
						"start", j.win.start.Format("2006-01-02"),
						"end", j.win.end.Format("2006-01-02"),
						"err", err,
					)
					continue
				}
				totalBars.Add(n)
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	b.log.Info("backfill complete",
		"bars", totalBars.Load(),
		"failedWindows", failed.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)

	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d windows failed", n, len(jobs))
	}
	return nil
}

// fetchWindow fetches one symbol window and writes it to the store.
func (b *Backfiller) fetchWindow(ctx context.Context, symbol string, win window) (int64, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	cryptoBars, err := b.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
		TimeFrame: b.timeframe,
		Start:     win.start,
		End:       win.end,
	})
	if err != nil {
		return 0, fmt.Errorf("GetCryptoBars: %w", err)
	}
	if len(cryptoBars) == 0 {
		return 0, nil
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

	if err := b.store.WriteBars(ctx, b.interval, bars); err != nil {
		return 0, fmt.Errorf("writing bars: %w", err)
	}
	return int64(len(bars)), nil
}
