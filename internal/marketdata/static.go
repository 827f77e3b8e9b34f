package marketdata

import (
	"context"
	"fmt"
	"sync"

	"smartcfd/internal/domain"
)

// StaticLoader serves canned bars from memory. It backs tests and offline
// runs where no data API is available.
type StaticLoader struct {
	mu          sync.Mutex
	bars        map[string][]domain.Bar
	errs        map[string]error
	validateErr error
}

// NewStaticLoader creates an empty StaticLoader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{
		bars: make(map[string][]domain.Bar),
		errs: make(map[string]error),
	}
}

// SetBars replaces the canned series for symbol.
func (l *StaticLoader) SetBars(symbol string, bars []domain.Bar) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bars[symbol] = bars
}

// SetError makes GetBars fail for symbol until cleared with a nil err.
func (l *StaticLoader) SetError(symbol string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.errs, symbol)
		return
	}
	l.errs[symbol] = err
}

// SetValidateError makes Validate return err for every series.
func (l *StaticLoader) SetValidateError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.validateErr = err
}

// GetBars returns up to limit canned bars for symbol, oldest first.
func (l *StaticLoader) GetBars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err, ok := l.errs[symbol]; ok {
		return nil, err
	}
	bars, ok := l.bars[symbol]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoData, symbol)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}

	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// Validate returns the configured validation error, if any.
func (l *StaticLoader) Validate(bars []domain.Bar) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validateErr
}
