package marketdata

import (
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

func TestSplitWindows(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	windows := splitWindows(start, end, 30)
	if len(windows) != 3 {
		t.Fatalf("len(windows) = %d, want 3", len(windows))
	}

	// Consecutive, no gaps or overlap, clamped at end.
	if !windows[0].start.Equal(start) {
		t.Errorf("first window starts %v, want %v", windows[0].start, start)
	}
	for i := 1; i < len(windows); i++ {
		if !windows[i].start.Equal(windows[i-1].end) {
			t.Errorf("window %d starts %v, want %v", i, windows[i].start, windows[i-1].end)
		}
	}
	if !windows[len(windows)-1].end.Equal(end) {
		t.Errorf("last window ends %v, want %v", windows[len(windows)-1].end, end)
	}
}

func TestSplitWindowsShortRange(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	windows := splitWindows(start, end, 30)
	if len(windows) != 1 {
		t.Fatalf("len(windows) = %d, want 1", len(windows))
	}
	if !windows[0].start.Equal(start) || !windows[0].end.Equal(end) {
		t.Errorf("window = [%v, %v), want [%v, %v)", windows[0].start, windows[0].end, start, end)
	}
}

func TestTimeFrameFor(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     marketdata.TimeFrame
	}{
		{time.Minute, marketdata.NewTimeFrame(1, marketdata.Min)},
		{15 * time.Minute, marketdata.NewTimeFrame(15, marketdata.Min)},
		{time.Hour, marketdata.NewTimeFrame(1, marketdata.Hour)},
		{4 * time.Hour, marketdata.NewTimeFrame(4, marketdata.Hour)},
		{24 * time.Hour, marketdata.NewTimeFrame(1, marketdata.Day)},
	}
	for _, tt := range tests {
		if got := timeFrameFor(tt.interval); got != tt.want {
			t.Errorf("timeFrameFor(%v) = %v, want %v", tt.interval, got, tt.want)
		}
	}
}
