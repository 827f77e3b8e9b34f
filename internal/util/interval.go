package util

import (
	"fmt"
	"time"
)

// ParseInterval converts a bar-interval token such as "1m", "5m", "15m",
// "1h", or "1d" into a time.Duration. The token format is a positive
// integer followed by a unit suffix: "m" (minutes), "h" (hours), or "d"
// (days).
func ParseInterval(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}

	unit := interval[len(interval)-1]
	var n int
	if _, err := fmt.Sscanf(interval[:len(interval)-1], "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", interval, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid interval %q: count must be positive", interval)
	}

	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("invalid interval %q: unknown unit %q", interval, string(unit))
	}
}
