package repodata

import (
	"fmt"
	"time"
)

const (
	msPerSecond int64 = 1000
	msPerMinute       = 60 * msPerSecond
	msPerHour         = 60 * msPerMinute
	msPerDay          = 24 * msPerHour
)

// FormatDuration reports a millisecond delta in its largest non-zero whole
// unit: days, then hours, then minutes, then seconds. Nil reports "N/A".
func FormatDuration(ms *int64) string {
	if ms == nil {
		return "N/A"
	}
	v := *ms
	if v < 0 {
		// Divide before negating so math.MinInt64 cannot overflow.
		v = -(v / msPerSecond) * msPerSecond
	}

	switch {
	case v >= msPerDay:
		return plural(v/msPerDay, "day")
	case v >= msPerHour:
		return plural(v/msPerHour, "hour")
	case v >= msPerMinute:
		return plural(v/msPerMinute, "minute")
	default:
		return plural(v/msPerSecond, "second")
	}
}

// Since formats the time elapsed from t to now. The zero time reports "N/A".
func Since(t, now time.Time) string {
	if t.IsZero() {
		return "N/A"
	}
	ms := now.Sub(t).Milliseconds()
	return FormatDuration(&ms)
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
