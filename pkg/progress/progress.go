// Package progress turns cumulative batch counters into a percentage and an
// estimated time remaining.
package progress

import (
	"fmt"
	"math"
	"time"
)

// RunningCap is the highest percentage reported before a run is known to be
// complete. Only Tracker.Complete reports 100.
const RunningCap = 95

// Percent returns round(100*done/estimated) capped at RunningCap, or 0 when
// there is no estimate.
func Percent(done, estimated int) int {
	if estimated <= 0 || done <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(done) / float64(estimated)))
	return min(pct, RunningCap)
}

// ETA estimates the time remaining from the average rate so far. ok is false
// when the estimate is undefined: nothing done yet, no elapsed time, or done
// already at or beyond the estimate.
func ETA(done, estimated int, elapsed time.Duration) (eta time.Duration, ok bool) {
	if done <= 0 || estimated <= 0 || done >= estimated || elapsed <= 0 {
		return 0, false
	}

	rate := float64(done) / elapsed.Seconds()
	if rate <= 0 {
		return 0, false
	}

	remaining := float64(estimated - done)
	return time.Duration(remaining / rate * float64(time.Second)), true
}

// FormatETA renders an ETA for display: "45s", "2m 5s" under an hour,
// "1h 4m" above, "unknown" when undefined.
func FormatETA(eta time.Duration, ok bool) string {
	if !ok || eta < 0 {
		return "unknown"
	}

	secs := int(eta.Round(time.Second).Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm %ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh %dm", secs/3600, (secs%3600)/60)
	}
}
