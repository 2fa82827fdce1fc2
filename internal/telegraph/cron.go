package telegraph

import (
	"time"

	"github.com/robfig/cron/v3"
)

// nextPrune returns the first time after now that the 5-field cron
// expression fires. ok is false when expr does not parse.
func nextPrune(expr string, now time.Time) (time.Time, bool) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, false
	}
	return sched.Next(now), true
}

// nextCronDuration returns the wait until the next fire time of expr, or 0
// when expr is invalid.
func nextCronDuration(expr string) time.Duration {
	now := time.Now()
	next, ok := nextPrune(expr, now)
	if !ok {
		return 0
	}
	if d := next.Sub(now); d > 0 {
		return d
	}
	return 0
}
