package scheduler

import (
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/window"
)

// NextFixedRun returns the earliest of times (HH:MM) strictly after now on the
// same day. When none is left it moves to the next day allowed by the window's
// weekdays and returns its earliest time. The window's hour range is not
// applied here.
func NextFixedRun(now time.Time, times []string, w window.Window) (time.Time, error) {
	if len(times) == 0 {
		return time.Time{}, fmt.Errorf("next fixed run: %w: empty list", domain.ErrInvalidFixedTime)
	}

	offsets := make([]time.Duration, 0, len(times))
	for _, s := range times {
		off, err := domain.ParseClock(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("next fixed run: %w", err)
		}
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)

	for _, off := range offsets {
		if candidate := clockOn(now, 0, off); candidate.After(now) {
			return candidate, nil
		}
	}

	days := 1
	for ; days <= 7; days++ {
		if w.Allows(clockOn(now, days, 0).Weekday()) {
			break
		}
	}
	if days > 7 {
		days = 1
	}
	return clockOn(now, days, offsets[0]), nil
}

// nextCronRun returns the first activation of expr after now.
func nextCronRun(now time.Time, expr string) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidCronExpr, expr)
	}
	return sched.Next(now), nil
}

// clockOn returns midnight of the day offset by days from t, plus off, in
// t's location.
func clockOn(t time.Time, days int, off time.Duration) time.Time {
	y, m, d := t.Date()
	h := int(off / time.Hour)
	minute := int((off % time.Hour) / time.Minute)
	return time.Date(y, m, d+days, h, minute, 0, 0, t.Location())
}
