// Package window decides whether tasks may run at a given instant.
package window

import (
	"fmt"
	"time"
)

// Window is the weekly operating window: a set of weekdays and a half-open
// hour range [StartHour, EndHour). It is evaluated in the location of the
// time values it receives.
type Window struct {
	days      [7]bool
	StartHour int
	EndHour   int
}

// New builds a window. Weekdays use time.Weekday numbering (0 = Sunday).
func New(weekdays []int, startHour, endHour int) (Window, error) {
	if startHour < 0 || startHour > 23 || endHour < 0 || endHour > 23 {
		return Window{}, fmt.Errorf("window hours must be within 0..23, got %d..%d", startHour, endHour)
	}
	w := Window{StartHour: startHour, EndHour: endHour}
	for _, d := range weekdays {
		if d < 0 || d > 6 {
			return Window{}, fmt.Errorf("weekday %d out of range 0..6", d)
		}
		w.days[d] = true
	}
	return w, nil
}

// Allows reports whether d is an allowed weekday.
func (w Window) Allows(d time.Weekday) bool {
	return w.days[d]
}

// Weekdays lists the allowed weekdays in ascending order.
func (w Window) Weekdays() []time.Weekday {
	var out []time.Weekday
	for d, ok := range w.days {
		if ok {
			out = append(out, time.Weekday(d))
		}
	}
	return out
}

// Contains reports whether now falls on an allowed weekday and within the hour range.
func (w Window) Contains(now time.Time) bool {
	if !w.Allows(now.Weekday()) {
		return false
	}
	h := now.Hour()
	return w.StartHour <= h && h < w.EndHour
}

// NextStart returns the next instant at which the window opens after the
// given time. With no allowed weekdays it falls back to the next day at
// StartHour.
func (w Window) NextStart(after time.Time) time.Time {
	if w.Allows(after.Weekday()) && after.Hour() < w.StartHour {
		return atHour(after, 0, w.StartHour)
	}

	for i := 1; i <= 7; i++ {
		day := atHour(after, i, w.StartHour)
		if w.Allows(day.Weekday()) {
			return day
		}
	}
	return atHour(after, 1, w.StartHour)
}

// atHour returns the day offset by days from t, at hour:00 in t's location.
func atHour(t time.Time, days, hour int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+days, hour, 0, 0, 0, t.Location())
}
