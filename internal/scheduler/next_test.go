package scheduler_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/scheduler"
	"github.com/ErlanBelekov/table-sync/internal/window"
)

// 2024-01-01 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
}

func weekdayWindow(t *testing.T) window.Window {
	t.Helper()
	w, err := window.New([]int{1, 2, 3, 4, 5}, 7, 18)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	return w
}

func TestNextFixedRun(t *testing.T) {
	w := weekdayWindow(t)
	times := []string{"14:00", "08:00"}

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later slot today", at(1, 9, 0), at(1, 14, 0)},
		{"first slot today", at(1, 6, 0), at(1, 8, 0)},
		{"exact slot is not reused", at(1, 14, 0), at(2, 8, 0)},
		{"past all slots", at(1, 15, 0), at(2, 8, 0)},
		{"friday afternoon skips weekend", at(5, 15, 0), at(8, 8, 0)},
		{"saturday moves to monday", at(6, 10, 0), at(8, 8, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := scheduler.NextFixedRun(tt.now, times, w)
			if err != nil {
				t.Fatalf("NextFixedRun: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextFixedRun(%s) = %s, want %s", tt.now, got, tt.want)
			}
		})
	}
}

func TestNextFixedRun_IgnoresWindowHours(t *testing.T) {
	w := weekdayWindow(t)

	got, err := scheduler.NextFixedRun(at(1, 12, 0), []string{"22:30"}, w)
	if err != nil {
		t.Fatalf("NextFixedRun: %v", err)
	}
	if want := at(1, 22, 30); !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestNextFixedRun_AlwaysInFuture(t *testing.T) {
	w := weekdayWindow(t)
	times := []string{"07:15", "12:00", "17:45"}

	start := at(1, 0, 0)
	for i := 0; i < 7*24*4; i++ {
		now := start.Add(time.Duration(i) * 15 * time.Minute)
		got, err := scheduler.NextFixedRun(now, times, w)
		if err != nil {
			t.Fatalf("NextFixedRun: %v", err)
		}
		if !got.After(now) {
			t.Fatalf("NextFixedRun(%s) = %s, not in the future", now, got)
		}
	}
}

func TestNextFixedRun_EmptyWeekdaysFallsBackToNextDay(t *testing.T) {
	w, err := window.New(nil, 7, 18)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}

	got, err := scheduler.NextFixedRun(at(6, 20, 0), []string{"08:00"}, w)
	if err != nil {
		t.Fatalf("NextFixedRun: %v", err)
	}
	if want := at(7, 8, 0); !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestNextFixedRun_InvalidTime(t *testing.T) {
	w := weekdayWindow(t)

	_, err := scheduler.NextFixedRun(at(1, 9, 0), []string{"25:00"}, w)
	if !errors.Is(err, domain.ErrInvalidFixedTime) {
		t.Fatalf("expected ErrInvalidFixedTime, got %v", err)
	}

	_, err = scheduler.NextFixedRun(at(1, 9, 0), nil, w)
	if !errors.Is(err, domain.ErrInvalidFixedTime) {
		t.Fatalf("expected ErrInvalidFixedTime for empty list, got %v", err)
	}
}
