package scheduler

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/window"
)

// DefaultErrorRetry is how long a failed task waits before its next attempt.
const DefaultErrorRetry = 60 * time.Second

// Scheduler owns the active task set and each task's next run time. The set
// is replaced as a whole whenever the loaded configuration changes.
type Scheduler struct {
	mu         sync.RWMutex
	window     window.Window
	errorRetry time.Duration
	configs    []domain.TaskConfig
	tasks      []*domain.ScheduledTask
}

func New(w window.Window, errorRetry time.Duration) *Scheduler {
	if errorRetry <= 0 {
		errorRetry = DefaultErrorRetry
	}
	return &Scheduler{window: w, errorRetry: errorRetry}
}

func (s *Scheduler) ErrorRetry() time.Duration {
	return s.errorRetry
}

// Reload compares configs with the currently held list, element by element
// and in order. If they are equal nothing changes and false is returned.
// Otherwise every task is rebuilt and scheduled from now. Invalid configs
// are rejected and the current set is kept.
func (s *Scheduler) Reload(configs []domain.TaskConfig, now time.Time) (bool, error) {
	if err := domain.ValidateTaskConfigs(configs); err != nil {
		return false, fmt.Errorf("reload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.EqualFunc(configs, s.configs, func(a, b domain.TaskConfig) bool {
		return reflect.DeepEqual(a, b)
	}) {
		return false, nil
	}

	tasks := make([]*domain.ScheduledTask, 0, len(configs))
	for _, cfg := range configs {
		next, err := s.firstRun(cfg, now)
		if err != nil {
			return false, fmt.Errorf("reload %q: %w", cfg.Name, err)
		}
		tasks = append(tasks, &domain.ScheduledTask{Config: cfg, NextRunAt: next})
	}

	s.configs = slices.Clone(configs)
	s.tasks = tasks
	return true, nil
}

func (s *Scheduler) firstRun(cfg domain.TaskConfig, now time.Time) (time.Time, error) {
	switch {
	case cfg.HasFixedTimes():
		return NextFixedRun(now, cfg.FixedTimes, s.window)
	case cfg.Cron != "":
		return nextCronRun(now, cfg.Cron)
	default:
		return now, nil
	}
}

func (s *Scheduler) nextRun(cfg domain.TaskConfig, now time.Time) (time.Time, error) {
	switch {
	case cfg.HasFixedTimes():
		return NextFixedRun(now, cfg.FixedTimes, s.window)
	case cfg.Cron != "":
		return nextCronRun(now, cfg.Cron)
	default:
		return now.Add(cfg.EffectiveInterval()), nil
	}
}

// OnSuccess records a completed run and schedules the next one.
func (s *Scheduler) OnSuccess(name string, now time.Time, rows int) (domain.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(name)
	if t == nil {
		return domain.ScheduledTask{}, fmt.Errorf("on success %q: %w", name, domain.ErrTaskNotFound)
	}

	next, err := s.nextRun(t.Config, now)
	if err != nil {
		// configs are validated on reload, fall back to the error back-off
		next = now.Add(s.errorRetry)
	}

	ranAt := now
	t.NextRunAt = next
	t.LastRunAt = &ranAt
	t.LastRows = rows
	t.LastError = ""
	t.ConsecutiveFailures = 0
	return *t, nil
}

// OnFailure reschedules the task to now plus the error back-off, whatever its
// normal schedule would be.
func (s *Scheduler) OnFailure(name string, now time.Time, cause error) (domain.ScheduledTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(name)
	if t == nil {
		return domain.ScheduledTask{}, fmt.Errorf("on failure %q: %w", name, domain.ErrTaskNotFound)
	}

	ranAt := now
	t.NextRunAt = now.Add(s.errorRetry)
	t.LastRunAt = &ranAt
	t.LastError = ""
	if cause != nil {
		t.LastError = cause.Error()
	}
	t.ConsecutiveFailures++
	return *t, nil
}

// Due returns the tasks whose next run is at or before now, in the order of
// the task file.
func (s *Scheduler) Due(now time.Time) []domain.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []domain.ScheduledTask
	for _, t := range s.tasks {
		if t.Due(now) {
			due = append(due, *t)
		}
	}
	return due
}

// Tasks returns a snapshot of the active set.
func (s *Scheduler) Tasks() []domain.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}

func (s *Scheduler) Task(name string) (domain.ScheduledTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t := s.find(name); t != nil {
		return *t, true
	}
	return domain.ScheduledTask{}, false
}

func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Next returns the task with the earliest next run.
func (s *Scheduler) Next() (domain.ScheduledTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var next *domain.ScheduledTask
	for _, t := range s.tasks {
		if next == nil || t.NextRunAt.Before(next.NextRunAt) {
			next = t
		}
	}
	if next == nil {
		return domain.ScheduledTask{}, false
	}
	return *next, true
}

// find must be called with mu held.
func (s *Scheduler) find(name string) *domain.ScheduledTask {
	for _, t := range s.tasks {
		if t.Config.Name == name {
			return t
		}
	}
	return nil
}
