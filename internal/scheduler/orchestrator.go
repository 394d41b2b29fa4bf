package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/metrics"
	"github.com/ErlanBelekov/table-sync/internal/repository"
	"github.com/ErlanBelekov/table-sync/internal/runid"
	"github.com/ErlanBelekov/table-sync/internal/usecase"
	"github.com/ErlanBelekov/table-sync/internal/window"
)

const (
	DefaultRecheckInterval = time.Hour

	tickInterval  = time.Second
	idleWait      = 5 * time.Second
	errorPause    = 10 * time.Second
	minWindowWait = time.Second
)

var errNotRunning = errors.New("orchestrator loop is not running")

// Runner is satisfied by *usecase.SyncUsecase.
type Runner interface {
	RunTask(ctx context.Context, cfg domain.TaskConfig) (usecase.Result, error)
}

// Notifier is satisfied by *notify.Notifier.
type Notifier interface {
	TaskFailed(ctx context.Context, task domain.ScheduledTask, cause error) (sent bool, err error)
}

// Report is the outcome of one task run.
type Report struct {
	Task   domain.ScheduledTask
	Result usecase.Result
	Err    error
}

// Orchestrator drives the scheduler: it reloads the task file, waits for the
// execution window and runs due tasks one after another.
type Orchestrator struct {
	sched    *Scheduler
	loader   repository.TaskConfigLoader
	runner   Runner
	notifier Notifier
	window   window.Window
	loc      *time.Location
	logger   *slog.Logger

	recheck time.Duration

	// guard covers one loop iteration or one on-demand run.
	guard     sync.Mutex
	lastCheck time.Time

	reloadRequested atomic.Bool
	wake            chan struct{}
	running         atomic.Bool
	lastTick        atomic.Int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewOrchestrator(
	sched *Scheduler,
	loader repository.TaskConfigLoader,
	runner Runner,
	notifier Notifier,
	w window.Window,
	loc *time.Location,
	recheck time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	if loc == nil {
		loc = time.Local
	}
	if recheck <= 0 {
		recheck = DefaultRecheckInterval
	}
	o := &Orchestrator{
		sched:    sched,
		loader:   loader,
		runner:   runner,
		notifier: notifier,
		window:   w,
		loc:      loc,
		logger:   logger.With("component", "orchestrator"),
		recheck:  recheck,
		wake:     make(chan struct{}, 1),
	}
	o.now = func() time.Time { return time.Now().In(o.loc) }
	o.sleep = o.wait
	return o
}

// Run loops until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	o.running.Store(true)
	defer o.running.Store(false)

	o.logger.InfoContext(ctx, "orchestrator started",
		"recheck", o.recheck,
		"error_retry", o.sched.ErrorRetry(),
		"timezone", o.loc.String(),
	)

	for ctx.Err() == nil {
		o.sleep(ctx, o.iterate(ctx))
	}
	o.logger.Info("orchestrator shut down")
}

// iterate runs one pass of the loop and returns how long to wait before the
// next one. Panics and bookkeeping errors are logged and answered with a
// longer pause.
func (o *Orchestrator) iterate(ctx context.Context) (wait time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			metrics.LoopErrorsTotal.Inc()
			o.logger.ErrorContext(ctx, "orchestrator iteration panicked", "panic", r, "stack", string(debug.Stack()))
			wait = errorPause
		}
	}()

	wait, err := o.step(ctx)
	if err != nil {
		metrics.LoopErrorsTotal.Inc()
		o.logger.ErrorContext(ctx, "orchestrator iteration", "error", err)
		return errorPause
	}
	return wait
}

func (o *Orchestrator) step(ctx context.Context) (time.Duration, error) {
	if !o.guard.TryLock() {
		return tickInterval, nil
	}
	defer o.guard.Unlock()

	now := o.now()
	o.lastTick.Store(now.UnixNano())
	metrics.LoopLastTick.Set(float64(now.Unix()))

	if o.reloadRequested.Swap(false) || o.lastCheck.IsZero() || now.Sub(o.lastCheck) >= o.recheck {
		o.reload(ctx, now)
		o.lastCheck = now
	}

	if o.sched.Len() == 0 {
		return idleWait, nil
	}

	if !o.window.Contains(now) {
		metrics.WindowOpen.Set(0)
		start := o.window.NextStart(now)
		o.logger.InfoContext(ctx, "outside execution window", "opens_at", start)
		return max(start.Sub(now), minWindowWait), nil
	}
	metrics.WindowOpen.Set(1)

	for _, task := range o.sched.Due(now) {
		if ctx.Err() != nil {
			break
		}
		if _, err := o.run(ctx, task.Config); err != nil {
			return 0, err
		}
	}

	if next, ok := o.sched.Next(); ok {
		o.logger.DebugContext(ctx, "next task in queue", "task", next.Config.Name, "at", next.NextRunAt)
	}
	return tickInterval, nil
}

// reload keeps the current task set when the file is missing or invalid.
func (o *Orchestrator) reload(ctx context.Context, now time.Time) {
	cfgs, err := o.loader.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNoTaskConfig):
		metrics.ConfigReloadsTotal.WithLabelValues("missing").Inc()
		o.logger.WarnContext(ctx, "no task configuration found, keeping current tasks", "tasks", o.sched.Len())
		return
	case err != nil:
		metrics.ConfigReloadsTotal.WithLabelValues("error").Inc()
		o.logger.ErrorContext(ctx, "load task configuration, keeping current tasks", "error", err)
		return
	}

	changed, err := o.sched.Reload(cfgs, now)
	if err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues("error").Inc()
		o.logger.ErrorContext(ctx, "apply task configuration, keeping current tasks", "error", err)
		return
	}
	if !changed {
		metrics.ConfigReloadsTotal.WithLabelValues("unchanged").Inc()
		o.logger.DebugContext(ctx, "task configuration unchanged")
		return
	}

	metrics.ConfigReloadsTotal.WithLabelValues("changed").Inc()
	tasks := o.sched.Tasks()
	metrics.ActiveTasks.Set(float64(len(tasks)))
	metrics.TaskNextRun.Reset()
	metrics.TaskConsecutiveFailures.Reset()
	for _, t := range tasks {
		metrics.TaskNextRun.WithLabelValues(t.Config.Name).Set(float64(t.NextRunAt.Unix()))
	}
	o.logger.InfoContext(ctx, "task configuration loaded", "tasks", len(tasks))
}

// run executes one task and reschedules it. The returned error is a
// scheduler error; the outcome of the task itself is in Report.Err.
func (o *Orchestrator) run(ctx context.Context, cfg domain.TaskConfig) (Report, error) {
	ctx = runid.WithRunID(ctx, runid.New())
	o.logger.InfoContext(ctx, "running task", "task", cfg.Name, "format", cfg.EffectiveFormat())

	res, runErr := o.runner.RunTask(ctx, cfg)
	now := o.now()
	metrics.TaskRunDuration.WithLabelValues(cfg.Name).Observe(res.Duration.Seconds())

	if runErr != nil {
		task, err := o.sched.OnFailure(cfg.Name, now, runErr)
		if err != nil {
			return Report{}, fmt.Errorf("reschedule failed task %s: %w", cfg.Name, err)
		}
		metrics.TaskRunsTotal.WithLabelValues(cfg.Name, "failure").Inc()
		metrics.TaskConsecutiveFailures.WithLabelValues(cfg.Name).Set(float64(task.ConsecutiveFailures))
		metrics.TaskNextRun.WithLabelValues(cfg.Name).Set(float64(task.NextRunAt.Unix()))
		o.logger.ErrorContext(ctx, "task failed",
			"task", cfg.Name,
			"error", runErr,
			"failures", task.ConsecutiveFailures,
			"retry_at", task.NextRunAt,
		)
		o.notify(ctx, task, runErr)
		return Report{Task: task, Result: res, Err: runErr}, nil
	}

	task, err := o.sched.OnSuccess(cfg.Name, now, res.Rows)
	if err != nil {
		return Report{}, fmt.Errorf("reschedule task %s: %w", cfg.Name, err)
	}

	outcome := "success"
	if res.Skipped {
		outcome = "skipped"
	} else {
		metrics.RowsWrittenTotal.WithLabelValues(cfg.Name, string(cfg.EffectiveFormat())).Add(float64(res.Rows))
	}
	metrics.TaskRunsTotal.WithLabelValues(cfg.Name, outcome).Inc()
	metrics.TaskConsecutiveFailures.WithLabelValues(cfg.Name).Set(0)
	metrics.TaskNextRun.WithLabelValues(cfg.Name).Set(float64(task.NextRunAt.Unix()))
	o.logger.InfoContext(ctx, "task completed",
		"task", cfg.Name,
		"outcome", outcome,
		"rows", res.Rows,
		"path", res.Path,
		"duration", res.Duration,
		"next_run", task.NextRunAt,
	)
	return Report{Task: task, Result: res}, nil
}

func (o *Orchestrator) notify(ctx context.Context, task domain.ScheduledTask, cause error) {
	if o.notifier == nil {
		return
	}
	sent, err := o.notifier.TaskFailed(ctx, task, cause)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		o.logger.WarnContext(ctx, "send failure notification", "task", task.Config.Name, "error", err)
		return
	}
	if sent {
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}
}

// RunNow runs the named task immediately, outside the execution window. It
// returns domain.ErrBusy when the loop or another run holds the guard. A
// failed run is rescheduled like any other and its error is returned.
// Cancelling ctx does not stop a run once it has started.
func (o *Orchestrator) RunNow(ctx context.Context, name string) (Report, error) {
	ctx = context.WithoutCancel(ctx)
	if !o.guard.TryLock() {
		return Report{}, domain.ErrBusy
	}
	defer o.guard.Unlock()

	task, ok := o.sched.Task(name)
	if !ok {
		return Report{}, fmt.Errorf("run %q: %w", name, domain.ErrTaskNotFound)
	}

	rep, err := o.run(ctx, task.Config)
	if err != nil {
		return rep, err
	}
	if rep.Err != nil {
		return rep, fmt.Errorf("run %q: %w", name, rep.Err)
	}
	return rep, nil
}

// RequestReload makes the next iteration re-read the task file and wakes the
// loop if it is sleeping.
func (o *Orchestrator) RequestReload() {
	o.reloadRequested.Store(true)
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// LastTick is the start of the last loop iteration, or the zero time.
func (o *Orchestrator) LastTick() time.Time {
	ns := o.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).In(o.loc)
}

// Ping reports whether the loop is running.
func (o *Orchestrator) Ping(_ context.Context) error {
	if !o.running.Load() {
		return errNotRunning
	}
	return nil
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-o.wake:
	}
}
