package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/scheduler"
)

// taskStore is the read side of *scheduler.Scheduler.
type taskStore interface {
	Tasks() []domain.ScheduledTask
	Task(name string) (domain.ScheduledTask, bool)
}

// taskRunner is the subset of *scheduler.Orchestrator the handler needs.
type taskRunner interface {
	RunNow(ctx context.Context, name string) (scheduler.Report, error)
	RequestReload()
	LastTick() time.Time
}

type TaskHandler struct {
	store  taskStore
	runner taskRunner
	logger *slog.Logger
}

func NewTaskHandler(store taskStore, runner taskRunner, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		store:  store,
		runner: runner,
		logger: logger.With("component", "task_handler"),
	}
}

type taskResponse struct {
	Name                string        `json:"name"`
	Format              domain.Format `json:"format"`
	TargetName          string        `json:"target_name"`
	FixedTimes          []string      `json:"fixed_times,omitempty"`
	Cron                string        `json:"cron,omitempty"`
	IntervalSeconds     int           `json:"interval_seconds,omitempty"`
	NextRunAt           time.Time     `json:"next_run_at"`
	LastRunAt           *time.Time    `json:"last_run_at,omitempty"`
	LastRows            int           `json:"last_rows"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
}

func toTaskResponse(t domain.ScheduledTask) taskResponse {
	resp := taskResponse{
		Name:                t.Config.Name,
		Format:              t.Config.EffectiveFormat(),
		TargetName:          t.Config.EffectiveTargetName(),
		FixedTimes:          t.Config.FixedTimes,
		Cron:                t.Config.Cron,
		NextRunAt:           t.NextRunAt,
		LastRunAt:           t.LastRunAt,
		LastRows:            t.LastRows,
		LastError:           t.LastError,
		ConsecutiveFailures: t.ConsecutiveFailures,
	}
	if !t.Config.HasFixedTimes() && t.Config.Cron == "" {
		resp.IntervalSeconds = int(t.Config.EffectiveInterval().Seconds())
	}
	return resp
}

type listTasksResponse struct {
	Tasks    []taskResponse `json:"tasks"`
	LastTick *time.Time     `json:"last_tick,omitempty"`
}

type runResponse struct {
	Task       taskResponse `json:"task"`
	Status     string       `json:"status"`
	Rows       int          `json:"rows"`
	Path       string       `json:"path"`
	DurationMS int64        `json:"duration_ms"`
	Error      string       `json:"error,omitempty"`
}

// GET /tasks
func (h *TaskHandler) List(c *gin.Context) {
	tasks := h.store.Tasks()
	resp := listTasksResponse{Tasks: make([]taskResponse, len(tasks))}
	for i, t := range tasks {
		resp.Tasks[i] = toTaskResponse(t)
	}
	if tick := h.runner.LastTick(); !tick.IsZero() {
		resp.LastTick = &tick
	}
	c.JSON(http.StatusOK, resp)
}

// GET /tasks/:name
func (h *TaskHandler) Get(c *gin.Context) {
	t, ok := h.store.Task(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(t))
}

// POST /tasks/:name/run
// Runs the task now, regardless of its schedule and the execution window.
// A failed run is reported with 500 and the task's updated status.
func (h *TaskHandler) Run(c *gin.Context) {
	name := c.Param("name")

	rep, err := h.runner.RunNow(c.Request.Context(), name)
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": errTaskNotFound})
		return
	case errors.Is(err, domain.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": errBusy})
		return
	case err != nil && rep.Err == nil:
		h.logger.ErrorContext(c.Request.Context(), "run task", "task", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	resp := runResponse{
		Task:       toTaskResponse(rep.Task),
		Status:     "success",
		Rows:       rep.Result.Rows,
		Path:       rep.Result.Path,
		DurationMS: rep.Result.Duration.Milliseconds(),
	}
	if rep.Result.Skipped {
		resp.Status = "skipped"
	}
	if rep.Err != nil {
		resp.Status = "failure"
		resp.Error = rep.Err.Error()
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// POST /reload
// The task file is re-read by the next loop iteration.
func (h *TaskHandler) Reload(c *gin.Context) {
	h.runner.RequestReload()
	c.JSON(http.StatusAccepted, gin.H{"status": "reload requested"})
}
