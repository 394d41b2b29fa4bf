package metrics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ErlanBelekov/table-sync/internal/health"
)

var (
	// Task runs

	TaskRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablesync",
		Name:      "task_runs_total",
		Help:      "Total task runs, by outcome (success, skipped, failure).",
	}, []string{"task", "outcome"})

	TaskRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tablesync",
		Name:      "task_run_duration_seconds",
		Help:      "Duration of one extract, transform and write run.",
		Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"task"})

	RowsWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablesync",
		Name:      "rows_written_total",
		Help:      "Total rows written to output files.",
	}, []string{"task", "format"})

	TaskNextRun = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tablesync",
		Name:      "task_next_run_timestamp_seconds",
		Help:      "Unix timestamp of the next scheduled run of a task.",
	}, []string{"task"})

	TaskConsecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tablesync",
		Name:      "task_consecutive_failures",
		Help:      "Number of failed runs since the last successful one.",
	}, []string{"task"})

	// Loop

	ActiveTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablesync",
		Name:      "active_tasks",
		Help:      "Number of tasks in the active set.",
	})

	WindowOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablesync",
		Name:      "window_open",
		Help:      "Whether the execution window is open. 1 = open, 0 = closed.",
	})

	ConfigReloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablesync",
		Name:      "config_reloads_total",
		Help:      "Task file checks, by result (changed, unchanged, missing, error).",
	}, []string{"result"})

	LoopErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tablesync",
		Name:      "loop_errors_total",
		Help:      "Unexpected errors recovered by the orchestrator loop.",
	})

	LoopLastTick = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tablesync",
		Name:      "loop_last_tick_timestamp_seconds",
		Help:      "Unix timestamp of the last orchestrator iteration.",
	})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablesync",
		Name:      "notifications_total",
		Help:      "Failure notifications, by result (sent, error).",
	}, []string{"result"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tablesync",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tablesync",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		TaskRunsTotal,
		TaskRunDuration,
		RowsWrittenTotal,
		TaskNextRun,
		TaskConsecutiveFailures,
		ActiveTasks,
		WindowOpen,
		ConfigReloadsTotal,
		LoopErrorsTotal,
		LoopLastTick,
		NotificationsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// HealthChecker is satisfied by *health.Checker.
type HealthChecker interface {
	Liveness(ctx context.Context) health.HealthResult
	Readiness(ctx context.Context) health.HealthResult
}

// NewServer serves /metrics, /healthz and /readyz on addr.
func NewServer(addr string, checker HealthChecker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, res health.HealthResult) {
	status := http.StatusOK
	if res.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(res)
}
