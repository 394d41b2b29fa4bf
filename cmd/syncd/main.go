package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ErlanBelekov/table-sync/config"
	"github.com/ErlanBelekov/table-sync/internal/health"
	"github.com/ErlanBelekov/table-sync/internal/infrastructure/filestore"
	"github.com/ErlanBelekov/table-sync/internal/infrastructure/mysql"
	"github.com/ErlanBelekov/table-sync/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/table-sync/internal/log"
	"github.com/ErlanBelekov/table-sync/internal/metrics"
	"github.com/ErlanBelekov/table-sync/internal/notify"
	"github.com/ErlanBelekov/table-sync/internal/repository"
	"github.com/ErlanBelekov/table-sync/internal/scheduler"
	httptransport "github.com/ErlanBelekov/table-sync/internal/transport/http"
	"github.com/ErlanBelekov/table-sync/internal/transport/http/handler"
	"github.com/ErlanBelekov/table-sync/internal/usecase"
	"github.com/ErlanBelekov/table-sync/internal/window"
	"github.com/ErlanBelekov/table-sync/internal/writer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	w, err := window.New(cfg.WindowDays, cfg.WindowStartHour, cfg.WindowEndHour)
	if err != nil {
		log.Fatalf("window: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Credentials are read once; rotating them requires a restart.
	params, err := filestore.NewCredentialFile(cfg.CredentialsFile, cfg.SecretKeyFile, logger).Get(ctx)
	if err != nil {
		stop()
		log.Fatalf("credentials: %v", err)
	}

	var connector repository.Connector
	switch cfg.SourceDriver {
	case "mysql":
		connector = mysql.NewConnector(cfg.ConnectTimeout(), logger)
	default:
		connector = postgres.NewConnector(cfg.ConnectTimeout(), logger)
	}

	// no write is in flight before the loop starts
	if _, err := writer.NewReaper(cfg.OutputDir, time.Minute, logger).Reap(ctx); err != nil {
		logger.Warn("reap temp files", "error", err)
	}

	syncUsecase := usecase.NewSyncUsecase(connector, params, writer.New(logger), cfg.OutputDir, logger)

	sender := notify.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	notifier := notify.NewNotifier(sender, cfg.NotifyTo, logger)

	sched := scheduler.New(w, cfg.ErrorRetry())
	orchestrator := scheduler.NewOrchestrator(
		sched,
		filestore.NewTaskFile(cfg.TasksFile, logger),
		syncUsecase,
		notifier,
		w,
		loc,
		cfg.ConfigRecheck(),
		logger,
	)

	metrics.Register()
	checker := health.NewChecker(map[string]health.Pinger{
		cfg.SourceDriver: syncUsecase,
		"loop":           orchestrator,
	}, cfg.ConnectTimeout(), logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           httptransport.NewRouter(logger, handler.NewTaskHandler(sched, orchestrator, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	logger.Info("syncd started",
		"tasks_file", cfg.TasksFile,
		"output_dir", cfg.OutputDir,
		"source", cfg.SourceDriver,
		"window_days", cfg.WindowDays,
		"window_hours", []int{cfg.WindowStartHour, cfg.WindowEndHour},
	)

	// blocks until SIGINT/SIGTERM
	orchestrator.Run(ctx)
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("syncd shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
