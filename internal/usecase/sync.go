package usecase

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/repository"
	"github.com/ErlanBelekov/table-sync/internal/table"
	"github.com/ErlanBelekov/table-sync/internal/writer"
)

// Writer is satisfied by *writer.Writer.
type Writer interface {
	Write(ctx context.Context, req writer.Request, batches iter.Seq2[table.Batch, error]) (int, error)
}

type SyncUsecase struct {
	connector repository.Connector
	params    domain.ConnectionParams
	writer    Writer
	outputDir string
	logger    *slog.Logger
}

func NewSyncUsecase(
	connector repository.Connector,
	params domain.ConnectionParams,
	w Writer,
	outputDir string,
	logger *slog.Logger,
) *SyncUsecase {
	return &SyncUsecase{
		connector: connector,
		params:    params,
		writer:    w,
		outputDir: outputDir,
		logger:    logger.With("component", "sync"),
	}
}

// Result describes one finished task run. Skipped is set when the query
// returned no rows and the output file was left alone.
type Result struct {
	Path     string
	Rows     int
	Skipped  bool
	Duration time.Duration
}

// Path is the output file of cfg.
func (u *SyncUsecase) Path(cfg domain.TaskConfig) string {
	return filepath.Join(u.outputDir, cfg.FileName())
}

// RunTask extracts cfg.Query in chunks, reindexes and coerces each chunk and
// writes the result atomically. An empty first chunk ends the run without
// touching the output file.
func (u *SyncUsecase) RunTask(ctx context.Context, cfg domain.TaskConfig) (Result, error) {
	start := time.Now()
	res := Result{Path: u.Path(cfg)}

	src, err := u.connector.Connect(ctx, u.params)
	if err != nil {
		return res, fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := src.Close(ctx); err != nil {
			u.logger.WarnContext(ctx, "close source", "task", cfg.Name, "error", err)
		}
	}()

	next, stop := iter.Pull2(src.Chunks(ctx, cfg.Query, cfg.EffectiveChunkSize()))
	defer stop()

	first, err, ok := next()
	if err != nil {
		return res, fmt.Errorf("query: %w", err)
	}
	if !ok || first.Len() == 0 {
		res.Skipped = true
		res.Duration = time.Since(start)
		u.logger.InfoContext(ctx, "query returned no rows, output left unchanged", "task", cfg.Name)
		return res, nil
	}

	batches := func(yield func(table.Batch, error) bool) {
		b := first
		for {
			if !yield(prepare(b, cfg), nil) {
				return
			}
			var err error
			b, err, ok = next()
			if !ok {
				return
			}
			if err != nil {
				yield(table.Batch{}, fmt.Errorf("query: %w", err))
				return
			}
		}
	}

	rows, err := u.writer.Write(ctx, writer.Request{
		Path:   res.Path,
		Format: cfg.EffectiveFormat(),
		Target: cfg.EffectiveTargetName(),
		Kinds:  cfg.TypeRules,
	}, batches)
	res.Rows = rows
	res.Duration = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("write %s: %w", res.Path, err)
	}
	return res, nil
}

// Ping opens a connection with the configured credentials and checks it.
func (u *SyncUsecase) Ping(ctx context.Context) error {
	src, err := u.connector.Connect(ctx, u.params)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = src.Close(ctx) }()

	if err := src.Ping(ctx); err != nil {
		return fmt.Errorf("ping source: %w", err)
	}
	return nil
}

func prepare(b table.Batch, cfg domain.TaskConfig) table.Batch {
	return table.Transform(b.Select(cfg.Columns), cfg.TypeRules)
}
