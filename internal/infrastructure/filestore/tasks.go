// Package filestore reads the task list and the connection credentials from
// local files.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/ErlanBelekov/table-sync/internal/domain"
)

// TaskFile loads the task list from a JSON array on disk. It is re-read on
// every call.
type TaskFile struct {
	path   string
	logger *slog.Logger
}

func NewTaskFile(path string, logger *slog.Logger) *TaskFile {
	return &TaskFile{path: path, logger: logger.With("component", "task_file")}
}

func (f *TaskFile) Path() string {
	return f.path
}

func (f *TaskFile) Load(ctx context.Context) ([]domain.TaskConfig, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", f.path, domain.ErrNoTaskConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("load %s: empty file: %w", f.path, domain.ErrNoTaskConfig)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfgs []domain.TaskConfig
	if err := dec.Decode(&cfgs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if cfgs == nil {
		return nil, fmt.Errorf("load %s: %w", f.path, domain.ErrNoTaskConfig)
	}

	if err := domain.ValidateTaskConfigs(cfgs); err != nil {
		return nil, fmt.Errorf("validate %s: %w", f.path, err)
	}

	f.logger.DebugContext(ctx, "task file loaded", "path", f.path, "tasks", len(cfgs))
	return cfgs, nil
}
