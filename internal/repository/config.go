package repository

import (
	"context"

	"github.com/ErlanBelekov/table-sync/internal/domain"
)

// TaskConfigLoader returns the current task list. A missing list is reported
// as domain.ErrNoTaskConfig.
type TaskConfigLoader interface {
	Load(ctx context.Context) ([]domain.TaskConfig, error)
}

type CredentialStore interface {
	Get(ctx context.Context) (domain.ConnectionParams, error)
}
