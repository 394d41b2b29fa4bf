package repository

import (
	"context"
	"iter"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/table"
)

// ChunkSource runs queries against the remote database.
type ChunkSource interface {
	// Chunks yields the query result in ordered batches of at most size rows.
	// The first batch is always yielded, possibly empty, so callers can see the
	// column names. A query or connection error is yielded once and ends the
	// sequence.
	Chunks(ctx context.Context, query string, size int) iter.Seq2[table.Batch, error]
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Connector opens a ChunkSource for one task run.
type Connector interface {
	Connect(ctx context.Context, params domain.ConnectionParams) (ChunkSource, error)
}
