package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ErlanBelekov/table-sync/internal/table"
)

// Conn is the part of *pgx.Conn the source needs.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type Source struct {
	conn   Conn
	logger *slog.Logger
}

func NewSource(conn Conn, logger *slog.Logger) *Source {
	return &Source{conn: conn, logger: logger}
}

func (s *Source) Chunks(ctx context.Context, query string, size int) iter.Seq2[table.Batch, error] {
	return func(yield func(table.Batch, error) bool) {
		if size <= 0 {
			size = 1
		}

		rows, err := s.conn.Query(ctx, query)
		if err != nil {
			yield(table.Batch{}, wrapQueryErr(err))
			return
		}
		defer rows.Close()

		var columns []string
		fields := func() []string {
			if columns == nil {
				columns = columnNames(rows.FieldDescriptions())
			}
			return columns
		}

		batch := table.Batch{Rows: make([][]any, 0, min(size, 1024))}
		sent := 0
		for rows.Next() {
			values, err := rows.Values()
			if err != nil {
				yield(table.Batch{}, fmt.Errorf("read row %d: %w", sent+batch.Len(), err))
				return
			}
			batch.Rows = append(batch.Rows, table.NormalizeRow(values))

			if batch.Len() >= size {
				batch.Columns = fields()
				if !yield(batch, nil) {
					return
				}
				sent += batch.Len()
				batch = table.Batch{Rows: make([][]any, 0, min(size, 1024))}
			}
		}
		if err := rows.Err(); err != nil {
			yield(table.Batch{}, wrapQueryErr(err))
			return
		}

		if batch.Len() > 0 || sent == 0 {
			batch.Columns = fields()
			yield(batch, nil)
		}
	}
}

func (s *Source) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

func (s *Source) Close(ctx context.Context) error {
	if err := s.conn.Close(ctx); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

func columnNames(fds []pgconn.FieldDescription) []string {
	names := make([]string, len(fds))
	for i, fd := range fds {
		names[i] = fd.Name
	}
	return names
}

func wrapQueryErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("query (sqlstate %s): %w", pgErr.Code, err)
	}
	return fmt.Errorf("query: %w", err)
}
