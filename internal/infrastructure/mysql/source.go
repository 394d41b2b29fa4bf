// Package mysql reads task queries from a MySQL or MariaDB server.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/repository"
	"github.com/ErlanBelekov/table-sync/internal/table"
)

const defaultPort = "3306"

type Connector struct {
	connectTimeout time.Duration
	logger         *slog.Logger
}

func NewConnector(connectTimeout time.Duration, logger *slog.Logger) *Connector {
	return &Connector{connectTimeout: connectTimeout, logger: logger.With("component", "mysql_source")}
}

func (c *Connector) Connect(ctx context.Context, p domain.ConnectionParams) (repository.ChunkSource, error) {
	connector, err := mysql.NewConnector(Config(p, c.connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect %s: %w", p.Host, err)
	}

	c.logger.DebugContext(ctx, "connected", "host", p.Host, "database", p.Database)
	return NewSource(db, c.logger), nil
}

// Config maps connection params onto a driver config. Times are parsed into
// time.Time in UTC.
func Config(p domain.ConnectionParams, connectTimeout time.Duration) *mysql.Config {
	port := p.Port
	if port == "" {
		port = defaultPort
	}

	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, port)
	cfg.DBName = p.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = connectTimeout
	return cfg
}

type Source struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSource(db *sql.DB, logger *slog.Logger) *Source {
	return &Source{db: db, logger: logger}
}

func (s *Source) Chunks(ctx context.Context, query string, size int) iter.Seq2[table.Batch, error] {
	return func(yield func(table.Batch, error) bool) {
		if size <= 0 {
			size = 1
		}

		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			yield(table.Batch{}, fmt.Errorf("query: %w", err))
			return
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			yield(table.Batch{}, fmt.Errorf("read columns: %w", err))
			return
		}
		decoders := make([]func([]byte) any, len(columns))
		if types, err := rows.ColumnTypes(); err == nil {
			for i, ct := range types {
				decoders[i] = decoderFor(ct.DatabaseTypeName())
			}
		}

		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}

		batch := table.Batch{Columns: columns, Rows: make([][]any, 0, min(size, 1024))}
		sent := 0
		for rows.Next() {
			if err := rows.Scan(dest...); err != nil {
				yield(table.Batch{}, fmt.Errorf("scan row %d: %w", sent+batch.Len(), err))
				return
			}
			batch.Rows = append(batch.Rows, decodeRow(values, decoders))

			if batch.Len() >= size {
				if !yield(batch, nil) {
					return
				}
				sent += batch.Len()
				batch = table.Batch{Columns: columns, Rows: make([][]any, 0, min(size, 1024))}
			}
		}
		if err := rows.Err(); err != nil {
			yield(table.Batch{}, fmt.Errorf("read rows: %w", err))
			return
		}

		if batch.Len() > 0 || sent == 0 {
			yield(batch, nil)
		}
	}
}

func (s *Source) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}

func (s *Source) Close(_ context.Context) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

func decodeRow(values []any, decoders []func([]byte) any) []any {
	row := make([]any, len(values))
	for i, v := range values {
		if b, ok := v.([]byte); ok && decoders[i] != nil {
			row[i] = decoders[i](b)
			continue
		}
		row[i] = table.Normalize(v)
	}
	return row
}

// decoderFor returns a decoder for text-protocol values of integer and float
// columns. DECIMAL stays text so exact values survive until a numeric rule
// converts them. Other columns are normalized as text.
func decoderFor(typeName string) func([]byte) any {
	switch strings.ToUpper(typeName) {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "BIGINT", "YEAR":
		return func(b []byte) any {
			if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
				return n
			}
			return string(b)
		}
	case "UNSIGNED TINYINT", "UNSIGNED SMALLINT", "UNSIGNED MEDIUMINT", "UNSIGNED INT", "UNSIGNED BIGINT":
		return func(b []byte) any {
			if n, err := strconv.ParseUint(string(b), 10, 64); err == nil {
				return n
			}
			return string(b)
		}
	case "FLOAT", "DOUBLE":
		return func(b []byte) any {
			if f, err := strconv.ParseFloat(string(b), 64); err == nil {
				return f
			}
			return string(b)
		}
	default:
		return nil
	}
}
