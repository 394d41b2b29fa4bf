package writer

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"math"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/table"
)

type sqliteEncoder struct{}

// encode copies the existing database into tmp and rebuilds the target table
// inside the copy. Other tables are carried over untouched.
func (sqliteEncoder) encode(ctx context.Context, tmp *os.File, req Request, existing bool, batches iter.Seq2[table.Batch, error]) (int, error) {
	if existing {
		if err := copyInto(tmp, req.Path); err != nil {
			return 0, err
		}
		if err := tmp.Sync(); err != nil {
			return 0, fmt.Errorf("sync copy: %w", err)
		}
	}

	db, err := sql.Open("sqlite", tmp.Name())
	if err != nil {
		return 0, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	// keep the journal out of the output directory
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=MEMORY"); err != nil {
		return 0, fmt.Errorf("set journal mode: %w", err)
	}

	target := quoteIdent(req.target())
	var (
		guard  schemaGuard
		insert string
		rows   int
	)
	for b, err := range batches {
		if err != nil {
			return rows, err
		}
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		if err := guard.check(b); err != nil {
			return rows, fmt.Errorf("batch after row %d: %w", rows, err)
		}
		if len(b.Columns) == 0 {
			return rows, fmt.Errorf("sqlite: result has no columns")
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return rows, fmt.Errorf("begin tx: %w", err)
		}

		if insert == "" {
			if err := createTable(ctx, tx, target, b, req.Kinds); err != nil {
				_ = tx.Rollback()
				return rows, err
			}
			insert = insertStatement(target, len(b.Columns))
		}

		n, err := insertRows(ctx, tx, insert, b)
		if err != nil {
			_ = tx.Rollback()
			return rows, fmt.Errorf("insert after row %d: %w", rows, err)
		}
		if err := tx.Commit(); err != nil {
			return rows, fmt.Errorf("commit batch: %w", err)
		}
		rows += n
	}

	if err := db.Close(); err != nil {
		return rows, fmt.Errorf("close sqlite: %w", err)
	}
	return rows, nil
}

func createTable(ctx context.Context, tx *sql.Tx, target string, b table.Batch, kinds map[string]domain.CoercionKind) error {
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+target); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}

	names := uniqueNames(b.Columns)
	defs := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		defs[i] = quoteIdent(names[i]) + " " + sqliteType(kinds[c], b.Rows, i)
	}
	if _, err := tx.ExecContext(ctx, "CREATE TABLE "+target+" ("+strings.Join(defs, ", ")+")"); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func insertStatement(target string, n int) string {
	return "INSERT INTO " + target + " VALUES (" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func insertRows(ctx context.Context, tx *sql.Tx, query string, b table.Batch) (int, error) {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	args := make([]any, len(b.Columns))
	for r, row := range b.Rows {
		for i := range args {
			args[i] = nil
			if i < len(row) {
				args[i] = sqliteValue(row[i])
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return r, err
		}
	}
	return b.Len(), nil
}

// sqliteType picks the declared column type from the coercion kind, or from
// the first non-null value in the batch.
func sqliteType(kind domain.CoercionKind, rows [][]any, col int) string {
	switch kind {
	case domain.KindText:
		return "TEXT"
	case domain.KindNumeric:
		return "REAL"
	case domain.KindInteger:
		return "INTEGER"
	case domain.KindDate:
		return "TIMESTAMP"
	}

	for _, row := range rows {
		if col >= len(row) || row[col] == nil {
			continue
		}
		switch row[col].(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, bool:
			return "INTEGER"
		case float32, float64:
			return "REAL"
		case time.Time:
			return "TIMESTAMP"
		default:
			return "TEXT"
		}
	}
	return "TEXT"
}

func sqliteValue(v any) any {
	switch x := v.(type) {
	case uint64:
		if x > math.MaxInt64 {
			return formatCell(x)
		}
		return int64(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return formatCell(x)
		}
		return int64(x)
	case nil, string, []byte, bool, time.Time,
		int, int8, int16, int32, int64, uint8, uint16, uint32,
		float32, float64:
		return x
	default:
		return formatCell(x)
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
