// Package writer turns a stream of batches into one output file. Every format
// is written to a temporary file next to the target and renamed over it only
// after the whole stream was encoded, so readers see either the old file or
// the complete new one.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/table"
)

const defaultFileMode fs.FileMode = 0o644

// Request describes one write.
type Request struct {
	Path   string
	Format domain.Format
	// Target is the sheet or table name for formats that have one.
	Target string
	// Kinds are the coercion kinds of the task, used for display formats and
	// column types.
	Kinds map[string]domain.CoercionKind
}

func (r Request) target() string {
	if r.Target == "" {
		return domain.DefaultTargetName
	}
	return r.Target
}

// encoder writes every batch into tmp. existing reports whether req.Path
// already holds a file that may be used as a starting point.
type encoder interface {
	encode(ctx context.Context, tmp *os.File, req Request, existing bool, batches iter.Seq2[table.Batch, error]) (int, error)
}

type Writer struct {
	logger   *slog.Logger
	encoders map[domain.Format]encoder
}

func New(logger *slog.Logger) *Writer {
	return &Writer{
		logger: logger.With("component", "writer"),
		encoders: map[domain.Format]encoder{
			domain.FormatCSV:     csvEncoder{},
			domain.FormatXLSX:    xlsxEncoder{},
			domain.FormatParquet: parquetEncoder{},
			domain.FormatDB:      sqliteEncoder{},
		},
	}
}

// Write encodes batches into req.Path and returns the number of rows written.
// On error the file at req.Path is left exactly as it was and no temporary
// file remains.
func (w *Writer) Write(ctx context.Context, req Request, batches iter.Seq2[table.Batch, error]) (rows int, err error) {
	enc, ok := w.encoders[req.Format]
	if !ok {
		return 0, fmt.Errorf("write %s: %w: %q", req.Path, domain.ErrUnsupportedFormat, req.Format)
	}

	start := time.Now()
	dir := filepath.Dir(req.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	mode := defaultFileMode
	existing := false
	if fi, err := os.Stat(req.Path); err == nil {
		if !fi.Mode().IsRegular() {
			return 0, fmt.Errorf("write %s: target is not a regular file", req.Path)
		}
		mode = fi.Mode().Perm()
		existing = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("stat target: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPattern(req.Path))
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tmp.Close()
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			w.logger.WarnContext(ctx, "remove temp file", "path", tmpPath, "error", rmErr)
		}
		w.logger.ErrorContext(ctx, "write failed, target untouched",
			"path", req.Path,
			"format", req.Format,
			"rows_staged", rows,
			"error", err,
		)
	}()

	rows, err = enc.encode(ctx, tmp, req, existing, batches)
	if err != nil {
		return rows, fmt.Errorf("encode %s: %w", req.Format, err)
	}
	if err = ctx.Err(); err != nil {
		return rows, err
	}

	if err = tmp.Sync(); err != nil {
		return rows, fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return rows, fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmpPath, mode); err != nil {
		return rows, fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpPath, req.Path); err != nil {
		return rows, fmt.Errorf("replace target: %w", err)
	}
	committed = true
	syncDir(dir)

	w.logger.InfoContext(ctx, "file written",
		"path", req.Path,
		"format", req.Format,
		"rows", rows,
		"duration", time.Since(start),
	)
	return rows, nil
}

// syncDir flushes the rename to disk. Not every platform allows syncing a
// directory, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// copyInto seeds tmp with the content of the file at path.
func copyInto(tmp *os.File, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open existing target: %w", err)
	}
	defer src.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		return fmt.Errorf("copy existing target: %w", err)
	}
	return nil
}

// schemaGuard checks that every batch shares the first batch's columns.
type schemaGuard struct {
	columns []string
	seen    bool
}

func (g *schemaGuard) check(b table.Batch) error {
	if !g.seen {
		g.columns, g.seen = b.Columns, true
		return nil
	}
	if !b.SameSchema(table.Batch{Columns: g.columns}) {
		return domain.ErrSchemaMismatch
	}
	return nil
}

// uniqueNames suffixes repeated names with _2, _3 and so on until each name
// is unused. Names are compared case-insensitively.
func uniqueNames(names []string) []string {
	used := make(map[string]struct{}, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		candidate := name
		for n := 2; ; n++ {
			if _, taken := used[strings.ToLower(candidate)]; !taken {
				break
			}
			candidate = name + "_" + strconv.Itoa(n)
		}
		used[strings.ToLower(candidate)] = struct{}{}
		out[i] = candidate
	}
	return out
}
