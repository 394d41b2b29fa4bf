package writer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ErlanBelekov/table-sync/internal/domain"
)

const tempSuffix = ".tmp"

func tempPattern(target string) string {
	return "." + filepath.Base(target) + ".*" + tempSuffix
}

// isTempName reports whether name looks like a temp file created by Write,
// e.g. ".orders.xlsx.123456.tmp".
func isTempName(name string) bool {
	if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, tempSuffix) {
		return false
	}
	base := strings.TrimSuffix(name[1:], tempSuffix)
	i := strings.LastIndexByte(base, '.')
	if i <= 0 || i == len(base)-1 {
		return false
	}
	switch domain.Format(strings.TrimPrefix(filepath.Ext(base[:i]), ".")) {
	case domain.FormatXLSX, domain.FormatCSV, domain.FormatParquet, domain.FormatDB:
		return true
	}
	return false
}

// Reaper removes temp files left in the output directory by a process that
// was killed in the middle of a write.
type Reaper struct {
	dir    string
	minAge time.Duration
	logger *slog.Logger
}

func NewReaper(dir string, minAge time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		dir:    dir,
		minAge: minAge,
		logger: logger.With("component", "reaper"),
	}
}

// Reap deletes stale temp files and returns how many were removed. It must
// not run while a write is in progress in the same directory.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read output dir: %w", err)
	}

	cutoff := time.Now().Add(-r.minAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || !isTempName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.WarnContext(ctx, "remove stale temp file", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		r.logger.InfoContext(ctx, "removed stale temp files", "count", removed, "dir", r.dir)
	}
	return removed, nil
}
