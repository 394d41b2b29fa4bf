package writer_test

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xuri/excelize/v2"
	_ "modernc.org/sqlite"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/table"
	"github.com/ErlanBelekov/table-sync/internal/writer"
)

var errSource = errors.New("source went away")

func seq(batches ...table.Batch) iter.Seq2[table.Batch, error] {
	return func(yield func(table.Batch, error) bool) {
		for _, b := range batches {
			if !yield(b, nil) {
				return
			}
		}
	}
}

// failAfter yields batches and then an error.
func failAfter(batches ...table.Batch) iter.Seq2[table.Batch, error] {
	return func(yield func(table.Batch, error) bool) {
		for _, b := range batches {
			if !yield(b, nil) {
				return
			}
		}
		yield(table.Batch{}, errSource)
	}
}

func people(rows ...[]any) table.Batch {
	return table.Batch{Columns: []string{"id", "name", "joined"}, Rows: rows}
}

func newWriter() *writer.Writer {
	return writer.New(slog.Default())
}

// dirEntries lists the names in dir, so tests can check that no temp file
// was left behind.
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestWrite_CSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "people.csv")
	joined := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	rows, err := newWriter().Write(context.Background(), writer.Request{Path: path, Format: domain.FormatCSV},
		seq(
			people([]any{int64(1), "Ada, Countess", joined}, []any{int64(2), nil, nil}),
			people([]any{int64(3), "Grace", joined.Add(90 * time.Minute)}),
		))
	require.NoError(t, err)
	assert.Equal(t, 3, rows)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "id,name,joined\n"+
		"1,\"Ada, Countess\",2024-03-01\n"+
		"2,,\n"+
		"3,Grace,2024-03-01 01:30:00\n", string(data))
	assert.Equal(t, []string{"people.csv"}, dirEntries(t, dir))
}

func TestWrite_FailureLeavesTargetUntouched(t *testing.T) {
	for _, format := range []domain.Format{domain.FormatCSV, domain.FormatXLSX, domain.FormatParquet, domain.FormatDB} {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "out"+format.Extension())
			req := writer.Request{Path: path, Format: format}

			_, err := newWriter().Write(context.Background(), req, seq(people([]any{int64(1), "old", nil})))
			require.NoError(t, err)
			before, err := os.ReadFile(path)
			require.NoError(t, err)

			rows, err := newWriter().Write(context.Background(), req,
				failAfter(people([]any{int64(2), "new", nil})))
			require.ErrorIs(t, err, errSource)
			assert.LessOrEqual(t, rows, 1)

			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Equal(t, []string{"out" + format.Extension()}, dirEntries(t, dir))
		})
	}
}

func TestWrite_NoPriorFileAndFailureCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")

	_, err := newWriter().Write(context.Background(), writer.Request{Path: path, Format: domain.FormatCSV},
		failAfter(people([]any{int64(1), "a", nil})))
	require.Error(t, err)
	assert.Empty(t, dirEntries(t, dir))
}

func TestWrite_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newWriter().Write(ctx, writer.Request{Path: path, Format: domain.FormatCSV},
		seq(people([]any{int64(1), "a", nil})))
	require.ErrorIs(t, err, context.Canceled)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "old", string(data))
}

func TestWrite_SchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")

	_, err := newWriter().Write(context.Background(), writer.Request{Path: path, Format: domain.FormatCSV},
		seq(people([]any{int64(1), "a", nil}), table.Batch{Columns: []string{"other"}, Rows: [][]any{{1}}}))
	require.ErrorIs(t, err, domain.ErrSchemaMismatch)
	assert.NoFileExists(t, path)
}

func TestWrite_UnsupportedFormat(t *testing.T) {
	_, err := newWriter().Write(context.Background(), writer.Request{Path: filepath.Join(t.TempDir(), "x.json"), Format: "json"},
		seq(people()))
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestWrite_PreservesFileMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))
	require.NoError(t, os.Chmod(path, 0o600))

	_, err := newWriter().Write(context.Background(), writer.Request{Path: path, Format: domain.FormatCSV},
		seq(people([]any{int64(1), "a", nil})))
	require.NoError(t, err)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestWrite_XLSXFreshWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.xlsx")
	kinds := map[string]domain.CoercionKind{"name": domain.KindText, "joined": domain.KindDate}

	rows, err := newWriter().Write(context.Background(),
		writer.Request{Path: path, Format: domain.FormatXLSX, Target: "people", Kinds: kinds},
		seq(
			people([]any{int64(1), "007", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}),
			people([]any{int64(2), "Grace", nil}),
		))
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"people"}, f.GetSheetList())
	got, err := f.GetRows("people")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"id", "name", "joined"}, got[0])
	assert.Equal(t, "007", got[1][1])
	assert.Equal(t, "2024-03-01", got[1][2])

	styleID, err := f.GetCellStyle("people", "B2")
	require.NoError(t, err)
	style, err := f.GetStyle(styleID)
	require.NoError(t, err)
	assert.Equal(t, 49, style.NumFmt, "text columns use the @ format")
}

func TestWrite_XLSXReplacesOnlyTargetSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.xlsx")

	seed := excelize.NewFile()
	require.NoError(t, seed.SetSheetName("Sheet1", "notes"))
	require.NoError(t, seed.SetCellValue("notes", "A1", "keep me"))
	_, err := seed.NewSheet("data")
	require.NoError(t, err)
	require.NoError(t, seed.SetCellValue("data", "A1", "stale"))
	require.NoError(t, seed.SetCellValue("data", "A9", "stale row"))
	require.NoError(t, seed.SaveAs(path))
	require.NoError(t, seed.Close())

	_, err = newWriter().Write(context.Background(),
		writer.Request{Path: path, Format: domain.FormatXLSX, Target: "data"},
		seq(people([]any{int64(1), "Ada", nil})))
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.ElementsMatch(t, []string{"notes", "data"}, f.GetSheetList())
	note, err := f.GetCellValue("notes", "A1")
	require.NoError(t, err)
	assert.Equal(t, "keep me", note)

	got, err := f.GetRows("data")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "name", "joined"}, {"1", "Ada"}}, got)
}

func TestWrite_SQLitePreservesOtherTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")

	seed, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = seed.Exec(`CREATE TABLE keep (v TEXT); INSERT INTO keep VALUES ('x');
		CREATE TABLE data (old INTEGER); INSERT INTO data VALUES (1);`)
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	rows, err := newWriter().Write(context.Background(),
		writer.Request{Path: path, Format: domain.FormatDB, Target: "data"},
		seq(
			people([]any{int64(1), "Ada", nil}),
			people([]any{int64(2), "Grace", nil}, []any{int64(3), "Linus", nil}),
		))
	require.NoError(t, err)
	assert.Equal(t, 3, rows)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var keep string
	require.NoError(t, db.QueryRow("SELECT v FROM keep").Scan(&keep))
	assert.Equal(t, "x", keep)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM data").Scan(&count))
	assert.Equal(t, 3, count)

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM data WHERE id = 3").Scan(&name))
	assert.Equal(t, "Linus", name)
}

func TestWrite_ParquetWholeTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.parquet")
	kinds := map[string]domain.CoercionKind{"joined": domain.KindDate}

	rows, err := newWriter().Write(context.Background(),
		writer.Request{Path: path, Format: domain.FormatParquet, Kinds: kinds},
		seq(
			people([]any{int64(1), "Ada", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}),
			people([]any{int64(2), nil, nil}, []any{int64(3), "Linus", nil}),
		))
	require.NoError(t, err)
	assert.Equal(t, 3, rows)

	pf, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer pf.Close()

	pr, err := reader.NewParquetReader(pf, nil, 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	assert.Equal(t, int64(3), pr.GetNumRows())

	var names, types []string
	for i, el := range pr.SchemaHandler.SchemaElements[1:] {
		names = append(names, pr.SchemaHandler.Infos[i+1].ExName)
		types = append(types, el.GetType().String())
	}
	assert.Equal(t, []string{"id", "name", "joined"}, names)
	assert.Equal(t, []string{"INT64", "BYTE_ARRAY", "INT64"}, types)
}

func TestWrite_SQLiteRenamesDuplicateColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "join.db")
	joined := table.Batch{
		Columns: []string{"id", "ID", "name"},
		Rows:    [][]any{{int64(1), int64(10), "Ada"}},
	}

	rows, err := newWriter().Write(context.Background(),
		writer.Request{Path: path, Format: domain.FormatDB, Target: "data"}, seq(joined))
	require.NoError(t, err)
	assert.Equal(t, 1, rows)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var id, other int64
	require.NoError(t, db.QueryRow("SELECT id, ID_2 FROM data").Scan(&id, &other))
	assert.Equal(t, int64(1), id)
	assert.Equal(t, int64(10), other)
}

func TestWrite_ParquetUniqueColumnNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.parquet")
	b := table.Batch{
		Columns: []string{"a", "a_2", "a"},
		Rows:    [][]any{{"x", "y", "z"}},
	}

	_, err := newWriter().Write(context.Background(),
		writer.Request{Path: path, Format: domain.FormatParquet}, seq(b))
	require.NoError(t, err)

	pf, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer pf.Close()

	pr, err := reader.NewParquetReader(pf, nil, 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	var names []string
	for _, info := range pr.SchemaHandler.Infos[1:] {
		names = append(names, info.ExName)
	}
	assert.Equal(t, []string{"a", "a_2", "a_3"}, names)
}
