// Package table holds the in-memory tabular batch passed between the source,
// the transformer and the writers.
package table

import (
	"fmt"
	"slices"

	"github.com/ErlanBelekov/table-sync/internal/domain"
)

// Batch is one bounded slice of query results. Every row has exactly
// len(Columns) cells; a nil cell is a null.
type Batch struct {
	Columns []string
	Rows    [][]any
}

func (b Batch) Len() int {
	return len(b.Rows)
}

// ColumnIndex returns the position of name, or -1.
func (b Batch) ColumnIndex(name string) int {
	return slices.Index(b.Columns, name)
}

// Select reindexes the batch to columns: missing columns are filled with
// nulls and columns not listed are dropped.
func (b Batch) Select(columns []string) Batch {
	if len(columns) == 0 || slices.Equal(columns, b.Columns) {
		return b
	}

	src := make([]int, len(columns))
	for i, c := range columns {
		src[i] = b.ColumnIndex(c)
	}

	rows := make([][]any, len(b.Rows))
	for r, row := range b.Rows {
		out := make([]any, len(columns))
		for i, j := range src {
			if j >= 0 && j < len(row) {
				out[i] = row[j]
			}
		}
		rows[r] = out
	}
	return Batch{Columns: slices.Clone(columns), Rows: rows}
}

// SameSchema reports whether both batches have identical column lists.
func (b Batch) SameSchema(other Batch) bool {
	return slices.Equal(b.Columns, other.Columns)
}

// Concat joins batches into one. All batches must share one schema.
func Concat(batches ...Batch) (Batch, error) {
	if len(batches) == 0 {
		return Batch{}, nil
	}

	total := 0
	for _, b := range batches {
		total += b.Len()
	}

	out := Batch{Columns: slices.Clone(batches[0].Columns), Rows: make([][]any, 0, total)}
	for i, b := range batches {
		if !b.SameSchema(out) {
			return Batch{}, fmt.Errorf("concat batch %d: %w", i, domain.ErrSchemaMismatch)
		}
		out.Rows = append(out.Rows, b.Rows...)
	}
	return out, nil
}
