package writer

import (
	"context"
	"fmt"
	"iter"
	"os"
	"strconv"
	"strings"
	"time"

	parquetwriter "github.com/xitongsys/parquet-go/writer"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/table"
)

type parquetType int

const (
	parquetUTF8 parquetType = iota
	parquetDouble
	parquetInt64
	parquetBool
	parquetTimestamp
)

func (t parquetType) metadata(name string) string {
	var typ string
	switch t {
	case parquetDouble:
		typ = "type=DOUBLE"
	case parquetInt64:
		typ = "type=INT64"
	case parquetBool:
		typ = "type=BOOLEAN"
	case parquetTimestamp:
		typ = "type=INT64, convertedtype=TIMESTAMP_MILLIS"
	default:
		typ = "type=BYTE_ARRAY, convertedtype=UTF8"
	}
	return "name=" + name + ", " + typ + ", repetitiontype=OPTIONAL"
}

func (t parquetType) convert(v any) any {
	if v == nil {
		return nil
	}
	switch t {
	case parquetDouble:
		return table.ToNumeric(v)
	case parquetInt64:
		return table.ToInteger(v)
	case parquetBool:
		b, ok := v.(bool)
		if !ok {
			return nil
		}
		return b
	case parquetTimestamp:
		ts, ok := table.ToDate(v).(time.Time)
		if !ok {
			return nil
		}
		return ts.UnixMilli()
	default:
		return formatCell(v)
	}
}

type parquetEncoder struct{}

// encode materializes every batch before writing the table in one pass.
func (parquetEncoder) encode(ctx context.Context, tmp *os.File, req Request, _ bool, batches iter.Seq2[table.Batch, error]) (int, error) {
	var all []table.Batch
	for b, err := range batches {
		if err != nil {
			return 0, err
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		all = append(all, b)
	}

	t, err := table.Concat(all...)
	if err != nil {
		return 0, err
	}
	if len(t.Columns) == 0 {
		return 0, fmt.Errorf("parquet: result has no columns")
	}

	types := columnTypes(t, req.Kinds)
	names := columnLabels(t.Columns)
	md := make([]string, len(t.Columns))
	for i := range t.Columns {
		md[i] = types[i].metadata(names[i])
	}

	pw, err := parquetwriter.NewCSVWriterFromWriter(md, tmp, 1)
	if err != nil {
		return 0, fmt.Errorf("parquet writer: %w", err)
	}

	rows := 0
	rec := make([]any, len(t.Columns))
	for _, row := range t.Rows {
		for i := range rec {
			rec[i] = nil
			if i < len(row) {
				rec[i] = types[i].convert(row[i])
			}
		}
		if err := pw.Write(rec); err != nil {
			return rows, fmt.Errorf("write row %d: %w", rows, err)
		}
		rows++
		if rows%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return rows, err
			}
		}
	}

	if err := pw.WriteStop(); err != nil {
		return rows, fmt.Errorf("finish parquet: %w", err)
	}
	return rows, nil
}

// columnTypes picks the physical type per column: the coercion kind when one
// is declared, otherwise whatever all non-null values agree on. Columns with
// mixed values are written as text.
func columnTypes(t table.Batch, kinds map[string]domain.CoercionKind) []parquetType {
	types := make([]parquetType, len(t.Columns))
	for i, c := range t.Columns {
		switch kinds[c] {
		case domain.KindText:
			types[i] = parquetUTF8
		case domain.KindNumeric:
			types[i] = parquetDouble
		case domain.KindInteger:
			types[i] = parquetInt64
		case domain.KindDate:
			types[i] = parquetTimestamp
		default:
			types[i] = inferType(t.Rows, i)
		}
	}
	return types
}

func inferType(rows [][]any, col int) parquetType {
	var ints, floats, bools, times, other int
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		switch row[col].(type) {
		case nil:
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			ints++
		case float32, float64:
			floats++
		case bool:
			bools++
		case time.Time:
			times++
		default:
			other++
		}
	}

	switch {
	case other > 0:
		return parquetUTF8
	case ints > 0 && bools+times == 0 && floats == 0:
		return parquetInt64
	case ints+floats > 0 && bools+times == 0:
		return parquetDouble
	case bools > 0 && ints+floats+times == 0:
		return parquetBool
	case times > 0 && ints+floats+bools == 0:
		return parquetTimestamp
	default:
		return parquetUTF8
	}
}

// columnLabels makes column names safe for the schema metadata syntax and
// unique.
func columnLabels(columns []string) []string {
	replacer := strings.NewReplacer(",", "_", "=", "_", "\t", "_")
	out := make([]string, len(columns))
	for i, c := range columns {
		name := strings.TrimSpace(replacer.Replace(c))
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		out[i] = name
	}
	return uniqueNames(out)
}
