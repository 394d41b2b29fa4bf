package writer

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"iter"
	"os"
	"strconv"
	"time"

	"github.com/ErlanBelekov/table-sync/internal/table"
)

type csvEncoder struct{}

func (csvEncoder) encode(ctx context.Context, tmp *os.File, _ Request, _ bool, batches iter.Seq2[table.Batch, error]) (int, error) {
	buf := bufio.NewWriterSize(tmp, 64*1024)
	cw := csv.NewWriter(buf)

	var guard schemaGuard
	header := false
	rows := 0
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
		if !header {
			if err := cw.Write(b.Columns); err != nil {
				return rows, fmt.Errorf("write header: %w", err)
			}
			header = true
		}

		record := make([]string, len(b.Columns))
		for _, row := range b.Rows {
			for i := range record {
				record[i] = ""
				if i < len(row) {
					record[i] = formatCell(row[i])
				}
			}
			if err := cw.Write(record); err != nil {
				return rows, fmt.Errorf("write row %d: %w", rows, err)
			}
			rows++
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}
	return rows, nil
}

// formatCell renders a cell for text formats. Null is the empty string.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return formatTime(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// formatTime drops the clock when it is exactly midnight.
func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(time.DateOnly)
	}
	return t.Format(table.TimeLayout)
}
