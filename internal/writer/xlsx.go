package writer

import (
	"context"
	"fmt"
	"iter"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/ErlanBelekov/table-sync/internal/domain"
	"github.com/ErlanBelekov/table-sync/internal/table"
)

const (
	stagingSheet = "_table_sync_staging"

	numFmtText     = 49 // @
	numFmtInteger  = 1  // 0
	layoutDate     = "yyyy-mm-dd"
	layoutDateTime = "yyyy-mm-dd hh:mm:ss"
)

type xlsxEncoder struct{}

// encode writes the batches into the target sheet. An existing workbook is
// loaded and keeps its other sheets; the target sheet is rebuilt in a staging
// sheet and swapped in once all rows are written.
func (xlsxEncoder) encode(ctx context.Context, tmp *os.File, req Request, existing bool, batches iter.Seq2[table.Batch, error]) (int, error) {
	var (
		f   *excelize.File
		err error
	)
	if existing {
		f, err = excelize.OpenFile(req.Path)
		if err != nil {
			return 0, fmt.Errorf("open workbook: %w", err)
		}
	} else {
		f = excelize.NewFile()
	}
	defer f.Close()

	target := req.target()
	sheet, replace, err := prepareSheet(f, target, existing)
	if err != nil {
		return 0, err
	}

	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return 0, fmt.Errorf("stream writer: %w", err)
	}
	styles, err := newSheetStyles(f)
	if err != nil {
		return 0, err
	}

	rows, err := streamSheet(ctx, sw, styles, req.Kinds, batches)
	if err != nil {
		return rows, err
	}
	if err := sw.Flush(); err != nil {
		return rows, fmt.Errorf("flush sheet: %w", err)
	}

	if replace {
		if err := f.DeleteSheet(target); err != nil {
			return rows, fmt.Errorf("delete sheet %q: %w", target, err)
		}
		if err := f.SetSheetName(stagingSheet, target); err != nil {
			return rows, fmt.Errorf("rename staging sheet: %w", err)
		}
	}
	if idx, err := f.GetSheetIndex(target); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}

	if err := f.Write(tmp); err != nil {
		return rows, fmt.Errorf("write workbook: %w", err)
	}
	return rows, nil
}

// prepareSheet returns the sheet to stream into and whether it must replace
// target afterwards.
func prepareSheet(f *excelize.File, target string, existing bool) (string, bool, error) {
	if !existing {
		if err := f.SetSheetName(f.GetSheetName(0), target); err != nil {
			return "", false, fmt.Errorf("name sheet %q: %w", target, err)
		}
		return target, false, nil
	}

	idx, err := f.GetSheetIndex(target)
	if err != nil {
		return "", false, fmt.Errorf("sheet %q: %w", target, err)
	}
	sheet := target
	if idx >= 0 {
		sheet = stagingSheet
		if err := f.DeleteSheet(stagingSheet); err != nil {
			return "", false, fmt.Errorf("clear staging sheet: %w", err)
		}
	}
	if _, err := f.NewSheet(sheet); err != nil {
		return "", false, fmt.Errorf("new sheet %q: %w", sheet, err)
	}
	return sheet, idx >= 0, nil
}

type sheetStyles struct {
	text, integer, date, dateTime int
}

func newSheetStyles(f *excelize.File) (sheetStyles, error) {
	var s sheetStyles
	var err error
	if s.text, err = f.NewStyle(&excelize.Style{NumFmt: numFmtText}); err != nil {
		return s, fmt.Errorf("text style: %w", err)
	}
	if s.integer, err = f.NewStyle(&excelize.Style{NumFmt: numFmtInteger}); err != nil {
		return s, fmt.Errorf("integer style: %w", err)
	}
	date := layoutDate
	if s.date, err = f.NewStyle(&excelize.Style{CustomNumFmt: &date}); err != nil {
		return s, fmt.Errorf("date style: %w", err)
	}
	dateTime := layoutDateTime
	if s.dateTime, err = f.NewStyle(&excelize.Style{CustomNumFmt: &dateTime}); err != nil {
		return s, fmt.Errorf("datetime style: %w", err)
	}
	return s, nil
}

func (s sheetStyles) forKind(kind domain.CoercionKind) int {
	switch kind {
	case domain.KindText:
		return s.text
	case domain.KindInteger:
		return s.integer
	case domain.KindDate:
		return s.date
	default:
		return 0
	}
}

func streamSheet(ctx context.Context, sw *excelize.StreamWriter, styles sheetStyles, kinds map[string]domain.CoercionKind, batches iter.Seq2[table.Batch, error]) (int, error) {
	var (
		guard     schemaGuard
		colStyles []int
		rows      int
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

		if colStyles == nil {
			colStyles = make([]int, len(b.Columns))
			header := make([]any, len(b.Columns))
			for i, c := range b.Columns {
				colStyles[i] = styles.forKind(kinds[c])
				header[i] = c
			}
			if err := sw.SetRow("A1", header); err != nil {
				return rows, fmt.Errorf("write header: %w", err)
			}
		}

		for _, row := range b.Rows {
			cells := make([]any, len(colStyles))
			for i := range cells {
				if i >= len(row) || row[i] == nil {
					continue
				}
				cells[i] = styledCell(row[i], colStyles[i], styles)
			}

			ref, err := excelize.CoordinatesToCellName(1, rows+2)
			if err != nil {
				return rows, err
			}
			if err := sw.SetRow(ref, cells); err != nil {
				return rows, fmt.Errorf("write row %d: %w", rows, err)
			}
			rows++
		}
	}
	return rows, nil
}

func styledCell(v any, style int, styles sheetStyles) any {
	if _, ok := v.(time.Time); ok && style == 0 {
		style = styles.dateTime
	}
	if style == 0 {
		return v
	}
	return excelize.Cell{StyleID: style, Value: v}
}
