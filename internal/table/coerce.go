package table

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/ErlanBelekov/table-sync/internal/domain"
)

// TimeLayout is how time values are rendered as text.
const TimeLayout = "2006-01-02 15:04:05"

// Transform applies rules to a copy of b. Columns without a rule, column
// order and row order are left as they are. Transform never fails: values
// that cannot be coerced become null.
func Transform(b Batch, rules map[string]domain.CoercionKind) Batch {
	if len(rules) == 0 || b.Len() == 0 {
		return b
	}

	coercers := make([]func(any) any, len(b.Columns))
	active := false
	for i, c := range b.Columns {
		if kind, ok := rules[c]; ok {
			coercers[i] = Coercer(kind)
			active = active || coercers[i] != nil
		}
	}
	if !active {
		return b
	}

	rows := make([][]any, len(b.Rows))
	for r, row := range b.Rows {
		out := make([]any, len(row))
		copy(out, row)
		for i, fn := range coercers {
			if fn != nil && i < len(out) {
				out[i] = fn(out[i])
			}
		}
		rows[r] = out
	}
	return Batch{Columns: b.Columns, Rows: rows}
}

// Coercer returns the cell conversion for kind, or nil for an unknown kind.
func Coercer(kind domain.CoercionKind) func(any) any {
	switch kind {
	case domain.KindText:
		return ToText
	case domain.KindNumeric:
		return ToNumeric
	case domain.KindInteger:
		return ToInteger
	case domain.KindDate:
		return ToDate
	default:
		return nil
	}
}

// unwrap resolves driver values (pgtype.Numeric and friends) to plain Go values.
func unwrap(v any) any {
	if valuer, ok := v.(driver.Valuer); ok {
		inner, err := valuer.Value()
		if err != nil {
			return nil
		}
		return inner
	}
	return v
}

// ToText renders a non-null value as a string.
func ToText(v any) any {
	switch x := unwrap(v).(type) {
	case nil:
		return nil
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(TimeLayout)
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

// ToNumeric converts to float64.
func ToNumeric(v any) any {
	f, ok := toFloat(unwrap(v))
	if !ok {
		return nil
	}
	return f
}

// ToInteger converts to int64. Non-integral and out of range values are null
// rather than an error, so one bad cell costs that cell and not the run.
func ToInteger(v any) any {
	switch x := unwrap(v).(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return nil
		}
		return int64(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil
		}
		return int64(x)
	default:
		f, ok := toFloat(x)
		if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil
		}
		return int64(f)
	}
}

// ToDate converts to time.Time. Strings are parsed in UTC.
func ToDate(v any) any {
	switch x := unwrap(v).(type) {
	case time.Time:
		return x
	case string:
		return parseDate(x)
	case []byte:
		return parseDate(string(x))
	default:
		return nil
	}
}

func parseDate(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil
	}
	return t
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case string:
		return parseFloat(x)
	case []byte:
		return parseFloat(string(x))
	case time.Time:
		return 0, false
	default:
		return parseFloat(fmt.Sprint(x))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
