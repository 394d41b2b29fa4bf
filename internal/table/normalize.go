package table

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Normalize turns a value as returned by a database driver into one of the
// plain cell types the writers know about: nil, string, bool, integers,
// floats and time.Time. Byte slices are treated as text.
func Normalize(v any) any {
	switch x := unwrap(v).(type) {
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Duration:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return x
	}
}

// NormalizeRow normalizes row in place and returns it.
func NormalizeRow(row []any) []any {
	for i, v := range row {
		row[i] = Normalize(v)
	}
	return row
}
