package domain

import (
	"errors"
	"time"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrNoTaskConfig      = errors.New("no task configuration found")
	ErrDuplicateTask     = errors.New("duplicate task name")
	ErrInvalidTaskConfig = errors.New("invalid task configuration")
	ErrInvalidFixedTime  = errors.New("invalid fixed time, expected HH:MM")
	ErrInvalidCronExpr   = errors.New("invalid cron expression")
	ErrUnsupportedFormat = errors.New("unsupported target format")
	ErrSchemaMismatch    = errors.New("batch schema does not match previous batches")
	ErrBusy              = errors.New("another run is in progress")
)

const (
	DefaultChunkSize  = 10000
	DefaultInterval   = 300 // seconds
	DefaultTargetName = "data"
	DefaultFormat     = FormatXLSX
)

type Format string

const (
	FormatXLSX    Format = "xlsx"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatDB      Format = "db"
)

// Extension is the file extension used for output files of this format.
func (f Format) Extension() string {
	return "." + string(f)
}

type CoercionKind string

const (
	KindText    CoercionKind = "text"
	KindNumeric CoercionKind = "numeric"
	KindInteger CoercionKind = "integer"
	KindDate    CoercionKind = "date"
)

// TaskConfig is one entry of the task file. Values are kept exactly as loaded
// so that reloads can compare them; defaults are applied by the accessors.
type TaskConfig struct {
	Name       string                  `json:"name"                  validate:"required,max=200,excludesall=/\\"`
	Query      string                  `json:"query"                 validate:"required"`
	Columns    []string                `json:"columns,omitempty"     validate:"omitempty,dive,required"`
	TypeRules  map[string]CoercionKind `json:"type_rules,omitempty"  validate:"omitempty,dive,keys,required,endkeys,oneof=text numeric integer date"`
	ChunkSize  int                     `json:"chunk_size,omitempty"  validate:"omitempty,min=1"`
	FixedTimes []string                `json:"fixed_times,omitempty" validate:"omitempty,dive,hhmm"`
	Cron       string                  `json:"cron,omitempty"        validate:"omitempty,cronspec"`
	Interval   int                     `json:"interval,omitempty"    validate:"omitempty,min=1"`
	Format     Format                  `json:"format,omitempty"      validate:"omitempty,oneof=xlsx csv parquet db"`
	TargetName string                  `json:"target_name,omitempty"`
}

func (c TaskConfig) EffectiveChunkSize() int {
	if c.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return c.ChunkSize
}

func (c TaskConfig) EffectiveInterval() time.Duration {
	if c.Interval <= 0 {
		return DefaultInterval * time.Second
	}
	return time.Duration(c.Interval) * time.Second
}

func (c TaskConfig) EffectiveFormat() Format {
	if c.Format == "" {
		return DefaultFormat
	}
	return c.Format
}

func (c TaskConfig) EffectiveTargetName() string {
	if c.TargetName == "" {
		return DefaultTargetName
	}
	return c.TargetName
}

// FileName is the output file name derived from the task identity.
func (c TaskConfig) FileName() string {
	return c.Name + c.EffectiveFormat().Extension()
}

func (c TaskConfig) HasFixedTimes() bool {
	return len(c.FixedTimes) > 0
}
