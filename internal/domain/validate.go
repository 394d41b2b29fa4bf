package domain

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func taskValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
			_, err := ParseClock(fl.Field().String())
			return err == nil
		})
		_ = validate.RegisterValidation("cronspec", func(fl validator.FieldLevel) bool {
			_, err := cron.ParseStandard(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// ParseClock parses an "HH:MM" string into the offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFixedTime, s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ValidateTaskConfigs checks every config and rejects duplicate names.
func ValidateTaskConfigs(cfgs []TaskConfig) error {
	v := taskValidator()
	seen := make(map[string]struct{}, len(cfgs))
	for i, c := range cfgs {
		if err := v.Struct(c); err != nil {
			return fmt.Errorf("%w: task #%d (%q): %v", ErrInvalidTaskConfig, i, c.Name, err)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateTask, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}
