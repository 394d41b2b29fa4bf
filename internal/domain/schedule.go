package domain

import (
	"time"
)

// ScheduledTask is a task from the active set together with its scheduling state.
type ScheduledTask struct {
	Config    TaskConfig
	NextRunAt time.Time

	LastRunAt           *time.Time
	LastError           string
	LastRows            int
	ConsecutiveFailures int
}

// Due reports whether the task may run at now.
func (t *ScheduledTask) Due(now time.Time) bool {
	return !t.NextRunAt.After(now)
}

// ConnectionParams are the remote database coordinates supplied by the
// credential store. They are read once at startup.
type ConnectionParams struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
}

func (p ConnectionParams) Complete() bool {
	return p.Host != "" && p.Port != "" && p.User != "" && p.Password != ""
}
