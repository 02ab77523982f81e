// Package scheduler arms cron timers for enabled schedules and turns
// each fire into a job. A periodic reconcile pass diffs the stored
// schedules against the armed timers, so schedules can be added,
// edited or removed at any time without a restart.
package scheduler

import (
	"errors"
	"time"
)

// Errors returned by the store and validation.
var (
	ErrNotFound    = errors.New("schedule not found")
	ErrInvalidCron = errors.New("invalid cron expression")
)

// ActionType selects what a schedule does when it fires.
type ActionType string

const (
	ActionRoutine  ActionType = "routine"   // enqueue a routine job
	ActionToolCall ActionType = "tool_call" // enqueue a direct tool job
)

// Schedule is a standing cron-triggered intent to enqueue jobs.
type Schedule struct {
	ID          string         `json:"id"`
	RoutineID   string         `json:"routineId,omitempty"`
	RoutineName string         `json:"routineName,omitempty"`
	ActionType  ActionType     `json:"actionType"`
	ToolName    string         `json:"toolName,omitempty"`
	ToolInput   map[string]any `json:"toolInput,omitempty"`
	CronExpr    string         `json:"cronExpr"`
	Enabled     bool           `json:"enabled"`
	UserID      string         `json:"userId,omitempty"`
	LastRunAt   *time.Time     `json:"lastRunAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
