// Package jobs owns routines, jobs and their step runs: the store that
// persists them, the runner that executes them, and the tools that let
// the agent manage them.
package jobs

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by the store.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// transitions lists every legal status change. Anything else is
// rejected by the store.
var transitions = map[Status][]Status{
	StatusQueued:  {StatusRunning, StatusCanceled},
	StatusRunning: {StatusSucceeded, StatusFailed},
}

// CanTransition reports whether from→to is a legal change.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// TriggerType records what started a routine or job.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerEvent    TriggerType = "event"
	TriggerTool     TriggerType = "tool_call"
)

// Valid reports whether t may be stored on a routine.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerManual, TriggerSchedule, TriggerEvent:
		return true
	}
	return false
}

// Routine is a reusable task template, planned fresh on every run.
type Routine struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Goal        string      `json:"goal"`
	TriggerType TriggerType `json:"triggerType"`
	Tools       []string    `json:"tools"` // empty means all tools
	Enabled     bool        `json:"enabled"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// Job is one execution of a routine or a single direct tool call.
type Job struct {
	ID          string         `json:"id"`
	RoutineID   string         `json:"routineId,omitempty"`
	ToolName    string         `json:"toolName,omitempty"`
	ToolInput   map[string]any `json:"toolInput,omitempty"`
	TriggerType TriggerType    `json:"triggerType"`
	Status      Status         `json:"status"`
	Input       map[string]any `json:"input"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	UserID      string         `json:"userId"`
	CreatedAt   time.Time      `json:"createdAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// StepRun records one tool invocation inside a job.
type StepRun struct {
	ID           string         `json:"id"`
	JobID        string         `json:"jobId"`
	ToolName     string         `json:"toolName"`
	Input        map[string]any `json:"input"`
	Output       any            `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	ArtifactPath string         `json:"artifactPath,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	JobID    string
	From, To Status
}

func (e *TransitionError) Error() string {
	if e.To == StatusCanceled {
		return fmt.Sprintf("cannot cancel job in status %q: only queued jobs can be canceled", e.From)
	}
	return fmt.Sprintf("job %s: cannot move from %q to %q", e.JobID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
