package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status of a task. Transitions are monotonic:
// pending -> running -> completed|failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TaskType selects the scan profile a task was submitted with.
type TaskType string

const (
	TaskTypeQuick  TaskType = "quick"
	TaskTypeFull   TaskType = "full"
	TaskTypeCustom TaskType = "custom"
)

var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidateTransition returns ErrInvalidTransition unless to is a legal
// successor of from. Terminal states absorb: whichever transition lands
// first wins, the loser of a double-completion race is rejected here.
func ValidateTransition(from, to Status) error {
	if IsTerminal(from) {
		return fmt.Errorf("%w: %q is terminal", ErrInvalidTransition, from)
	}
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	if !allowed[to] {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}

// Task is one unit of requested scan work, tracked from submission to
// its terminal outcome. Exactly one of Result/Error is populated once
// the task reaches completed/failed; neither before.
type Task struct {
	ID         string      `json:"id"`
	Type       TaskType    `json:"type"`
	Target     string      `json:"target"`
	Command    []string    `json:"command"`
	Status     Status      `json:"status"`
	Result     *ScanResult `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Duration returns the elapsed execution time, zero until finished.
func (t Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// MarshalJSON adds the computed duration field once the task finished.
func (t Task) MarshalJSON() ([]byte, error) {
	type plain Task
	out := struct {
		plain
		Duration string `json:"duration,omitempty"`
	}{plain: plain(t)}
	if d := t.Duration(); d > 0 {
		out.Duration = d.String()
	}
	return json.Marshal(out)
}
