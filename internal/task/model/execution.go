package model

import (
	"strings"
	"time"
)

// Trigger tells how an execution was started.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Outcome of one execution attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// Execution is one execution attempt of a task target.
type Execution struct {
	ID           string        `json:"id"`
	TaskID       int64         `json:"task_id"`
	TaskName     string        `json:"task_name"`
	TaskGroup    string        `json:"task_group"`
	InvokeTarget string        `json:"invoke_target"`
	Trigger      Trigger       `json:"trigger"`
	Outcome      Outcome       `json:"outcome"`
	Success      bool          `json:"success"`
	Message      string        `json:"message,omitempty"`
	ErrorInfo    string        `json:"error_info,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// ExecutionFilter narrows FindExecutions. Empty fields match everything.
type ExecutionFilter struct {
	TaskName  string // substring
	TaskGroup string
	Outcome   Outcome
	Since     time.Time
	Until     time.Time
}

func (f ExecutionFilter) Match(e *Execution) bool {
	if f.TaskName != "" && !strings.Contains(e.TaskName, f.TaskName) {
		return false
	}
	if f.TaskGroup != "" && e.TaskGroup != f.TaskGroup {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && e.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.StartedAt.Before(f.Until) {
		return false
	}
	return true
}
