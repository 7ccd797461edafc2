// Package model holds the durable shapes shared by the catalog, the
// orchestrator and the execution log.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultGroup is applied when a task is created without a group.
const DefaultGroup = "DEFAULT"

// Status is the persisted run state of a task. The live cron entry is derived from it.
type Status int

const (
	StatusRunning Status = 0
	StatusPaused  Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusPaused:
		return "paused"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

func (s Status) Valid() bool { return s == StatusRunning || s == StatusPaused }

// ParseStatus accepts "running"/"paused" or the numeric form.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "0":
		return StatusRunning, nil
	case "paused", "1":
		return StatusPaused, nil
	default:
		return 0, fmt.Errorf("invalid status %q (use running or paused)", raw)
	}
}

// MisfirePolicy is persisted and exposed but not enforced by the scheduler.
type MisfirePolicy int

const (
	MisfireFireNow  MisfirePolicy = 1
	MisfireFireOnce MisfirePolicy = 2
	MisfireSkip     MisfirePolicy = 3
)

func (p MisfirePolicy) Valid() bool { return p >= MisfireFireNow && p <= MisfireSkip }

func (p MisfirePolicy) String() string {
	switch p {
	case MisfireFireNow:
		return "fire_now"
	case MisfireFireOnce:
		return "fire_once"
	case MisfireSkip:
		return "skip"
	default:
		return "misfire(" + strconv.Itoa(int(p)) + ")"
	}
}

// Task is a scheduled-task definition as stored in the catalog.
type Task struct {
	ID             int64         `json:"id"`
	Name           string        `json:"name"`
	Group          string        `json:"group"`
	InvokeTarget   string        `json:"invoke_target"`
	CronExpression string        `json:"cron_expression"`
	MisfirePolicy  MisfirePolicy `json:"misfire_policy"`
	Concurrent     bool          `json:"concurrent"`
	Status         Status        `json:"status"`
	Remark         string        `json:"remark,omitempty"`
	CreateTime     time.Time     `json:"create_time"`
	UpdateTime     time.Time     `json:"update_time"`
}

// JobKey is the handle of the task's live cron entry: group_name_id.
func (t *Task) JobKey() string {
	return JobKey(t.Group, t.Name, t.ID)
}

func JobKey(group, name string, id int64) string {
	return group + "_" + name + "_" + strconv.FormatInt(id, 10)
}

// ApplyDefaults fills the zero values a new task may omit.
func (t *Task) ApplyDefaults() {
	t.Name = strings.TrimSpace(t.Name)
	t.Group = strings.TrimSpace(t.Group)
	if t.Group == "" {
		t.Group = DefaultGroup
	}
	t.InvokeTarget = strings.TrimSpace(t.InvokeTarget)
	if !t.MisfirePolicy.Valid() {
		t.MisfirePolicy = MisfireFireNow
	}
	if !t.Status.Valid() {
		t.Status = StatusPaused
	}
}

// Clone returns a detached copy.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// TaskPatch is a partial update. Nil fields are left untouched.
type TaskPatch struct {
	Name           *string
	Group          *string
	InvokeTarget   *string
	CronExpression *string
	MisfirePolicy  *MisfirePolicy
	Concurrent     *bool
	Status         *Status
	Remark         *string
}

// Apply merges the patch into t. UpdateTime is the caller's responsibility.
func (p TaskPatch) Apply(t *Task) {
	if p.Name != nil {
		t.Name = strings.TrimSpace(*p.Name)
	}
	if p.Group != nil {
		t.Group = strings.TrimSpace(*p.Group)
		if t.Group == "" {
			t.Group = DefaultGroup
		}
	}
	if p.InvokeTarget != nil {
		t.InvokeTarget = strings.TrimSpace(*p.InvokeTarget)
	}
	if p.CronExpression != nil {
		t.CronExpression = *p.CronExpression
	}
	if p.MisfirePolicy != nil && p.MisfirePolicy.Valid() {
		t.MisfirePolicy = *p.MisfirePolicy
	}
	if p.Concurrent != nil {
		t.Concurrent = *p.Concurrent
	}
	if p.Status != nil && p.Status.Valid() {
		t.Status = *p.Status
	}
	if p.Remark != nil {
		t.Remark = *p.Remark
	}
}

// IsZero reports whether the patch changes nothing.
func (p TaskPatch) IsZero() bool {
	return p.Name == nil && p.Group == nil && p.InvokeTarget == nil && p.CronExpression == nil &&
		p.MisfirePolicy == nil && p.Concurrent == nil && p.Status == nil && p.Remark == nil
}

// TaskFilter narrows FindTasks. Empty fields match everything.
type TaskFilter struct {
	Name         string // substring
	Group        string // exact
	InvokeTarget string // substring
	Status       *Status
}

// Match is the reference semantics every catalog driver implements.
func (f TaskFilter) Match(t *Task) bool {
	if f.Name != "" && !strings.Contains(t.Name, f.Name) {
		return false
	}
	if f.Group != "" && t.Group != f.Group {
		return false
	}
	if f.InvokeTarget != "" && !strings.Contains(t.InvokeTarget, f.InvokeTarget) {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	return true
}

// Page normalizes 1-based paging arguments into limit/offset.
func Page(page, size int) (limit, offset int) {
	if size <= 0 {
		size = 20
	}
	if size > 500 {
		size = 500
	}
	if page <= 0 {
		page = 1
	}
	return size, (page - 1) * size
}

func Ptr[T any](v T) *T { return &v }
