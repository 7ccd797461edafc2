package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"jobkeeper/internal/task/model"
)

var (
	ErrDisabled     = errors.New("storage disabled")
	ErrTaskNotFound = errors.New("task not found")
	ErrInvalidTask  = errors.New("invalid task")
)

// Config configures storage.
//
// Driver values:
//   - "memory": nothing survives the process
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL reachable through DSN
//
// An empty Driver selects memory.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgx default
}

// Store is the persistence port used by the orchestrator and the execution log.
type Store interface {
	// CreateTask assigns ID, CreateTime and UpdateTime and fills defaults on t.
	CreateTask(ctx context.Context, t *model.Task) error
	// UpdateTask merges patch into the stored row and refreshes UpdateTime.
	UpdateTask(ctx context.Context, id int64, patch model.TaskPatch) (*model.Task, error)
	DeleteTask(ctx context.Context, id int64) error
	GetTask(ctx context.Context, id int64) (*model.Task, error)
	// FindTasks returns one page ordered by ID plus the total number of matches.
	FindTasks(ctx context.Context, f model.TaskFilter, page, size int) ([]*model.Task, int, error)

	AppendExecution(ctx context.Context, e model.Execution) error
	// FindExecutions returns one page, newest first, plus the total number of matches.
	FindExecutions(ctx context.Context, f model.ExecutionFilter, page, size int) ([]model.Execution, int, error)
	// PruneExecutions deletes executions started before the cutoff.
	PruneExecutions(ctx context.Context, before time.Time) (int64, error)

	Close() error
}

// prepareCreate validates t and fills the fields a driver assigns on insert (except ID).
func prepareCreate(t *model.Task, now time.Time) error {
	if t == nil {
		return ErrInvalidTask
	}
	t.ApplyDefaults()
	if t.Name == "" {
		return errors.Join(ErrInvalidTask, errors.New("name is required"))
	}
	if t.InvokeTarget == "" {
		return errors.Join(ErrInvalidTask, errors.New("invoke target is required"))
	}
	t.CronExpression = strings.TrimSpace(t.CronExpression)
	t.CreateTime = now
	t.UpdateTime = now
	return nil
}

// applyUpdate merges patch into t and refreshes UpdateTime.
func applyUpdate(t *model.Task, patch model.TaskPatch, now time.Time) error {
	if patch.Status != nil && !patch.Status.Valid() {
		return errors.Join(ErrInvalidTask, fmt.Errorf("invalid status %d", int(*patch.Status)))
	}
	if patch.MisfirePolicy != nil && !patch.MisfirePolicy.Valid() {
		return errors.Join(ErrInvalidTask, fmt.Errorf("invalid misfire policy %d", int(*patch.MisfirePolicy)))
	}
	patch.Apply(t)
	if t.Name == "" {
		return errors.Join(ErrInvalidTask, errors.New("name is required"))
	}
	if t.InvokeTarget == "" {
		return errors.Join(ErrInvalidTask, errors.New("invoke target is required"))
	}
	t.CronExpression = strings.TrimSpace(t.CronExpression)
	if !now.After(t.UpdateTime) {
		now = t.UpdateTime.Add(time.Microsecond)
	}
	t.UpdateTime = now
	return nil
}
