package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"jobkeeper/internal/task/model"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in maps guarded by one mutex.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	tasks  map[int64]*model.Task
	execs  []model.Execution
	closed bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{tasks: map[int64]*model.Task{}}
}

func (s *MemoryStore) CreateTask(_ context.Context, t *model.Task) error {
	if err := prepareCreate(t, time.Now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	s.nextID++
	t.ID = s.nextID
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, id int64, patch model.TaskPatch) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	next := cur.Clone()
	if err := applyUpdate(next, patch, time.Now()); err != nil {
		return nil, err
	}
	s.tasks[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id int64) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) FindTasks(_ context.Context, f model.TaskFilter, page, size int) ([]*model.Task, int, error) {
	s.mu.Lock()
	matched := make([]*model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if f.Match(t) {
			matched = append(matched, t.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	limit, offset := model.Page(page, size)
	return window(matched, limit, offset), len(matched), nil
}

func (s *MemoryStore) AppendExecution(_ context.Context, e model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrDisabled
	}
	s.execs = append(s.execs, e)
	return nil
}

func (s *MemoryStore) FindExecutions(_ context.Context, f model.ExecutionFilter, page, size int) ([]model.Execution, int, error) {
	s.mu.Lock()
	matched := make([]model.Execution, 0, len(s.execs))
	for i := range s.execs {
		if f.Match(&s.execs[i]) {
			matched = append(matched, s.execs[i])
		}
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})
	limit, offset := model.Page(page, size)
	return window(matched, limit, offset), len(matched), nil
}

func (s *MemoryStore) PruneExecutions(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.execs[:0]
	var n int64
	for _, e := range s.execs {
		if e.StartedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.execs = kept
	return n, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
