package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

// TaskStore persists pending tasks.
type TaskStore interface {
	// Put inserts or replaces the task with the same ID.
	Put(ctx context.Context, task Task) error
	// Get returns the task and whether it exists.
	Get(ctx context.Context, id string) (Task, bool, error)
	Delete(ctx context.Context, id string) error
	// Due returns tasks with RunAt <= now, earliest first.
	Due(ctx context.Context, now time.Time) ([]Task, error)
	Close() error
}

// MemoryTaskStore keeps tasks in a map. Tasks are lost on exit; Recover in
// the round manager re-registers conclusions on the next start.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[string]Task
}

// NewMemoryTaskStore creates an empty store.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]Task)}
}

func (s *MemoryTaskStore) Put(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryTaskStore) Get(_ context.Context, id string) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok, nil
}

func (s *MemoryTaskStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryTaskStore) Due(_ context.Context, now time.Time) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Task
	for _, t := range s.tasks {
		if !t.RunAt.After(now) {
			due = append(due, t)
		}
	}
	sortTasks(due)
	return due, nil
}

func (s *MemoryTaskStore) Close() error { return nil }

func sortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].RunAt.Equal(tasks[j].RunAt) {
			return tasks[i].RunAt.Before(tasks[j].RunAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
