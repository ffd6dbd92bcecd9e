package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// keys: t:<task id>
var taskPrefix = []byte("t:")

func taskKey(id string) []byte { return append(append([]byte{}, taskPrefix...), id...) }

// keyUpperBound returns the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte{}, prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// PebbleTaskStore keeps tasks in a local pebble database so pending
// conclusions survive a restart without a database round trip.
type PebbleTaskStore struct {
	db *pebble.DB
}

// OpenPebbleTaskStore opens or creates the store at path.
func OpenPebbleTaskStore(path string) (*PebbleTaskStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	return &PebbleTaskStore{db: db}, nil
}

func (s *PebbleTaskStore) Close() error { return s.db.Close() }

func (s *PebbleTaskStore) Put(_ context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := s.db.Set(taskKey(task.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("write task: %w", err)
	}
	return nil
}

func (s *PebbleTaskStore) Get(_ context.Context, id string) (Task, bool, error) {
	val, closer, err := s.db.Get(taskKey(id))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Task{}, false, nil
		}
		return Task{}, false, fmt.Errorf("read task: %w", err)
	}
	defer closer.Close()

	var t Task
	if err := json.Unmarshal(val, &t); err != nil {
		return Task{}, false, fmt.Errorf("unmarshal task: %w", err)
	}
	return t, true, nil
}

func (s *PebbleTaskStore) Delete(_ context.Context, id string) error {
	if err := s.db.Delete(taskKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

func (s *PebbleTaskStore) Due(_ context.Context, now time.Time) ([]Task, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: taskPrefix,
		UpperBound: keyUpperBound(taskPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	defer iter.Close()

	var due []Task
	for iter.First(); iter.Valid(); iter.Next() {
		var t Task
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("unmarshal task %q: %w", iter.Key(), err)
		}
		if !t.RunAt.After(now) {
			due = append(due, t)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	sortTasks(due)
	return due, nil
}
