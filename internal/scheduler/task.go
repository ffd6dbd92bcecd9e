package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind names what a task does.
type Kind string

const (
	KindConcludeRound Kind = "conclude_round"
	KindClosingSoon   Kind = "round_closing_soon"
)

// Task is one deferred unit of work.
type Task struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	RoundID   uuid.UUID `json:"round_id"`
	RunAt     time.Time `json:"run_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// TaskID is the stable id for kind on roundID.
func TaskID(kind Kind, roundID uuid.UUID) string {
	return string(kind) + ":" + roundID.String()
}

// Handler executes tasks.
type Handler interface {
	HandleTask(ctx context.Context, task Task) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, task Task) error

func (f HandlerFunc) HandleTask(ctx context.Context, task Task) error {
	return f(ctx, task)
}
