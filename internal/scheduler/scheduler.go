package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/acquity/roundmarket/internal/clock"
	"github.com/acquity/roundmarket/internal/metrics"
	"github.com/acquity/roundmarket/internal/model"
)

// Config holds scheduler configuration.
type Config struct {
	PollInterval   time.Duration // How often due tasks are loaded (default: 1s)
	Concurrency    int           // Max tasks running at once (default: 4)
	TaskTimeout    time.Duration // Per-task deadline (default: 2m)
	RetryBaseDelay time.Duration // First retry delay, doubled per attempt (default: 5s)
	RetryMaxDelay  time.Duration // Retry delay cap (default: 5m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:   time.Second,
		Concurrency:    4,
		TaskTimeout:    2 * time.Minute,
		RetryBaseDelay: 5 * time.Second,
		RetryMaxDelay:  5 * time.Minute,
	}
}

// Scheduler runs tasks from a TaskStore when they come due.
type Scheduler struct {
	cfg     Config
	store   TaskStore
	handler Handler
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics records task outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a new Scheduler.
func New(cfg Config, store TaskStore, handler Handler, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cfg:     cfg,
		store:   store,
		handler: handler,
		clock:   clock.Real{},
		logger:  logger,
		wake:    make(chan struct{}, 1),
		ctx:     context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleAt registers kind for roundID at at. A task that is already
// registered is left as it is, including its retry state.
func (s *Scheduler) ScheduleAt(ctx context.Context, at time.Time, kind Kind, roundID uuid.UUID) error {
	id := TaskID(kind, roundID)

	_, exists, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	if exists {
		s.logger.Debug("task already scheduled", "task_id", id)
		return nil
	}

	task := Task{
		ID:      id,
		Kind:    kind,
		RoundID: roundID,
		RunAt:   at.UTC(),
	}
	if err := s.store.Put(ctx, task); err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}

	s.logger.Info("task scheduled", "task_id", id, "run_at", task.RunAt)
	if !at.After(s.clock.Now()) {
		s.notify()
	}
	return nil
}

// notify wakes the run loop without blocking.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start begins the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.handler == nil {
		return errors.New("scheduler: nil handler")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("scheduler started",
		"poll_interval", s.cfg.PollInterval,
		"concurrency", s.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the scheduler. Running tasks see their context cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// Run anything overdue immediately on start.
	s.runDue()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runDue()
		case <-s.wake:
			s.runDue()
		}
	}
}

// runDue executes every due task concurrently and waits for them.
func (s *Scheduler) runDue() {
	now := s.clock.Now()

	tasks, err := s.store.Due(s.ctx, now)
	if err != nil {
		s.logger.Error("failed to load due tasks", "error", err)
		return
	}
	s.metrics.SetTasksPending(len(tasks))
	if len(tasks) == 0 {
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, max(s.cfg.Concurrency, 1))
	var wg sync.WaitGroup
	var succeeded, failed atomic.Int64

	for _, task := range tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-s.ctx.Done():
				return
			}

			if s.execute(task) {
				succeeded.Add(1)
			} else {
				failed.Add(1)
			}
		}(task)
	}

	wg.Wait()

	s.logger.Debug("task cycle complete",
		"due", len(tasks),
		"succeeded", succeeded.Load(),
		"failed", failed.Load(),
		"duration", time.Since(now),
	)
}

// execute runs one task and records its outcome in the store. It reports
// whether the handler succeeded.
func (s *Scheduler) execute(task Task) bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.TaskTimeout)
	defer cancel()

	log := s.logger.With("task_id", task.ID, "kind", task.Kind, "round_id", task.RoundID)

	err := s.handler.HandleTask(ctx, task)
	switch {
	case err == nil:
		s.metrics.TaskExecuted(string(task.Kind), "ok")
		s.remove(task, log)
		return true

	case model.IsPermanent(err):
		s.metrics.TaskExecuted(string(task.Kind), "dropped")
		log.Error("task failed permanently, dropping", "attempts", task.Attempts+1, "error", err)
		s.remove(task, log)
		return false

	default:
		if s.ctx.Err() != nil {
			// Shutting down; leave the task as it was so it runs on the next start.
			return false
		}
		task.Attempts++
		task.LastError = err.Error()
		delay := s.backoff(task.Attempts)
		task.RunAt = s.clock.Now().Add(delay)

		s.metrics.TaskExecuted(string(task.Kind), "retry")
		log.Warn("task failed, retrying", "attempts", task.Attempts, "retry_in", delay, "error", err)

		if err := s.store.Put(s.ctx, task); err != nil {
			log.Error("failed to reschedule task", "error", err)
		}
		return false
	}
}

func (s *Scheduler) remove(task Task, log *slog.Logger) {
	if err := s.store.Delete(s.ctx, task.ID); err != nil {
		log.Error("failed to delete finished task", "error", err)
	}
}

// backoff returns RetryBaseDelay * 2^(attempts-1), capped at RetryMaxDelay.
func (s *Scheduler) backoff(attempts int) time.Duration {
	delay := s.cfg.RetryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.cfg.RetryMaxDelay {
			return s.cfg.RetryMaxDelay
		}
	}
	if delay > s.cfg.RetryMaxDelay {
		return s.cfg.RetryMaxDelay
	}
	return delay
}

// Pending returns every stored task, due or not.
func (s *Scheduler) Pending(ctx context.Context) ([]Task, error) {
	return s.store.Due(ctx, time.Unix(1<<40, 0))
}
