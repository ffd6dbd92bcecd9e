package notify

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acquity/roundmarket/internal/clock"
	"github.com/acquity/roundmarket/internal/metrics"
)

// ErrStopped is returned by Notify after Stop.
var ErrStopped = errors.New("notification dispatcher stopped")

// Config holds dispatcher configuration.
type Config struct {
	BufferSize     int           // Initial queue capacity (default: 1000)
	BatchSize      int           // Max notifications per publish (default: 100)
	PublishTimeout time.Duration // Per-batch publish deadline (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:     1000,
		BatchSize:      100,
		PublishTimeout: 10 * time.Second,
	}
}

// DispatcherStats counts notifications by outcome.
type DispatcherStats struct {
	Enqueued  int64
	Published int64
	Failed    int64
	Dropped   int64
	Batches   int64
}

// Dispatcher implements Gateway on top of a Queue and a Publisher.
type Dispatcher struct {
	cfg       Config
	queue     *Queue[Notification]
	publisher Publisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger

	wg sync.WaitGroup

	statsMu sync.Mutex
	stats   DispatcherStats
}

var _ Gateway = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(cfg Config, publisher Publisher, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Dispatcher{
		cfg:       cfg,
		queue:     NewQueue[Notification](cfg.BufferSize),
		publisher: publisher,
		clock:     clock.Real{},
		metrics:   m,
		logger:    logger,
	}
}

// Notify implements Gateway. An empty recipient list is a no-op.
func (d *Dispatcher) Notify(_ context.Context, userIDs []uuid.UUID, kind Kind, data map[string]string) error {
	if len(userIDs) == 0 {
		return nil
	}

	n := Notification{
		ID:        uuid.New(),
		Kind:      kind,
		UserIDs:   slices.Clone(userIDs),
		Data:      maps.Clone(data),
		CreatedAt: d.clock.Now(),
	}
	if !d.queue.Send(n) {
		d.count(func(s *DispatcherStats) { s.Dropped++ })
		d.metrics.NotificationDropped()
		return ErrStopped
	}

	d.count(func(s *DispatcherStats) { s.Enqueued++ })
	d.metrics.SetNotifyQueueDepth(d.queue.Len())
	return nil
}

// Start begins consuming the queue.
func (d *Dispatcher) Start(_ context.Context) error {
	d.wg.Add(1)
	go d.consumeLoop()

	d.logger.Info("notification dispatcher started",
		"batch_size", d.cfg.BatchSize,
		"publish_timeout", d.cfg.PublishTimeout,
	)
	return nil
}

// Stop closes the queue and waits for queued notifications to be published.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.logger.Info("stopping notification dispatcher", "queued", d.queue.Len())
	d.queue.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("notification dispatcher stopped")
	case <-ctx.Done():
		d.logger.Warn("notification dispatcher stop timed out", "queued", d.queue.Len())
		return ctx.Err()
	}

	if err := d.publisher.Close(); err != nil {
		return err
	}
	return nil
}

// Stats returns current counters.
func (d *Dispatcher) Stats() DispatcherStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

// consumeLoop publishes until the queue is closed and drained.
func (d *Dispatcher) consumeLoop() {
	defer d.wg.Done()

	for {
		first, ok := d.queue.Receive()
		if !ok {
			return
		}
		batch := append([]Notification{first}, d.queue.DrainTo(d.cfg.BatchSize-1)...)
		d.metrics.SetNotifyQueueDepth(d.queue.Len())
		d.publish(batch)
	}
}

func (d *Dispatcher) publish(batch []Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	if err := d.publisher.Publish(ctx, batch); err != nil {
		d.logger.Error("publish notifications failed", "error", err, "count", len(batch))
		d.count(func(s *DispatcherStats) { s.Failed += int64(len(batch)) })
		d.metrics.NotificationPublished("error")
		return
	}

	d.count(func(s *DispatcherStats) {
		s.Published += int64(len(batch))
		s.Batches++
	})
	d.metrics.NotificationPublished("ok")

	d.logger.Debug("published notifications",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

func (d *Dispatcher) count(fn func(*DispatcherStats)) {
	d.statsMu.Lock()
	fn(&d.stats)
	d.statsMu.Unlock()
}
