package round

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/acquity/roundmarket/internal/clock"
	"github.com/acquity/roundmarket/internal/metrics"
	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/notify"
	"github.com/acquity/roundmarket/internal/scheduler"
	"github.com/acquity/roundmarket/internal/store"
)

// dateLayout formats dates in notification payloads.
const dateLayout = "Mon, 02 Jan 2006 15:04 MST"

// Config holds round lifecycle settings.
type Config struct {
	SellerCountCutoff int             // Distinct pending sellers that open a round (default: 2)
	TotalShareCutoff  decimal.Decimal // Pending sell shares that open a round (default: 1000)
	Length            time.Duration   // Round duration (default: 1 week)
	ClosingSoonLead   time.Duration   // Reminder before EndTime; <= 0 disables (default: 24h)
	Location          *time.Location  // Timezone for notification dates (default: UTC)

	ScheduleAttempts int           // Tries per task registration (default: 3)
	ScheduleBackoff  time.Duration // Delay between tries, multiplied by attempt (default: 500ms)
	RecoverInterval  time.Duration // Period of the Recover sweep in RunRecovery; <= 0 disables (default: 1m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SellerCountCutoff: 2,
		TotalShareCutoff:  decimal.NewFromInt(1000),
		Length:            7 * 24 * time.Hour,
		ClosingSoonLead:   24 * time.Hour,
		Location:          time.UTC,
		ScheduleAttempts:  3,
		ScheduleBackoff:   500 * time.Millisecond,
		RecoverInterval:   time.Minute,
	}
}

// TaskScheduler registers deferred tasks.
type TaskScheduler interface {
	ScheduleAt(ctx context.Context, at time.Time, kind scheduler.Kind, roundID uuid.UUID) error
}

// ChatRoomFactory opens a chat room for a match.
type ChatRoomFactory interface {
	OpenRoom(ctx context.Context, buyerID, sellerID, matchID uuid.UUID) (model.ChatRoom, error)
}

// Manager drives rounds from opening to conclusion.
type Manager struct {
	cfg      Config
	store    store.Store
	tasks    TaskScheduler
	chat     ChatRoomFactory
	notifier notify.Gateway
	events   EventSink
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithMetrics records round starts and conclusions.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithEvents publishes public round events to sink.
func WithEvents(sink EventSink) Option {
	return func(m *Manager) { m.events = sink }
}

// New creates a Manager.
func New(cfg Config, st store.Store, tasks TaskScheduler, chat ChatRoomFactory, notifier notify.Gateway, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ScheduleAttempts < 1 {
		cfg.ScheduleAttempts = 1
	}
	m := &Manager{
		cfg:      cfg,
		store:    st,
		tasks:    tasks,
		chat:     chat,
		notifier: notifier,
		clock:    clock.Real{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetActive returns the active round, or nil when there is none. More than
// one active round is logged as an invariant violation and reported as none.
func (m *Manager) GetActive(ctx context.Context) (*model.Round, error) {
	var active []model.Round
	err := m.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		active, err = tx.ListActiveRounds(ctx, m.clock.Now())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get active round: %w", err)
	}

	switch len(active) {
	case 0:
		return nil, nil
	case 1:
		return &active[0], nil
	default:
		m.logger.Error("invariant violation: more than one active round",
			"count", len(active),
			"round_ids", roundIDs(active),
		)
		return nil, nil
	}
}

// ActiveIn returns the active round as seen by tx, or nil. Unlike GetActive
// it returns model.ErrInvariantViolation when more than one round is active,
// so the caller's transaction is aborted.
func (m *Manager) ActiveIn(ctx context.Context, tx store.Tx) (*model.Round, error) {
	active, err := tx.ListActiveRounds(ctx, m.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("list active rounds: %w", err)
	}
	switch len(active) {
	case 0:
		return nil, nil
	case 1:
		return &active[0], nil
	default:
		m.logger.Error("invariant violation: more than one active round",
			"count", len(active),
			"round_ids", roundIDs(active),
		)
		return nil, fmt.Errorf("%w: %d active rounds", model.ErrInvariantViolation, len(active))
	}
}

// ShouldRoundStart reports whether the pending pool meets a cutoff. It is
// always false while a round is active.
func (m *Manager) ShouldRoundStart(ctx context.Context) (bool, error) {
	var start bool
	err := m.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		start, err = m.shouldStartIn(ctx, tx)
		return err
	})
	return start, err
}

func (m *Manager) shouldStartIn(ctx context.Context, tx store.Tx) (bool, error) {
	active, err := m.ActiveIn(ctx, tx)
	if err != nil {
		return false, err
	}
	if active != nil {
		return false, nil
	}

	pending, err := tx.PendingSellSummary(ctx)
	if err != nil {
		return false, fmt.Errorf("pending sell summary: %w", err)
	}
	return pending.DistinctSellers >= m.cfg.SellerCountCutoff ||
		pending.TotalShares.GreaterThanOrEqual(m.cfg.TotalShareCutoff), nil
}

// StartIfDue opens a round inside tx when no round is active and a cutoff
// is met, assigning every pending order to it. It returns nil when no
// round was opened. The caller must call Announce after tx commits.
func (m *Manager) StartIfDue(ctx context.Context, tx store.Tx) (*model.Round, error) {
	start, err := m.shouldStartIn(ctx, tx)
	if err != nil || !start {
		return nil, err
	}

	now := m.clock.Now()
	r := model.Round{
		ID:        uuid.New(),
		EndTime:   now.Add(m.cfg.Length),
		CreatedAt: now,
	}
	if err := tx.CreateRound(ctx, r); err != nil {
		return nil, fmt.Errorf("create round: %w", err)
	}

	sells, err := tx.AssignPendingOrders(ctx, model.SideSell, r.ID)
	if err != nil {
		return nil, err
	}
	buys, err := tx.AssignPendingOrders(ctx, model.SideBuy, r.ID)
	if err != nil {
		return nil, err
	}

	m.logger.Info("round started",
		"round_id", r.ID,
		"end_time", r.EndTime,
		"sell_orders", sells,
		"buy_orders", buys,
	)
	return &r, nil
}

// StartRoundIfDue runs StartIfDue in its own transaction and announces the
// round if one was opened.
func (m *Manager) StartRoundIfDue(ctx context.Context) (*model.Round, error) {
	var started *model.Round
	err := m.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		started, err = m.StartIfDue(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("start round: %w", err)
	}
	if started != nil {
		m.Announce(ctx, *started)
	}
	return started, nil
}

// Announce performs the side effects of a committed round start: opening
// notices to permitted sellers and buyers, and registration of the
// conclusion and reminder tasks. Failures are logged.
func (m *Manager) Announce(ctx context.Context, r model.Round) {
	m.metrics.RoundStarted()

	data := map[string]string{
		"round_id":   r.ID.String(),
		"start_date": m.formatDate(r.CreatedAt),
		"end_date":   m.formatDate(r.EndTime),
	}
	m.notifyPermitted(ctx, model.SideSell, notify.KindRoundOpenedSeller, data)
	m.notifyPermitted(ctx, model.SideBuy, notify.KindRoundOpenedBuyer, data)

	m.scheduleWithRetry(ctx, r.EndTime, scheduler.KindConcludeRound, r.ID)
	if m.cfg.ClosingSoonLead > 0 {
		m.scheduleWithRetry(ctx, r.EndTime.Add(-m.cfg.ClosingSoonLead), scheduler.KindClosingSoon, r.ID)
	}

	m.publish(ctx, Event{Type: EventRoundOpened, RoundID: r.ID, EndTime: r.EndTime})
}

// scheduleWithRetry registers a task, retrying with linear backoff. A
// registration that never succeeds is left for the next Recover sweep.
func (m *Manager) scheduleWithRetry(ctx context.Context, at time.Time, kind scheduler.Kind, roundID uuid.UUID) {
	var err error
	for attempt := 1; attempt <= m.cfg.ScheduleAttempts; attempt++ {
		if err = m.tasks.ScheduleAt(ctx, at, kind, roundID); err == nil {
			return
		}
		m.logger.Warn("failed to schedule task",
			"kind", kind,
			"round_id", roundID,
			"attempt", attempt,
			"error", err,
		)
		if attempt == m.cfg.ScheduleAttempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			attempt = m.cfg.ScheduleAttempts
		case <-time.After(m.cfg.ScheduleBackoff * time.Duration(attempt)):
		}
	}
	m.logger.Error("giving up scheduling task until next recovery sweep",
		"kind", kind,
		"round_id", roundID,
		"run_at", at,
		"error", err,
	)
}

// notifyPermitted sends kind to every user permitted to trade side.
func (m *Manager) notifyPermitted(ctx context.Context, side model.Side, kind notify.Kind, data map[string]string) {
	var users []uuid.UUID
	err := m.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		users, err = tx.ListPermittedUserIDs(ctx, side)
		return err
	})
	if err != nil {
		m.logger.Error("failed to list notification recipients", "kind", kind, "error", err)
		return
	}
	m.send(ctx, users, kind, data)
}

func (m *Manager) send(ctx context.Context, users []uuid.UUID, kind notify.Kind, data map[string]string) {
	if len(users) == 0 {
		return
	}
	if err := m.notifier.Notify(ctx, users, kind, data); err != nil {
		m.logger.Error("failed to send notification", "kind", kind, "recipients", len(users), "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, ev Event) {
	if m.events == nil {
		return
	}
	ev.At = m.clock.Now()
	m.events.PublishRoundEvent(ctx, ev)
}

func (m *Manager) formatDate(t time.Time) string {
	return t.In(m.cfg.Location).Format(dateLayout)
}

func roundIDs(rounds []model.Round) []string {
	ids := make([]string, len(rounds))
	for i, r := range rounds {
		ids[i] = r.ID.String()
	}
	return ids
}
