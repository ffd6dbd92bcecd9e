package round

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquity/roundmarket/internal/chat"
	"github.com/acquity/roundmarket/internal/clock"
	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/notify"
	"github.com/acquity/roundmarket/internal/scheduler"
	"github.com/acquity/roundmarket/internal/store"
	"github.com/acquity/roundmarket/internal/store/memory"
)

var start = time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)

type scheduled struct {
	at      time.Time
	kind    scheduler.Kind
	roundID uuid.UUID
}

type fakeTasks struct {
	mu    sync.Mutex
	calls []scheduled
	fail  int // fail this many calls before succeeding
}

func (f *fakeTasks) ScheduleAt(_ context.Context, at time.Time, kind scheduler.Kind, roundID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("task store unavailable")
	}
	f.calls = append(f.calls, scheduled{at: at, kind: kind, roundID: roundID})
	return nil
}

func (f *fakeTasks) byKind(kind scheduler.Kind) []scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scheduled
	for _, c := range f.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

type sent struct {
	kind  notify.Kind
	users []uuid.UUID
	data  map[string]string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeNotifier) Notify(_ context.Context, userIDs []uuid.UUID, kind notify.Kind, data map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{kind: kind, users: userIDs, data: data})
	return nil
}

func (f *fakeNotifier) find(kind notify.Kind) (sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sent {
		if s.kind == kind {
			return s, true
		}
	}
	return sent{}, false
}

type fakeEvents struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeEvents) PublishRoundEvent(_ context.Context, ev Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

// flakyChat fails every OpenRoom while down is set.
type flakyChat struct {
	inner ChatRoomFactory
	mu    sync.Mutex
	down  bool
}

func (c *flakyChat) OpenRoom(ctx context.Context, buyerID, sellerID, matchID uuid.UUID) (model.ChatRoom, error) {
	c.mu.Lock()
	down := c.down
	c.mu.Unlock()
	if down {
		return model.ChatRoom{}, errors.New("chat service unavailable")
	}
	return c.inner.OpenRoom(ctx, buyerID, sellerID, matchID)
}

func (c *flakyChat) setDown(down bool) {
	c.mu.Lock()
	c.down = down
	c.mu.Unlock()
}

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	clock  *clock.Manual
	tasks  *fakeTasks
	notes  *fakeNotifier
	events *fakeEvents
	mgr    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		store:  memory.New(),
		clock:  clock.NewManual(start),
		tasks:  &fakeTasks{},
		notes:  &fakeNotifier{},
		events: &fakeEvents{},
	}
	cfg := DefaultConfig()
	cfg.ScheduleBackoff = time.Millisecond
	f.mgr = New(cfg, f.store, f.tasks, chat.NewFactory(f.store, f.clock, nil), f.notes, nil,
		WithClock(f.clock),
		WithEvents(f.events),
	)
	return f
}

func (f *fixture) addUser(t *testing.T, canBuy, canSell bool) uuid.UUID {
	t.Helper()
	u := model.User{ID: uuid.New(), CanBuy: canBuy, CanSell: canSell}
	require.NoError(t, f.store.Atomic(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, u)
	}))
	return u.ID
}

func (f *fixture) addOrder(t *testing.T, user uuid.UUID, side model.Side, shares, price int64) model.Order {
	t.Helper()
	now := f.clock.Now()
	o := model.Order{
		ID:             uuid.New(),
		UserID:         user,
		Side:           side,
		NumberOfShares: decimal.NewFromInt(shares),
		Price:          decimal.NewFromInt(price),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, f.store.Atomic(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateOrder(ctx, o)
	}))
	return o
}

func (f *fixture) getOrder(t *testing.T, o model.Order) model.Order {
	t.Helper()
	var got model.Order
	require.NoError(t, f.store.View(f.ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		got, err = tx.GetOrder(ctx, o.Side, o.ID)
		return err
	}))
	return got
}

func (f *fixture) insertRound(t *testing.T, r model.Round) {
	t.Helper()
	require.NoError(t, f.store.Atomic(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateRound(ctx, r)
	}))
}

func TestShouldRoundStart(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
		want  bool
	}{
		{
			name:  "empty pool",
			setup: func(*testing.T, *fixture) {},
			want:  false,
		},
		{
			name: "one seller below share cutoff",
			setup: func(t *testing.T, f *fixture) {
				s := f.addUser(t, false, true)
				f.addOrder(t, s, model.SideSell, 600, 10)
				f.addOrder(t, s, model.SideSell, 399, 10)
			},
			want: false,
		},
		{
			name: "one seller at share cutoff",
			setup: func(t *testing.T, f *fixture) {
				f.addOrder(t, f.addUser(t, false, true), model.SideSell, 1000, 10)
			},
			want: true,
		},
		{
			name: "two sellers",
			setup: func(t *testing.T, f *fixture) {
				f.addOrder(t, f.addUser(t, false, true), model.SideSell, 1, 10)
				f.addOrder(t, f.addUser(t, false, true), model.SideSell, 1, 10)
			},
			want: true,
		},
		{
			name: "buy orders do not count",
			setup: func(t *testing.T, f *fixture) {
				f.addOrder(t, f.addUser(t, true, false), model.SideBuy, 5000, 10)
				f.addOrder(t, f.addUser(t, true, false), model.SideBuy, 5000, 10)
			},
			want: false,
		},
		{
			name: "round already active",
			setup: func(t *testing.T, f *fixture) {
				f.insertRound(t, model.Round{ID: uuid.New(), EndTime: start.Add(time.Hour), CreatedAt: start})
				f.addOrder(t, f.addUser(t, false, true), model.SideSell, 5000, 10)
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)
			got, err := f.mgr.ShouldRoundStart(f.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStartRoundIfDue_AssignsPendingOrders(t *testing.T) {
	f := newFixture(t)
	sellerA := f.addUser(t, false, true)
	sellerB := f.addUser(t, false, true)
	buyer := f.addUser(t, true, false)

	sellA := f.addOrder(t, sellerA, model.SideSell, 10, 10)
	buy := f.addOrder(t, buyer, model.SideBuy, 10, 12)
	sellB := f.addOrder(t, sellerB, model.SideSell, 10, 10)

	r, err := f.mgr.StartRoundIfDue(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, start.Add(DefaultConfig().Length), r.EndTime)

	for _, o := range []model.Order{sellA, sellB, buy} {
		assert.True(t, f.getOrder(t, o).InRound(r.ID), "order %s not assigned", o.ID)
	}

	conclude := f.tasks.byKind(scheduler.KindConcludeRound)
	require.Len(t, conclude, 1)
	assert.Equal(t, r.EndTime, conclude[0].at)
	reminder := f.tasks.byKind(scheduler.KindClosingSoon)
	require.Len(t, reminder, 1)
	assert.Equal(t, r.EndTime.Add(-24*time.Hour), reminder[0].at)

	opened, ok := f.notes.find(notify.KindRoundOpenedSeller)
	require.True(t, ok)
	assert.ElementsMatch(t, []uuid.UUID{sellerA, sellerB}, opened.users)
	assert.Equal(t, r.ID.String(), opened.data["round_id"])
	assert.NotEmpty(t, opened.data["start_date"])
	assert.NotEmpty(t, opened.data["end_date"])

	opened, ok = f.notes.find(notify.KindRoundOpenedBuyer)
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{buyer}, opened.users)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, EventRoundOpened, f.events.events[0].Type)

	// The pool is now empty and a round is active.
	again, err := f.mgr.StartRoundIfDue(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestStartRoundIfDue_RetriesScheduling(t *testing.T) {
	f := newFixture(t)
	f.tasks.fail = 2
	f.addOrder(t, f.addUser(t, false, true), model.SideSell, 1000, 10)

	r, err := f.mgr.StartRoundIfDue(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Len(t, f.tasks.byKind(scheduler.KindConcludeRound), 1)
}

func TestStartRoundIfDue_NoClosingSoonWhenDisabled(t *testing.T) {
	f := newFixture(t)
	f.mgr.cfg.ClosingSoonLead = 0
	f.addOrder(t, f.addUser(t, false, true), model.SideSell, 1000, 10)

	_, err := f.mgr.StartRoundIfDue(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, f.tasks.byKind(scheduler.KindClosingSoon))
}

func TestGetActive_FailsClosed(t *testing.T) {
	f := newFixture(t)
	f.insertRound(t, model.Round{ID: uuid.New(), EndTime: start.Add(time.Hour), CreatedAt: start})
	f.insertRound(t, model.Round{ID: uuid.New(), EndTime: start.Add(2 * time.Hour), CreatedAt: start})

	active, err := f.mgr.GetActive(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	err = f.store.View(f.ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := f.mgr.ActiveIn(ctx, tx)
		return err
	})
	require.ErrorIs(t, err, model.ErrInvariantViolation)

	_, err = f.mgr.ShouldRoundStart(f.ctx)
	require.ErrorIs(t, err, model.ErrInvariantViolation)
}

func TestGetActive_ClosedRoundIsNotActive(t *testing.T) {
	f := newFixture(t)
	r := model.Round{ID: uuid.New(), EndTime: start.Add(time.Hour), CreatedAt: start}
	f.insertRound(t, r)

	active, err := f.mgr.GetActive(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, r.ID, active.ID)

	f.clock.Advance(time.Hour + time.Second)
	active, err = f.mgr.GetActive(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

// openRound starts a round with one seller and three buyers. Two buyers bid
// above the ask and one below.
func openRound(t *testing.T, f *fixture) (r *model.Round, seller, hi, mid, low uuid.UUID) {
	t.Helper()
	seller = f.addUser(t, false, true)
	hi = f.addUser(t, true, false)
	mid = f.addUser(t, true, false)
	low = f.addUser(t, true, false)

	f.addOrder(t, hi, model.SideBuy, 500, 12)
	f.addOrder(t, mid, model.SideBuy, 500, 11)
	f.addOrder(t, low, model.SideBuy, 500, 5)
	f.addOrder(t, seller, model.SideSell, 1000, 10)

	r, err := f.mgr.StartRoundIfDue(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, r)
	return r, seller, hi, mid, low
}

func TestConcludeRound_NotDue(t *testing.T) {
	f := newFixture(t)
	r, _, _, _, _ := openRound(t, f)

	_, err := f.mgr.ConcludeRound(f.ctx, r.ID)
	require.ErrorIs(t, err, model.ErrRoundNotDue)
	assert.False(t, model.IsPermanent(err))
}

func TestConcludeRound_UnknownRound(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.ConcludeRound(f.ctx, uuid.New())
	require.ErrorIs(t, err, model.ErrInvariantViolation)
	assert.True(t, model.IsPermanent(err))
}

func TestConcludeRound(t *testing.T) {
	f := newFixture(t)
	r, seller, hi, mid, low := openRound(t, f)
	f.clock.Set(r.EndTime.Add(time.Second))

	got, err := f.mgr.ConcludeRound(f.ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, got.AlreadyConcluded)
	require.Len(t, got.Matches, 2)

	stored, err := f.mgr.RoundMatches(f.ctx, r.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, got.Matches, stored)

	require.NoError(t, f.store.View(f.ctx, func(ctx context.Context, tx store.Tx) error {
		for _, m := range got.Matches {
			room, err := tx.GetChatRoomByMatch(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, seller, room.SellerID)
		}
		round, err := tx.GetRound(ctx, r.ID)
		require.NoError(t, err)
		assert.True(t, round.IsConcluded)
		return nil
	}))

	has, ok := f.notes.find(notify.KindMatchDoneHasMatch)
	require.True(t, ok)
	assert.ElementsMatch(t, []uuid.UUID{seller, hi, mid}, has.users)
	none, ok := f.notes.find(notify.KindMatchDoneNoMatch)
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{low}, none.users)

	last := f.events.events[len(f.events.events)-1]
	assert.Equal(t, EventRoundConcluded, last.Type)
	assert.Equal(t, 2, last.Matches)
}

func TestConcludeRound_SecondCallWritesNothing(t *testing.T) {
	f := newFixture(t)
	r, _, _, _, _ := openRound(t, f)
	f.clock.Set(r.EndTime.Add(time.Second))

	first, err := f.mgr.ConcludeRound(f.ctx, r.ID)
	require.NoError(t, err)
	commits := f.store.Stats().Commits
	notes := len(f.notes.sent)

	second, err := f.mgr.ConcludeRound(f.ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyConcluded)
	assert.Empty(t, second.Matches)
	assert.Equal(t, commits, f.store.Stats().Commits)
	assert.Len(t, f.notes.sent, notes)

	stored, err := f.mgr.RoundMatches(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, stored, len(first.Matches))
}

func TestConcludeRound_SkipsRevokedUsers(t *testing.T) {
	f := newFixture(t)
	r, _, hi, _, _ := openRound(t, f)

	// Revoke the top bidder's permission after the round opened.
	require.NoError(t, f.store.Atomic(f.ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateUser(ctx, model.User{ID: hi, CanBuy: false})
	}))
	f.clock.Set(r.EndTime.Add(time.Second))

	got, err := f.mgr.ConcludeRound(f.ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.Matches, 1)

	has, ok := f.notes.find(notify.KindMatchDoneHasMatch)
	require.True(t, ok)
	assert.NotContains(t, has.users, hi)
}

func TestConcludeRound_RespectsBans(t *testing.T) {
	f := newFixture(t)
	r, seller, hi, mid, _ := openRound(t, f)
	require.NoError(t, f.store.Atomic(f.ctx, func(ctx context.Context, tx store.Tx) error {
		for _, bp := range []model.BannedPair{
			{BuyerID: hi, SellerID: seller, CreatedAt: start},
			{BuyerID: seller, SellerID: hi, CreatedAt: start},
		} {
			if err := tx.CreateBannedPair(ctx, bp); err != nil {
				return err
			}
		}
		return nil
	}))
	f.clock.Set(r.EndTime.Add(time.Second))

	got, err := f.mgr.ConcludeRound(f.ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.Matches, 1)

	has, _ := f.notes.find(notify.KindMatchDoneHasMatch)
	assert.ElementsMatch(t, []uuid.UUID{seller, mid}, has.users)
}

func TestSendClosingSoonNotice(t *testing.T) {
	f := newFixture(t)
	err := f.mgr.SendClosingSoonNotice(f.ctx)
	require.ErrorIs(t, err, model.ErrNotFound)

	r, seller, _, _, _ := openRound(t, f)
	require.NoError(t, f.mgr.SendClosingSoonNotice(f.ctx))

	n, ok := f.notes.find(notify.KindRoundClosingSoonSeller)
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{seller}, n.users)
	assert.Equal(t, r.ID.String(), n.data["round_id"])
	_, ok = f.notes.find(notify.KindRoundClosingSoonBuyer)
	assert.True(t, ok)
}

func TestHandleTask(t *testing.T) {
	f := newFixture(t)
	r, _, _, _, _ := openRound(t, f)

	// A reminder for some other round is dropped quietly.
	err := f.mgr.HandleTask(f.ctx, scheduler.Task{Kind: scheduler.KindClosingSoon, RoundID: uuid.New()})
	require.NoError(t, err)
	_, ok := f.notes.find(notify.KindRoundClosingSoonSeller)
	assert.False(t, ok)

	err = f.mgr.HandleTask(f.ctx, scheduler.Task{Kind: scheduler.KindClosingSoon, RoundID: r.ID})
	require.NoError(t, err)
	_, ok = f.notes.find(notify.KindRoundClosingSoonSeller)
	assert.True(t, ok)

	err = f.mgr.HandleTask(f.ctx, scheduler.Task{Kind: scheduler.KindConcludeRound, RoundID: r.ID})
	require.ErrorIs(t, err, model.ErrRoundNotDue)

	f.clock.Set(r.EndTime)
	require.NoError(t, f.mgr.HandleTask(f.ctx, scheduler.Task{Kind: scheduler.KindConcludeRound, RoundID: r.ID}))

	err = f.mgr.HandleTask(f.ctx, scheduler.Task{Kind: "bogus"})
	require.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestRecover(t *testing.T) {
	f := newFixture(t)
	soon := model.Round{ID: uuid.New(), EndTime: start.Add(time.Hour), CreatedAt: start}
	late := model.Round{ID: uuid.New(), EndTime: start.Add(72 * time.Hour), CreatedAt: start}
	done := model.Round{ID: uuid.New(), EndTime: start.Add(-time.Hour), IsConcluded: true, CreatedAt: start}
	for _, r := range []model.Round{soon, late, done} {
		f.insertRound(t, r)
	}

	require.NoError(t, f.mgr.Recover(f.ctx))

	conclude := f.tasks.byKind(scheduler.KindConcludeRound)
	require.Len(t, conclude, 2)
	ids := []uuid.UUID{conclude[0].roundID, conclude[1].roundID}
	assert.ElementsMatch(t, []uuid.UUID{soon.ID, late.ID}, ids)

	// soon's reminder time has already passed.
	reminder := f.tasks.byKind(scheduler.KindClosingSoon)
	require.Len(t, reminder, 1)
	assert.Equal(t, late.ID, reminder[0].roundID)
}

func TestRecover_BackfillsChatRooms(t *testing.T) {
	f := newFixture(t)
	rooms := &flakyChat{inner: f.mgr.chat, down: true}
	f.mgr.chat = rooms

	r, seller, _, _, _ := openRound(t, f)
	f.clock.Set(r.EndTime.Add(time.Second))

	got, err := f.mgr.ConcludeRound(f.ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, got.Matches, 2)

	again, err := f.mgr.ConcludeRound(f.ctx, r.ID)
	require.NoError(t, err)
	require.True(t, again.AlreadyConcluded)

	roomFor := func(matchID uuid.UUID) (model.ChatRoom, error) {
		var room model.ChatRoom
		err := f.store.View(f.ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			room, err = tx.GetChatRoomByMatch(ctx, matchID)
			return err
		})
		return room, err
	}
	for _, m := range got.Matches {
		_, err := roomFor(m.ID)
		require.ErrorIs(t, err, model.ErrNotFound)
	}

	// Still down: the sweep reports the failure and writes nothing.
	require.Error(t, f.mgr.Recover(f.ctx))

	rooms.setDown(false)
	require.NoError(t, f.mgr.Recover(f.ctx))

	for _, m := range got.Matches {
		room, err := roomFor(m.ID)
		require.NoError(t, err)
		assert.Equal(t, seller, room.SellerID)
		assert.NotEqual(t, seller, room.BuyerID)
	}

	commits := f.store.Stats().Commits
	require.NoError(t, f.mgr.Recover(f.ctx))
	assert.Equal(t, commits, f.store.Stats().Commits, "second sweep opened rooms again")
}

func TestRunRecovery_ReschedulesAbandonedTasks(t *testing.T) {
	f := newFixture(t)
	f.mgr.cfg.RecoverInterval = 5 * time.Millisecond
	f.tasks.fail = 1 << 20
	f.addOrder(t, f.addUser(t, false, true), model.SideSell, 1000, 10)

	r, err := f.mgr.StartRoundIfDue(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Empty(t, f.tasks.byKind(scheduler.KindConcludeRound))

	f.tasks.mu.Lock()
	f.tasks.fail = 0
	f.tasks.mu.Unlock()

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- f.mgr.RunRecovery(ctx) }()

	require.Eventually(t, func() bool {
		return len(f.tasks.byKind(scheduler.KindConcludeRound)) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	conclude := f.tasks.byKind(scheduler.KindConcludeRound)
	assert.Equal(t, r.ID, conclude[0].roundID)
	assert.True(t, conclude[0].at.Equal(r.EndTime))
}

func TestRunRecovery_Disabled(t *testing.T) {
	f := newFixture(t)
	f.mgr.cfg.RecoverInterval = 0

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	require.NoError(t, f.mgr.RunRecovery(ctx))
}

func TestListRounds(t *testing.T) {
	f := newFixture(t)
	r, _, _, _, _ := openRound(t, f)

	rounds, err := f.mgr.ListRounds(f.ctx)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, r.ID, rounds[0].ID)

	_, err = f.mgr.RoundMatches(f.ctx, uuid.New())
	require.ErrorIs(t, err, model.ErrNotFound)
}
