package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/store"
)

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func order(user uuid.UUID, side model.Side, shares int64) model.Order {
	return model.Order{
		ID:             uuid.New(),
		UserID:         user,
		SecurityID:     uuid.Nil,
		Side:           side,
		NumberOfShares: decimal.NewFromInt(shares),
		Price:          decimal.NewFromInt(10),
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

func TestAtomic_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := order(uuid.New(), model.SideSell, 100)

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateOrder(ctx, o))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetOrder(ctx, model.SideSell, o.ID)
		return err
	})
	require.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, Stats{Commits: 0, Rollbacks: 1}, s.Stats())
}

func TestAtomic_ReadOnlyCommitIsNotCounted(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.ListRounds(ctx)
		return err
	}))
	assert.Equal(t, int64(0), s.Stats().Commits)
}

func TestView_RejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateRound(ctx, model.Round{ID: uuid.New(), EndTime: base})
	})
	require.ErrorIs(t, err, errReadOnly)
}

func TestAssignPendingOrders(t *testing.T) {
	ctx := context.Background()
	s := New()
	seller := uuid.New()
	roundA, roundB := uuid.New(), uuid.New()

	first := order(seller, model.SideSell, 100)
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateOrder(ctx, first))
		n, err := tx.AssignPendingOrders(ctx, model.SideSell, roundA)
		require.Equal(t, 1, n)
		return err
	}))

	second := order(seller, model.SideSell, 50)
	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateOrder(ctx, second))
		n, err := tx.AssignPendingOrders(ctx, model.SideSell, roundB)
		require.Equal(t, 1, n)
		return err
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.GetOrder(ctx, model.SideSell, first.ID)
		require.NoError(t, err)
		assert.True(t, got.InRound(roundA), "assigned order moved rounds")

		got, err = tx.GetOrder(ctx, model.SideSell, second.ID)
		require.NoError(t, err)
		assert.True(t, got.InRound(roundB))

		n, err := tx.CountUserOrders(ctx, model.SideSell, seller, &roundA)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = tx.CountUserOrders(ctx, model.SideSell, seller, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		return nil
	}))
}

func TestPendingSellSummary(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, o := range []model.Order{
			order(a, model.SideSell, 300),
			order(a, model.SideSell, 200),
			order(b, model.SideSell, 100),
			order(b, model.SideBuy, 999),
		} {
			if err := tx.CreateOrder(ctx, o); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		sum, err := tx.PendingSellSummary(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, sum.DistinctSellers)
		assert.True(t, sum.TotalShares.Equal(decimal.NewFromInt(600)), "total = %s", sum.TotalShares)
		return nil
	}))
}

func TestListEligibleRoundOrders_FiltersPermissions(t *testing.T) {
	ctx := context.Background()
	s := New()
	roundID := uuid.New()
	allowed := model.User{ID: uuid.New(), CanSell: true}
	revoked := model.User{ID: uuid.New(), CanSell: false}

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.CreateUser(ctx, allowed))
		require.NoError(t, tx.CreateUser(ctx, revoked))
		require.NoError(t, tx.CreateOrder(ctx, order(allowed.ID, model.SideSell, 10)))
		require.NoError(t, tx.CreateOrder(ctx, order(revoked.ID, model.SideSell, 10)))
		_, err := tx.AssignPendingOrders(ctx, model.SideSell, roundID)
		return err
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.ListEligibleRoundOrders(ctx, model.SideSell, roundID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, allowed.ID, got[0].UserID)
		return nil
	}))
}

func TestBannedPairsAndChatRoomsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	bp := model.BannedPair{BuyerID: uuid.New(), SellerID: uuid.New(), CreatedAt: base}
	room := model.ChatRoom{ID: uuid.New(), MatchID: uuid.New(), CreatedAt: base}

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
			if err := tx.CreateBannedPair(ctx, bp); err != nil {
				return err
			}
			return tx.CreateChatRoom(ctx, room)
		}))
	}
	assert.Equal(t, int64(1), s.Stats().Commits)

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		bans, err := tx.ListBannedPairs(ctx)
		require.NoError(t, err)
		assert.Len(t, bans, 1)

		got, err := tx.GetChatRoomByMatch(ctx, room.MatchID)
		require.NoError(t, err)
		assert.Equal(t, room.ID, got.ID)
		return nil
	}))
}

func TestListActiveRounds(t *testing.T) {
	ctx := context.Background()
	s := New()
	active := model.Round{ID: uuid.New(), EndTime: base.Add(time.Hour), CreatedAt: base}
	closed := model.Round{ID: uuid.New(), EndTime: base.Add(-time.Hour), CreatedAt: base.Add(-2 * time.Hour)}
	done := model.Round{ID: uuid.New(), EndTime: base.Add(time.Hour), IsConcluded: true, CreatedAt: base}

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, r := range []model.Round{active, closed, done} {
			if err := tx.CreateRound(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.ListActiveRounds(ctx, base)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, active.ID, got[0].ID)

		unconcluded, err := tx.ListUnconcludedRounds(ctx)
		require.NoError(t, err)
		assert.Len(t, unconcluded, 2)
		return nil
	}))
}

func TestCreateMatch_RequiresOrders(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.CreateMatch(ctx, model.Match{ID: uuid.New(), BuyOrderID: uuid.New(), SellOrderID: uuid.New()})
	})
	require.ErrorIs(t, err, model.ErrNotFound)
}
