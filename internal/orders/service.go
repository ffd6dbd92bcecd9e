package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/acquity/roundmarket/internal/clock"
	"github.com/acquity/roundmarket/internal/metrics"
	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/notify"
	"github.com/acquity/roundmarket/internal/store"
)

// Limits caps how many orders a user may hold per side in one round.
type Limits struct {
	SellOrdersPerRound int
	BuyOrdersPerRound  int
}

// DefaultLimits returns the standard caps.
func DefaultLimits() Limits {
	return Limits{SellOrdersPerRound: 2, BuyOrdersPerRound: 1}
}

func (l Limits) forSide(side model.Side) int {
	if side == model.SideSell {
		return l.SellOrdersPerRound
	}
	return l.BuyOrdersPerRound
}

// RoundLifecycle is the part of the round manager the intake gate needs.
type RoundLifecycle interface {
	ActiveIn(ctx context.Context, tx store.Tx) (*model.Round, error)
	StartIfDue(ctx context.Context, tx store.Tx) (*model.Round, error)
	Announce(ctx context.Context, r model.Round)
}

// SubmitRequest describes a new order.
type SubmitRequest struct {
	UserID         uuid.UUID
	SecurityID     uuid.UUID
	NumberOfShares decimal.Decimal
	Price          decimal.Decimal
}

// EditRequest changes an order's size or price. Nil fields are unchanged.
type EditRequest struct {
	NumberOfShares *decimal.Decimal
	Price          *decimal.Decimal
}

// Service accepts, edits and cancels orders.
type Service struct {
	store    store.Store
	rounds   RoundLifecycle
	notifier notify.Gateway
	limits   Limits
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithMetrics counts submissions and rejections.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a Service.
func NewService(st store.Store, rounds RoundLifecycle, notifier notify.Gateway, limits Limits, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    st,
		rounds:   rounds,
		notifier: notifier,
		limits:   limits,
		clock:    clock.Real{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitSellOrder places a sell order and opens a round if the pending
// pool now meets a cutoff.
func (s *Service) SubmitSellOrder(ctx context.Context, req SubmitRequest) (model.Order, error) {
	return s.submit(ctx, model.SideSell, req)
}

// SubmitBuyOrder places a buy order. Buy orders never open a round.
func (s *Service) SubmitBuyOrder(ctx context.Context, req SubmitRequest) (model.Order, error) {
	return s.submit(ctx, model.SideBuy, req)
}

func (s *Service) submit(ctx context.Context, side model.Side, req SubmitRequest) (model.Order, error) {
	if err := validateAmounts(req.NumberOfShares, req.Price); err != nil {
		s.metrics.OrderRejected(string(side), rejectReason(err))
		return model.Order{}, err
	}

	var (
		order   model.Order
		started *model.Round
	)
	err := s.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		user, err := tx.GetUser(ctx, req.UserID)
		if err != nil {
			return err
		}
		if !user.CanTrade(side) {
			return fmt.Errorf("%w: user cannot place %s orders", model.ErrUnauthorized, side)
		}

		active, err := s.rounds.ActiveIn(ctx, tx)
		if err != nil {
			return err
		}
		var target *uuid.UUID
		if active != nil {
			id := active.ID
			target = &id
		}

		count, err := tx.CountUserOrders(ctx, side, user.ID, target)
		if err != nil {
			return fmt.Errorf("count orders: %w", err)
		}
		if limit := s.limits.forSide(side); count >= limit {
			return fmt.Errorf("%w: limit of %d %s orders per round reached", model.ErrUnauthorized, limit, side)
		}

		now := s.clock.Now()
		order = model.Order{
			ID:             uuid.New(),
			UserID:         user.ID,
			SecurityID:     req.SecurityID,
			Side:           side,
			NumberOfShares: req.NumberOfShares,
			Price:          req.Price,
			RoundID:        target,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		if side != model.SideSell || active != nil {
			return nil
		}
		started, err = s.rounds.StartIfDue(ctx, tx)
		if err != nil {
			return err
		}
		if started != nil {
			id := started.ID
			order.RoundID = &id
		}
		return nil
	})
	if err != nil {
		s.metrics.OrderRejected(string(side), rejectReason(err))
		if errors.Is(err, model.ErrInvariantViolation) {
			s.logger.Error("order submission aborted", "side", side, "user_id", req.UserID, "error", err)
		}
		return model.Order{}, err
	}

	s.metrics.OrderSubmitted(string(side))
	s.logger.Debug("order submitted",
		"side", side,
		"order_id", order.ID,
		"user_id", order.UserID,
		"pending", order.Pending(),
	)

	if started != nil {
		s.rounds.Announce(ctx, *started)
	}
	s.notifyOwner(ctx, order, createKind(side))
	return order, nil
}

// EditOrder changes the size or price of an order owned by subjectID. The
// order keeps its round and the cutoff is not re-evaluated.
func (s *Service) EditOrder(ctx context.Context, side model.Side, id, subjectID uuid.UUID, req EditRequest) (model.Order, error) {
	if req.NumberOfShares == nil && req.Price == nil {
		return model.Order{}, fmt.Errorf("%w: nothing to edit", model.ErrInvalidInput)
	}
	shares, price := decimal.NewFromInt(1), decimal.Zero
	if req.NumberOfShares != nil {
		shares = *req.NumberOfShares
	}
	if req.Price != nil {
		price = *req.Price
	}
	if err := validateAmounts(shares, price); err != nil {
		return model.Order{}, err
	}

	var order model.Order
	err := s.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		order, err = s.ownedMutable(ctx, tx, side, id, subjectID)
		if err != nil {
			return err
		}
		if req.NumberOfShares != nil {
			order.NumberOfShares = *req.NumberOfShares
		}
		if req.Price != nil {
			order.Price = *req.Price
		}
		order.UpdatedAt = s.clock.Now()
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return model.Order{}, err
	}

	s.notifyOwner(ctx, order, editKind(side))
	return order, nil
}

// CancelOrder deletes an order owned by subjectID.
func (s *Service) CancelOrder(ctx context.Context, side model.Side, id, subjectID uuid.UUID) error {
	return s.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := s.ownedMutable(ctx, tx, side, id, subjectID); err != nil {
			return err
		}
		return tx.DeleteOrder(ctx, side, id)
	})
}

// ownedMutable loads an order that subjectID owns and whose round, if any,
// has not concluded.
func (s *Service) ownedMutable(ctx context.Context, tx store.Tx, side model.Side, id, subjectID uuid.UUID) (model.Order, error) {
	o, err := tx.GetOrder(ctx, side, id)
	if err != nil {
		return model.Order{}, err
	}
	if o.UserID != subjectID {
		return model.Order{}, fmt.Errorf("%w: order %s is not owned by user", model.ErrUnauthorized, id)
	}
	if o.RoundID == nil {
		return o, nil
	}
	r, err := tx.GetRound(ctx, *o.RoundID)
	if err != nil {
		return model.Order{}, err
	}
	if r.IsConcluded {
		return model.Order{}, fmt.Errorf("%w: order %s belongs to concluded round %s", model.ErrUnauthorized, id, r.ID)
	}
	return o, nil
}

// GetOrder returns an order owned by subjectID.
func (s *Service) GetOrder(ctx context.Context, side model.Side, id, subjectID uuid.UUID) (model.Order, error) {
	var o model.Order
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = tx.GetOrder(ctx, side, id)
		return err
	})
	if err != nil {
		return model.Order{}, err
	}
	if o.UserID != subjectID {
		return model.Order{}, fmt.Errorf("%w: order %s is not owned by user", model.ErrUnauthorized, id)
	}
	return o, nil
}

// ListOrders returns userID's orders on side.
func (s *Service) ListOrders(ctx context.Context, side model.Side, userID uuid.UUID) ([]model.Order, error) {
	var orders []model.Order
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		orders, err = tx.ListOrdersByUser(ctx, side, userID)
		return err
	})
	return orders, err
}

// BanUser stops userID and otherUserID from being matched, in either role.
func (s *Service) BanUser(ctx context.Context, userID, otherUserID uuid.UUID) error {
	if userID == otherUserID {
		return fmt.Errorf("%w: cannot ban yourself", model.ErrInvalidInput)
	}
	return s.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []uuid.UUID{userID, otherUserID} {
			if _, err := tx.GetUser(ctx, id); err != nil {
				return err
			}
		}
		now := s.clock.Now()
		for _, bp := range []model.BannedPair{
			{BuyerID: userID, SellerID: otherUserID, CreatedAt: now},
			{BuyerID: otherUserID, SellerID: userID, CreatedAt: now},
		} {
			if err := tx.CreateBannedPair(ctx, bp); err != nil {
				return fmt.Errorf("create banned pair: %w", err)
			}
		}
		return nil
	})
}

func (s *Service) notifyOwner(ctx context.Context, o model.Order, kind notify.Kind) {
	data := map[string]string{
		"order_id":         o.ID.String(),
		"number_of_shares": o.NumberOfShares.String(),
		"price":            o.Price.String(),
	}
	if err := s.notifier.Notify(ctx, []uuid.UUID{o.UserID}, kind, data); err != nil {
		s.logger.Error("failed to send order notice", "kind", kind, "order_id", o.ID, "error", err)
	}
}

func validateAmounts(shares, price decimal.Decimal) error {
	if !shares.IsPositive() {
		return fmt.Errorf("%w: number of shares must be positive, got %s", model.ErrInvalidInput, shares)
	}
	if price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative, got %s", model.ErrInvalidInput, price)
	}
	return nil
}

func createKind(side model.Side) notify.Kind {
	if side == model.SideSell {
		return notify.KindCreateSellOrder
	}
	return notify.KindCreateBuyOrder
}

func editKind(side model.Side) notify.Kind {
	if side == model.SideSell {
		return notify.KindEditSellOrder
	}
	return notify.KindEditBuyOrder
}

// rejectReason labels a rejection for metrics.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrInvariantViolation):
		return "invariant_violation"
	default:
		return "error"
	}
}
