// Package store defines the repositories the marketplace core is written
// against and the transaction boundary that makes each state change atomic.
//
// Implementations:
//   - store/postgres: pgx-backed, writers serialized by an advisory lock
//   - store/memory:   mutex-serialized, copy-on-commit (tests and local runs)
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/acquity/roundmarket/internal/model"
)

// Store runs functions inside a transaction.
type Store interface {
	// Atomic runs fn in a read-write transaction. Writers are serialized;
	// if fn returns an error nothing it did is kept.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of repositories available inside a transaction.
type Tx interface {
	OrderRepository
	RoundRepository
	MatchRepository
	BannedPairRepository
	UserRepository
	ChatRoomRepository
}

// PendingSellSummary aggregates unassigned sell orders for the cutoff check.
type PendingSellSummary struct {
	DistinctSellers int
	TotalShares     decimal.Decimal
}

// OrderRepository stores buy and sell orders.
type OrderRepository interface {
	CreateOrder(ctx context.Context, o model.Order) error
	// GetOrder returns model.ErrNotFound for an unknown id.
	GetOrder(ctx context.Context, side model.Side, id uuid.UUID) (model.Order, error)
	// UpdateOrder persists NumberOfShares, Price and UpdatedAt only.
	UpdateOrder(ctx context.Context, o model.Order) error
	DeleteOrder(ctx context.Context, side model.Side, id uuid.UUID) error
	ListOrdersByUser(ctx context.Context, side model.Side, userID uuid.UUID) ([]model.Order, error)

	// CountUserOrders counts a user's orders in roundID, or in the pending
	// pool when roundID is nil.
	CountUserOrders(ctx context.Context, side model.Side, userID uuid.UUID, roundID *uuid.UUID) (int, error)

	PendingSellSummary(ctx context.Context) (PendingSellSummary, error)

	// AssignPendingOrders sets RoundID on every pending order of side and
	// returns how many were assigned. Assigned orders are never touched.
	AssignPendingOrders(ctx context.Context, side model.Side, roundID uuid.UUID) (int, error)

	// ListEligibleRoundOrders returns the round's orders whose owners are
	// currently permitted to trade side.
	ListEligibleRoundOrders(ctx context.Context, side model.Side, roundID uuid.UUID) ([]model.Order, error)
}

// RoundRepository stores rounds.
type RoundRepository interface {
	CreateRound(ctx context.Context, r model.Round) error
	// GetRound returns model.ErrNotFound for an unknown id. Inside Atomic
	// the row stays locked until the transaction ends.
	GetRound(ctx context.Context, id uuid.UUID) (model.Round, error)
	// ListActiveRounds returns unconcluded rounds with EndTime >= now.
	ListActiveRounds(ctx context.Context, now time.Time) ([]model.Round, error)
	ListUnconcludedRounds(ctx context.Context) ([]model.Round, error)
	ListRounds(ctx context.Context) ([]model.Round, error)
	MarkRoundConcluded(ctx context.Context, id uuid.UUID) error
}

// MatchRepository stores matches.
type MatchRepository interface {
	CreateMatch(ctx context.Context, m model.Match) error
	// ListRoundMatches returns matches whose sell order belongs to roundID.
	ListRoundMatches(ctx context.Context, roundID uuid.UUID) ([]model.Match, error)
}

// BannedPairRepository stores directed bans.
type BannedPairRepository interface {
	// CreateBannedPair is a no-op if the pair already exists.
	CreateBannedPair(ctx context.Context, bp model.BannedPair) error
	ListBannedPairs(ctx context.Context) ([]model.BannedPair, error)
}

// UserRepository reads users and their trading permissions.
type UserRepository interface {
	CreateUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	// ListPermittedUserIDs returns users allowed to trade side.
	ListPermittedUserIDs(ctx context.Context, side model.Side) ([]uuid.UUID, error)
}

// MatchParties is a match with the users behind each order.
type MatchParties struct {
	Match    model.Match
	BuyerID  uuid.UUID
	SellerID uuid.UUID
}

// ChatRoomRepository stores chat rooms opened for matches.
type ChatRoomRepository interface {
	// CreateChatRoom is a no-op if a room already exists for the match.
	CreateChatRoom(ctx context.Context, room model.ChatRoom) error
	GetChatRoomByMatch(ctx context.Context, matchID uuid.UUID) (model.ChatRoom, error)
	// ListMatchesWithoutRoom returns matches that have no chat room yet,
	// oldest first.
	ListMatchesWithoutRoom(ctx context.Context) ([]MatchParties, error)
}
