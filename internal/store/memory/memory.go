// Package memory is an in-process implementation of store.Store.
//
// Writers are serialized by a mutex and work on a copy of the state that
// replaces the live state only when the function returns nil, so a failed
// transaction leaves nothing behind.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/store"
)

var errReadOnly = errors.New("write in read-only transaction")

type state struct {
	users     map[uuid.UUID]model.User
	orders    map[model.Side]map[uuid.UUID]model.Order
	rounds    map[uuid.UUID]model.Round
	matches   map[uuid.UUID]model.Match
	bans      map[[2]uuid.UUID]model.BannedPair
	chatRooms map[uuid.UUID]model.ChatRoom // keyed by match id
}

func newState() *state {
	return &state{
		users: make(map[uuid.UUID]model.User),
		orders: map[model.Side]map[uuid.UUID]model.Order{
			model.SideBuy:  make(map[uuid.UUID]model.Order),
			model.SideSell: make(map[uuid.UUID]model.Order),
		},
		rounds:    make(map[uuid.UUID]model.Round),
		matches:   make(map[uuid.UUID]model.Match),
		bans:      make(map[[2]uuid.UUID]model.BannedPair),
		chatRooms: make(map[uuid.UUID]model.ChatRoom),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for side, m := range s.orders {
		for k, v := range m {
			c.orders[side][k] = v
		}
	}
	for k, v := range s.rounds {
		c.rounds[k] = v
	}
	for k, v := range s.matches {
		c.matches[k] = v
	}
	for k, v := range s.bans {
		c.bans[k] = v
	}
	for k, v := range s.chatRooms {
		c.chatRooms[k] = v
	}
	return c
}

// Stats counts committed transactions.
type Stats struct {
	Commits   int64 // Atomic calls that changed state
	Rollbacks int64 // Atomic calls whose function returned an error
}

// Store is an in-memory store.Store.
type Store struct {
	mu    sync.RWMutex
	state *state
	stats Stats
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

// Atomic implements store.Store.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{state: s.state.clone()}
	if err := fn(ctx, t); err != nil {
		s.stats.Rollbacks++
		return err
	}
	if t.dirty {
		s.state = t.state
		s.stats.Commits++
	}
	return nil
}

// View implements store.Store.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, &tx{state: s.state, readOnly: true})
}

// Stats returns commit counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// tx implements store.Tx over one state snapshot.
type tx struct {
	state    *state
	readOnly bool
	dirty    bool
}

var _ store.Tx = (*tx)(nil)

func (t *tx) write() error {
	if t.readOnly {
		return errReadOnly
	}
	t.dirty = true
	return nil
}

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

func (t *tx) book(side model.Side) (map[uuid.UUID]model.Order, error) {
	m, ok := t.state.orders[side]
	if !ok {
		return nil, fmt.Errorf("%w: unknown side %q", model.ErrInvalidInput, side)
	}
	return m, nil
}

func (t *tx) CreateOrder(_ context.Context, o model.Order) error {
	book, err := t.book(o.Side)
	if err != nil {
		return err
	}
	if _, exists := book[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	if err := t.write(); err != nil {
		return err
	}
	book[o.ID] = o
	return nil
}

func (t *tx) GetOrder(_ context.Context, side model.Side, id uuid.UUID) (model.Order, error) {
	book, err := t.book(side)
	if err != nil {
		return model.Order{}, err
	}
	o, ok := book[id]
	if !ok {
		return model.Order{}, fmt.Errorf("%s order %s: %w", side, id, model.ErrNotFound)
	}
	return o, nil
}

func (t *tx) UpdateOrder(_ context.Context, o model.Order) error {
	book, err := t.book(o.Side)
	if err != nil {
		return err
	}
	existing, ok := book[o.ID]
	if !ok {
		return fmt.Errorf("%s order %s: %w", o.Side, o.ID, model.ErrNotFound)
	}
	if err := t.write(); err != nil {
		return err
	}
	existing.NumberOfShares = o.NumberOfShares
	existing.Price = o.Price
	existing.UpdatedAt = o.UpdatedAt
	book[o.ID] = existing
	return nil
}

func (t *tx) DeleteOrder(_ context.Context, side model.Side, id uuid.UUID) error {
	book, err := t.book(side)
	if err != nil {
		return err
	}
	if _, ok := book[id]; !ok {
		return fmt.Errorf("%s order %s: %w", side, id, model.ErrNotFound)
	}
	if err := t.write(); err != nil {
		return err
	}
	delete(book, id)
	return nil
}

func (t *tx) ListOrdersByUser(_ context.Context, side model.Side, userID uuid.UUID) ([]model.Order, error) {
	return t.filterOrders(side, func(o model.Order) bool { return o.UserID == userID })
}

func (t *tx) CountUserOrders(_ context.Context, side model.Side, userID uuid.UUID, roundID *uuid.UUID) (int, error) {
	orders, err := t.filterOrders(side, func(o model.Order) bool {
		if o.UserID != userID {
			return false
		}
		if roundID == nil {
			return o.Pending()
		}
		return o.InRound(*roundID)
	})
	return len(orders), err
}

func (t *tx) PendingSellSummary(_ context.Context) (store.PendingSellSummary, error) {
	sellers := make(map[uuid.UUID]struct{})
	total := decimal.Zero
	for _, o := range t.state.orders[model.SideSell] {
		if !o.Pending() {
			continue
		}
		sellers[o.UserID] = struct{}{}
		total = total.Add(o.NumberOfShares)
	}
	return store.PendingSellSummary{DistinctSellers: len(sellers), TotalShares: total}, nil
}

func (t *tx) AssignPendingOrders(_ context.Context, side model.Side, roundID uuid.UUID) (int, error) {
	book, err := t.book(side)
	if err != nil {
		return 0, err
	}
	assigned := 0
	for id, o := range book {
		if !o.Pending() {
			continue
		}
		if err := t.write(); err != nil {
			return 0, err
		}
		rid := roundID
		o.RoundID = &rid
		book[id] = o
		assigned++
	}
	return assigned, nil
}

func (t *tx) ListEligibleRoundOrders(_ context.Context, side model.Side, roundID uuid.UUID) ([]model.Order, error) {
	return t.filterOrders(side, func(o model.Order) bool {
		if !o.InRound(roundID) {
			return false
		}
		u, ok := t.state.users[o.UserID]
		return ok && u.CanTrade(side)
	})
}

func (t *tx) filterOrders(side model.Side, keep func(model.Order) bool) ([]model.Order, error) {
	book, err := t.book(side)
	if err != nil {
		return nil, err
	}
	var out []model.Order
	for _, o := range book {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lessByTime(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

// -----------------------------------------------------------------------------
// Rounds
// -----------------------------------------------------------------------------

func (t *tx) CreateRound(_ context.Context, r model.Round) error {
	if _, exists := t.state.rounds[r.ID]; exists {
		return fmt.Errorf("round %s already exists", r.ID)
	}
	if err := t.write(); err != nil {
		return err
	}
	t.state.rounds[r.ID] = r
	return nil
}

func (t *tx) GetRound(_ context.Context, id uuid.UUID) (model.Round, error) {
	r, ok := t.state.rounds[id]
	if !ok {
		return model.Round{}, fmt.Errorf("round %s: %w", id, model.ErrNotFound)
	}
	return r, nil
}

func (t *tx) ListActiveRounds(_ context.Context, now time.Time) ([]model.Round, error) {
	return t.filterRounds(func(r model.Round) bool { return r.Status(now) == model.RoundActive }), nil
}

func (t *tx) ListUnconcludedRounds(_ context.Context) ([]model.Round, error) {
	return t.filterRounds(func(r model.Round) bool { return !r.IsConcluded }), nil
}

func (t *tx) ListRounds(_ context.Context) ([]model.Round, error) {
	return t.filterRounds(func(model.Round) bool { return true }), nil
}

func (t *tx) MarkRoundConcluded(_ context.Context, id uuid.UUID) error {
	r, ok := t.state.rounds[id]
	if !ok {
		return fmt.Errorf("round %s: %w", id, model.ErrNotFound)
	}
	if err := t.write(); err != nil {
		return err
	}
	r.IsConcluded = true
	t.state.rounds[id] = r
	return nil
}

func (t *tx) filterRounds(keep func(model.Round) bool) []model.Round {
	var out []model.Round
	for _, r := range t.state.rounds {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lessByTime(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out
}

// -----------------------------------------------------------------------------
// Matches, bans, users, chat rooms
// -----------------------------------------------------------------------------

func (t *tx) CreateMatch(_ context.Context, m model.Match) error {
	if _, ok := t.state.orders[model.SideBuy][m.BuyOrderID]; !ok {
		return fmt.Errorf("match buy order %s: %w", m.BuyOrderID, model.ErrNotFound)
	}
	if _, ok := t.state.orders[model.SideSell][m.SellOrderID]; !ok {
		return fmt.Errorf("match sell order %s: %w", m.SellOrderID, model.ErrNotFound)
	}
	if err := t.write(); err != nil {
		return err
	}
	t.state.matches[m.ID] = m
	return nil
}

func (t *tx) ListRoundMatches(_ context.Context, roundID uuid.UUID) ([]model.Match, error) {
	var out []model.Match
	for _, m := range t.state.matches {
		sell, ok := t.state.orders[model.SideSell][m.SellOrderID]
		if ok && sell.InRound(roundID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return lessByTime(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID)
	})
	return out, nil
}

func (t *tx) CreateBannedPair(_ context.Context, bp model.BannedPair) error {
	key := [2]uuid.UUID{bp.BuyerID, bp.SellerID}
	if _, exists := t.state.bans[key]; exists {
		return nil
	}
	if err := t.write(); err != nil {
		return err
	}
	t.state.bans[key] = bp
	return nil
}

func (t *tx) ListBannedPairs(_ context.Context) ([]model.BannedPair, error) {
	out := make([]model.BannedPair, 0, len(t.state.bans))
	for _, bp := range t.state.bans {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].BuyerID[:], out[j].BuyerID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].SellerID[:], out[j].SellerID[:]) < 0
	})
	return out, nil
}

func (t *tx) CreateUser(_ context.Context, u model.User) error {
	if err := t.write(); err != nil {
		return err
	}
	t.state.users[u.ID] = u
	return nil
}

func (t *tx) GetUser(_ context.Context, id uuid.UUID) (model.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	return u, nil
}

func (t *tx) ListPermittedUserIDs(_ context.Context, side model.Side) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for id, u := range t.state.users {
		if u.CanTrade(side) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out, nil
}

func (t *tx) CreateChatRoom(_ context.Context, room model.ChatRoom) error {
	if _, exists := t.state.chatRooms[room.MatchID]; exists {
		return nil
	}
	if err := t.write(); err != nil {
		return err
	}
	t.state.chatRooms[room.MatchID] = room
	return nil
}

func (t *tx) GetChatRoomByMatch(_ context.Context, matchID uuid.UUID) (model.ChatRoom, error) {
	room, ok := t.state.chatRooms[matchID]
	if !ok {
		return model.ChatRoom{}, fmt.Errorf("chat room for match %s: %w", matchID, model.ErrNotFound)
	}
	return room, nil
}

func (t *tx) ListMatchesWithoutRoom(_ context.Context) ([]store.MatchParties, error) {
	var out []store.MatchParties
	for id, m := range t.state.matches {
		if _, ok := t.state.chatRooms[id]; ok {
			continue
		}
		out = append(out, store.MatchParties{
			Match:    m,
			BuyerID:  t.state.orders[model.SideBuy][m.BuyOrderID].UserID,
			SellerID: t.state.orders[model.SideSell][m.SellOrderID].UserID,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return lessByTime(out[i].Match.CreatedAt, out[j].Match.CreatedAt, out[i].Match.ID, out[j].Match.ID)
	})
	return out, nil
}

func lessByTime(ti, tj time.Time, idi, idj uuid.UUID) bool {
	if !ti.Equal(tj) {
		return ti.Before(tj)
	}
	return bytes.Compare(idi[:], idj[:]) < 0
}
