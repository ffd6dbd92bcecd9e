package round

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/acquity/roundmarket/internal/matching"
	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/notify"
	"github.com/acquity/roundmarket/internal/scheduler"
	"github.com/acquity/roundmarket/internal/store"
)

// Conclusion is the outcome of ConcludeRound.
type Conclusion struct {
	RoundID uuid.UUID
	Matches []model.Match
	// AlreadyConcluded is set when the round had been concluded before the
	// call; Matches is then empty and nothing was written.
	AlreadyConcluded bool
}

// snapshot holds the round's eligible orders keyed by id.
type snapshot struct {
	buys  map[uuid.UUID]model.Order
	sells map[uuid.UUID]model.Order
}

// ConcludeRound matches the round's orders and marks it concluded, all in
// one transaction. It returns model.ErrRoundNotDue before the round's end
// time and wraps model.ErrInvariantViolation for an unknown round id.
// After commit it opens a chat room per match and notifies participants.
func (m *Manager) ConcludeRound(ctx context.Context, roundID uuid.UUID) (Conclusion, error) {
	result := Conclusion{RoundID: roundID}
	var snap snapshot

	err := m.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		r, err := tx.GetRound(ctx, roundID)
		if errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("%w: conclude unknown round %s", model.ErrInvariantViolation, roundID)
		}
		if err != nil {
			return fmt.Errorf("get round: %w", err)
		}
		if r.IsConcluded {
			result.AlreadyConcluded = true
			return nil
		}
		now := m.clock.Now()
		if r.EndTime.After(now) {
			return fmt.Errorf("%w: round %s ends at %s", model.ErrRoundNotDue, roundID, r.EndTime)
		}

		buys, err := tx.ListEligibleRoundOrders(ctx, model.SideBuy, roundID)
		if err != nil {
			return err
		}
		sells, err := tx.ListEligibleRoundOrders(ctx, model.SideSell, roundID)
		if err != nil {
			return err
		}
		bans, err := tx.ListBannedPairs(ctx)
		if err != nil {
			return err
		}

		pairs := matching.Match(buys, matching.DuplicateSellOrders(sells), bans)
		matches := make([]model.Match, 0, len(pairs))
		for _, p := range pairs {
			match := model.Match{
				ID:          uuid.New(),
				BuyOrderID:  p.BuyOrderID,
				SellOrderID: p.SellOrderID,
				CreatedAt:   now,
			}
			if err := tx.CreateMatch(ctx, match); err != nil {
				return fmt.Errorf("create match: %w", err)
			}
			matches = append(matches, match)
		}
		if err := tx.MarkRoundConcluded(ctx, roundID); err != nil {
			return fmt.Errorf("mark round concluded: %w", err)
		}

		result.Matches = matches
		snap = snapshot{buys: indexOrders(buys), sells: indexOrders(sells)}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrInvariantViolation) {
			m.logger.Error("round conclusion aborted", "round_id", roundID, "error", err)
		}
		return Conclusion{}, err
	}

	if result.AlreadyConcluded {
		m.logger.Info("round already concluded", "round_id", roundID)
		return result, nil
	}

	m.logger.Info("round concluded",
		"round_id", roundID,
		"matches", len(result.Matches),
		"buy_orders", len(snap.buys),
		"sell_orders", len(snap.sells),
	)
	m.metrics.RoundConcluded(len(result.Matches))

	m.openRooms(ctx, result.Matches, snap)
	m.notifyResults(ctx, roundID, result.Matches, snap)
	m.publish(ctx, Event{Type: EventRoundConcluded, RoundID: roundID, Matches: len(result.Matches)})
	return result, nil
}

func (m *Manager) openRooms(ctx context.Context, matches []model.Match, snap snapshot) {
	for _, match := range matches {
		buyer := snap.buys[match.BuyOrderID].UserID
		seller := snap.sells[match.SellOrderID].UserID
		if _, err := m.chat.OpenRoom(ctx, buyer, seller, match.ID); err != nil {
			m.logger.Error("failed to open chat room", "match_id", match.ID, "error", err)
		}
	}
}

// notifyResults tells owners of matched orders they have a match and every
// other participant of the round that they do not.
func (m *Manager) notifyResults(ctx context.Context, roundID uuid.UUID, matches []model.Match, snap snapshot) {
	matched := make(map[uuid.UUID]struct{})
	for _, match := range matches {
		matched[snap.buys[match.BuyOrderID].UserID] = struct{}{}
		matched[snap.sells[match.SellOrderID].UserID] = struct{}{}
	}

	unmatched := make(map[uuid.UUID]struct{})
	for _, orders := range []map[uuid.UUID]model.Order{snap.buys, snap.sells} {
		for _, o := range orders {
			if _, ok := matched[o.UserID]; !ok {
				unmatched[o.UserID] = struct{}{}
			}
		}
	}

	data := map[string]string{"round_id": roundID.String()}
	m.send(ctx, sortedIDs(matched), notify.KindMatchDoneHasMatch, data)
	m.send(ctx, sortedIDs(unmatched), notify.KindMatchDoneNoMatch, data)
}

// SendClosingSoonNotice reminds permitted users that the active round ends
// soon. It returns model.ErrNotFound when no round is active.
func (m *Manager) SendClosingSoonNotice(ctx context.Context) error {
	active, err := m.GetActive(ctx)
	if err != nil {
		return err
	}
	if active == nil {
		return fmt.Errorf("%w: no active round", model.ErrNotFound)
	}
	m.sendClosingSoon(ctx, *active)
	return nil
}

func (m *Manager) sendClosingSoon(ctx context.Context, r model.Round) {
	data := map[string]string{
		"round_id": r.ID.String(),
		"end_date": m.formatDate(r.EndTime),
	}
	m.notifyPermitted(ctx, model.SideSell, notify.KindRoundClosingSoonSeller, data)
	m.notifyPermitted(ctx, model.SideBuy, notify.KindRoundClosingSoonBuyer, data)
	m.publish(ctx, Event{Type: EventRoundClosingSoon, RoundID: r.ID, EndTime: r.EndTime})
}

// HandleTask executes a scheduler task.
func (m *Manager) HandleTask(ctx context.Context, task scheduler.Task) error {
	switch task.Kind {
	case scheduler.KindConcludeRound:
		_, err := m.ConcludeRound(ctx, task.RoundID)
		return err

	case scheduler.KindClosingSoon:
		active, err := m.GetActive(ctx)
		if err != nil {
			return err
		}
		if active == nil || active.ID != task.RoundID {
			m.logger.Info("skipping closing soon notice for inactive round", "round_id", task.RoundID)
			return nil
		}
		m.sendClosingSoon(ctx, *active)
		return nil

	default:
		return fmt.Errorf("%w: unknown task kind %q", model.ErrInvalidInput, task.Kind)
	}
}

// Recover re-registers tasks for every unconcluded round and opens chat
// rooms for matches that have none. Both steps are idempotent, so it runs on
// every start and periodically from RunRecovery.
func (m *Manager) Recover(ctx context.Context) error {
	var (
		rounds   []model.Round
		roomless []store.MatchParties
	)
	err := m.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		if rounds, err = tx.ListUnconcludedRounds(ctx); err != nil {
			return fmt.Errorf("list unconcluded rounds: %w", err)
		}
		if roomless, err = tx.ListMatchesWithoutRoom(ctx); err != nil {
			return fmt.Errorf("list matches without chat room: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	now := m.clock.Now()
	var errs []error
	for _, r := range rounds {
		if err := m.tasks.ScheduleAt(ctx, r.EndTime, scheduler.KindConcludeRound, r.ID); err != nil {
			errs = append(errs, fmt.Errorf("schedule conclusion of round %s: %w", r.ID, err))
		}
		if m.cfg.ClosingSoonLead <= 0 {
			continue
		}
		if at := r.EndTime.Add(-m.cfg.ClosingSoonLead); at.After(now) {
			if err := m.tasks.ScheduleAt(ctx, at, scheduler.KindClosingSoon, r.ID); err != nil {
				errs = append(errs, fmt.Errorf("schedule reminder for round %s: %w", r.ID, err))
			}
		}
	}

	for _, p := range roomless {
		if _, err := m.chat.OpenRoom(ctx, p.BuyerID, p.SellerID, p.Match.ID); err != nil {
			errs = append(errs, err)
		}
	}

	log := m.logger.Debug
	if len(roomless) > 0 || len(errs) > 0 {
		log = m.logger.Info
	}
	log("recovered round tasks",
		"rounds", len(rounds),
		"rooms_backfilled", len(roomless),
		"failed", len(errs),
	)
	return errors.Join(errs...)
}

// RunRecovery calls Recover every RecoverInterval until ctx is cancelled.
func (m *Manager) RunRecovery(ctx context.Context) error {
	if m.cfg.RecoverInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(m.cfg.RecoverInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Recover(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("recovery sweep failed", "error", err)
			}
		}
	}
}

// ListRounds returns every round, oldest first.
func (m *Manager) ListRounds(ctx context.Context) ([]model.Round, error) {
	var rounds []model.Round
	err := m.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rounds, err = tx.ListRounds(ctx)
		return err
	})
	return rounds, err
}

// RoundMatches returns the matches made when roundID concluded.
func (m *Manager) RoundMatches(ctx context.Context, roundID uuid.UUID) ([]model.Match, error) {
	var matches []model.Match
	err := m.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetRound(ctx, roundID); err != nil {
			return err
		}
		var err error
		matches, err = tx.ListRoundMatches(ctx, roundID)
		return err
	})
	return matches, err
}

func indexOrders(orders []model.Order) map[uuid.UUID]model.Order {
	out := make(map[uuid.UUID]model.Order, len(orders))
	for _, o := range orders {
		out[o.ID] = o
	}
	return out
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}
