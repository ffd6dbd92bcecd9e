// Package chat opens the chat room a matched buyer and seller use to settle
// their trade. Message transport lives elsewhere; this package only records
// that a room exists for a match.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/acquity/roundmarket/internal/clock"
	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/store"
)

// Factory creates chat rooms in the store.
type Factory struct {
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger
}

// NewFactory creates a Factory.
func NewFactory(st store.Store, clk clock.Clock, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Factory{store: st, clock: clk, logger: logger}
}

// OpenRoom creates the room for matchID. Opening a room for a match that
// already has one returns the existing room.
func (f *Factory) OpenRoom(ctx context.Context, buyerID, sellerID, matchID uuid.UUID) (model.ChatRoom, error) {
	if buyerID == sellerID {
		return model.ChatRoom{}, fmt.Errorf("%w: chat room needs two distinct users", model.ErrInvalidInput)
	}

	var room model.ChatRoom
	err := f.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.CreateChatRoom(ctx, model.ChatRoom{
			ID:        uuid.New(),
			BuyerID:   buyerID,
			SellerID:  sellerID,
			MatchID:   matchID,
			CreatedAt: f.clock.Now(),
		}); err != nil {
			return err
		}
		var err error
		room, err = tx.GetChatRoomByMatch(ctx, matchID)
		return err
	})
	if err != nil {
		return model.ChatRoom{}, fmt.Errorf("open chat room for match %s: %w", matchID, err)
	}

	f.logger.Debug("chat room opened", "room_id", room.ID, "match_id", matchID)
	return room, nil
}
