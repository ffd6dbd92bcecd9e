package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind selects the message template on the delivery side.
type Kind string

const (
	KindRoundOpenedSeller      Kind = "round_opened_seller"
	KindRoundOpenedBuyer       Kind = "round_opened_buyer"
	KindRoundClosingSoonSeller Kind = "round_closing_soon_seller"
	KindRoundClosingSoonBuyer  Kind = "round_closing_soon_buyer"
	KindMatchDoneHasMatch      Kind = "match_done_has_match"
	KindMatchDoneNoMatch       Kind = "match_done_no_match"
	KindCreateSellOrder        Kind = "create_sell_order"
	KindCreateBuyOrder         Kind = "create_buy_order"
	KindEditSellOrder          Kind = "edit_sell_order"
	KindEditBuyOrder           Kind = "edit_buy_order"
)

// Notification is one message addressed to a set of users.
type Notification struct {
	ID        uuid.UUID         `json:"id"`
	Kind      Kind              `json:"kind"`
	UserIDs   []uuid.UUID       `json:"user_ids"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Gateway accepts notifications for asynchronous delivery.
type Gateway interface {
	// Notify enqueues a notification. It does not wait for delivery.
	Notify(ctx context.Context, userIDs []uuid.UUID, kind Kind, data map[string]string) error
}
