package round

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a public round event.
type EventType string

const (
	EventRoundOpened      EventType = "round_opened"
	EventRoundClosingSoon EventType = "round_closing_soon"
	EventRoundConcluded   EventType = "round_concluded"
)

// Event is a round state change that carries no user data and may be
// broadcast to anyone.
type Event struct {
	Type    EventType `json:"type"`
	RoundID uuid.UUID `json:"round_id"`
	EndTime time.Time `json:"end_time"`
	Matches int       `json:"matches,omitempty"`
	At      time.Time `json:"at"`
}

// EventSink receives round events. Implementations must not block.
type EventSink interface {
	PublishRoundEvent(ctx context.Context, ev Event)
}
