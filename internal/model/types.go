package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

// Side identifies which book an order belongs to.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// ParseSide converts "buy"/"sell" into a Side.
func ParseSide(s string) (Side, error) {
	side := Side(s)
	if !side.Valid() {
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidInput, s)
	}
	return side, nil
}

// Order is a buy or sell order. Both sides share the same shape.
type Order struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	SecurityID     uuid.UUID
	Side           Side
	NumberOfShares decimal.Decimal // > 0
	Price          decimal.Decimal // >= 0
	RoundID        *uuid.UUID      // nil while pending; assigned once by the round manager
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pending reports whether the order has not been assigned to a round yet.
func (o Order) Pending() bool {
	return o.RoundID == nil
}

// InRound reports whether the order is assigned to the given round.
func (o Order) InRound(roundID uuid.UUID) bool {
	return o.RoundID != nil && *o.RoundID == roundID
}

// -----------------------------------------------------------------------------
// Rounds
// -----------------------------------------------------------------------------

// RoundStatus is derived from a round's EndTime and IsConcluded flag; it is never stored.
type RoundStatus int

const (
	RoundActive    RoundStatus = iota // EndTime >= now, not concluded
	RoundClosed                       // EndTime < now, awaiting conclusion
	RoundConcluded                    // matches computed, terminal
)

func (s RoundStatus) String() string {
	switch s {
	case RoundActive:
		return "active"
	case RoundClosed:
		return "closed"
	case RoundConcluded:
		return "concluded"
	default:
		return "unknown"
	}
}

// Round is a time-boxed batch window. EndTime is fixed at creation.
type Round struct {
	ID          uuid.UUID
	EndTime     time.Time
	IsConcluded bool
	CreatedAt   time.Time
}

// Status derives the round's status at now.
func (r Round) Status(now time.Time) RoundStatus {
	switch {
	case r.IsConcluded:
		return RoundConcluded
	case !r.EndTime.Before(now):
		return RoundActive
	default:
		return RoundClosed
	}
}

// -----------------------------------------------------------------------------
// Matching records
// -----------------------------------------------------------------------------

// BannedPair is a directed ban. Bans are always written in both directions.
type BannedPair struct {
	BuyerID   uuid.UUID
	SellerID  uuid.UUID
	CreatedAt time.Time
}

// Match pairs a buy order with a sell order. Created during conclusion only.
type Match struct {
	ID          uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	CreatedAt   time.Time
}

// ChatRoom is opened between the two sides of a match.
type ChatRoom struct {
	ID        uuid.UUID
	BuyerID   uuid.UUID
	SellerID  uuid.UUID
	MatchID   uuid.UUID
	CreatedAt time.Time
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

// User carries only what the core needs: contact details and trading permissions.
type User struct {
	ID       uuid.UUID
	Email    string
	FullName string
	CanBuy   bool
	CanSell  bool
}

// CanTrade reports whether the user may place orders on side.
func (u User) CanTrade(side Side) bool {
	switch side {
	case SideBuy:
		return u.CanBuy
	case SideSell:
		return u.CanSell
	default:
		return false
	}
}
