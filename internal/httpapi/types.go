package httpapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/acquity/roundmarket/internal/model"
)

// RoundResponse is a round as returned by the API.
type RoundResponse struct {
	ID          uuid.UUID `json:"id"`
	EndTime     time.Time `json:"end_time"`
	IsConcluded bool      `json:"is_concluded"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// MatchResponse is a match as returned by the API.
type MatchResponse struct {
	ID          uuid.UUID `json:"id"`
	BuyOrderID  uuid.UUID `json:"buy_order_id"`
	SellOrderID uuid.UUID `json:"sell_order_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// OrderResponse is an order as returned by the API. RoundID is null while
// the order is pending.
type OrderResponse struct {
	ID             uuid.UUID       `json:"id"`
	Side           string          `json:"side"`
	SecurityID     uuid.UUID       `json:"security_id"`
	NumberOfShares decimal.Decimal `json:"number_of_shares"`
	Price          decimal.Decimal `json:"price"`
	RoundID        *uuid.UUID      `json:"round_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SubmitOrderRequest is the body of POST /api/v1/orders/{side}.
type SubmitOrderRequest struct {
	SecurityID     uuid.UUID       `json:"security_id"`
	NumberOfShares decimal.Decimal `json:"number_of_shares"`
	Price          decimal.Decimal `json:"price"`
}

// EditOrderRequest is the body of PATCH /api/v1/orders/{side}/{id}.
type EditOrderRequest struct {
	NumberOfShares *decimal.Decimal `json:"number_of_shares,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
}

// BanRequest is the body of POST /api/v1/bans.
type BanRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Clients int    `json:"stream_clients"`
}

func newRoundResponse(r model.Round, now time.Time) RoundResponse {
	return RoundResponse{
		ID:          r.ID,
		EndTime:     r.EndTime,
		IsConcluded: r.IsConcluded,
		Status:      r.Status(now).String(),
		CreatedAt:   r.CreatedAt,
	}
}

func newMatchResponse(m model.Match) MatchResponse {
	return MatchResponse{
		ID:          m.ID,
		BuyOrderID:  m.BuyOrderID,
		SellOrderID: m.SellOrderID,
		CreatedAt:   m.CreatedAt,
	}
}

func newOrderResponse(o model.Order) OrderResponse {
	return OrderResponse{
		ID:             o.ID,
		Side:           string(o.Side),
		SecurityID:     o.SecurityID,
		NumberOfShares: o.NumberOfShares,
		Price:          o.Price,
		RoundID:        o.RoundID,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}
