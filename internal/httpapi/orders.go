package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/orders"
)

// DefaultUserHeader carries the caller's user id, set by the authenticating
// gateway in front of marketd.
const DefaultUserHeader = "X-User-ID"

var errUnauthenticated = errors.New("missing or invalid user identity")

// OrderService is the order intake gate.
type OrderService interface {
	SubmitSellOrder(ctx context.Context, req orders.SubmitRequest) (model.Order, error)
	SubmitBuyOrder(ctx context.Context, req orders.SubmitRequest) (model.Order, error)
	EditOrder(ctx context.Context, side model.Side, id, subjectID uuid.UUID, req orders.EditRequest) (model.Order, error)
	CancelOrder(ctx context.Context, side model.Side, id, subjectID uuid.UUID) error
	GetOrder(ctx context.Context, side model.Side, id, subjectID uuid.UUID) (model.Order, error)
	ListOrders(ctx context.Context, side model.Side, userID uuid.UUID) ([]model.Order, error)
	BanUser(ctx context.Context, userID, otherUserID uuid.UUID) error
}

func (s *Server) setupOrderRoutes(api *mux.Router) {
	api.HandleFunc("/orders/{side}", s.handleSubmitOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{side}", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{side}/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{side}/{id}", s.handleEditOrder).Methods(http.MethodPatch)
	api.HandleFunc("/orders/{side}/{id}", s.handleCancelOrder).Methods(http.MethodDelete)
	api.HandleFunc("/bans", s.handleBanUser).Methods(http.MethodPost)
}

// caller returns the authenticated user id from the identity header.
func (s *Server) caller(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(s.cfg.UserHeader)
	if raw == "" {
		return uuid.Nil, errUnauthenticated
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	return id, nil
}

// orderTarget parses caller, side and (when present) order id.
func (s *Server) orderTarget(r *http.Request) (user uuid.UUID, side model.Side, id uuid.UUID, err error) {
	if user, err = s.caller(r); err != nil {
		return
	}
	vars := mux.Vars(r)
	if side, err = model.ParseSide(vars["side"]); err != nil {
		return
	}
	if raw, ok := vars["id"]; ok {
		if id, err = uuid.Parse(raw); err != nil {
			err = fmt.Errorf("%w: order id: %v", model.ErrInvalidInput, err)
		}
	}
	return
}

func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: body: %v", model.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	user, side, _, err := s.orderTarget(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var body SubmitOrderRequest
	if err := decodeBody(r, &body); err != nil {
		s.respondErr(w, r, err)
		return
	}

	req := orders.SubmitRequest{
		UserID:         user,
		SecurityID:     body.SecurityID,
		NumberOfShares: body.NumberOfShares,
		Price:          body.Price,
	}
	var o model.Order
	if side == model.SideSell {
		o, err = s.orders.SubmitSellOrder(r.Context(), req)
	} else {
		o, err = s.orders.SubmitBuyOrder(r.Context(), req)
	}
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newOrderResponse(o))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	user, side, _, err := s.orderTarget(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	list, err := s.orders.ListOrders(r.Context(), side, user)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	resp := make([]OrderResponse, len(list))
	for i, o := range list {
		resp[i] = newOrderResponse(o)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	user, side, id, err := s.orderTarget(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	o, err := s.orders.GetOrder(r.Context(), side, id, user)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newOrderResponse(o))
}

func (s *Server) handleEditOrder(w http.ResponseWriter, r *http.Request) {
	user, side, id, err := s.orderTarget(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var body EditOrderRequest
	if err := decodeBody(r, &body); err != nil {
		s.respondErr(w, r, err)
		return
	}
	o, err := s.orders.EditOrder(r.Context(), side, id, user, orders.EditRequest{
		NumberOfShares: body.NumberOfShares,
		Price:          body.Price,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newOrderResponse(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	user, side, id, err := s.orderTarget(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.orders.CancelOrder(r.Context(), side, id, user); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBanUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.caller(r)
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	var body BanRequest
	if err := decodeBody(r, &body); err != nil {
		s.respondErr(w, r, err)
		return
	}
	if err := s.orders.BanUser(r.Context(), user, body.UserID); err != nil {
		s.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
