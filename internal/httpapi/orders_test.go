package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/acquity/roundmarket/internal/chat"
	"github.com/acquity/roundmarket/internal/clock"
	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/notify"
	"github.com/acquity/roundmarket/internal/orders"
	"github.com/acquity/roundmarket/internal/round"
	"github.com/acquity/roundmarket/internal/scheduler"
	"github.com/acquity/roundmarket/internal/store"
	"github.com/acquity/roundmarket/internal/store/memory"
)

type noopTasks struct{}

func (noopTasks) ScheduleAt(context.Context, time.Time, scheduler.Kind, uuid.UUID) error { return nil }

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, []uuid.UUID, notify.Kind, map[string]string) error {
	return nil
}

type orderEnv struct {
	url      string
	security uuid.UUID
	sellerA  uuid.UUID
	sellerB  uuid.UUID
	buyer    uuid.UUID
	outsider uuid.UUID
}

// newOrderEnv serves the real intake gate over a memory store. Each user may
// hold one order per side and round; two sellers open a round.
func newOrderEnv(t *testing.T) orderEnv {
	t.Helper()
	st := memory.New()
	clk := clock.NewManual(now)

	e := orderEnv{
		security: uuid.New(),
		sellerA:  uuid.New(),
		sellerB:  uuid.New(),
		buyer:    uuid.New(),
		outsider: uuid.New(),
	}
	err := st.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, u := range []model.User{
			{ID: e.sellerA, CanSell: true},
			{ID: e.sellerB, CanSell: true},
			{ID: e.buyer, CanBuy: true},
			{ID: e.outsider},
		} {
			if err := tx.CreateUser(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}

	cfg := round.DefaultConfig()
	cfg.SellerCountCutoff = 2
	cfg.TotalShareCutoff = decimal.NewFromInt(1_000_000)
	manager := round.New(cfg, st, noopTasks{}, chat.NewFactory(st, clk, nil), noopNotifier{}, nil, round.WithClock(clk))
	svc := orders.NewService(st, manager, noopNotifier{},
		orders.Limits{SellOrdersPerRound: 1, BuyOrdersPerRound: 1}, nil, orders.WithClock(clk))

	ts, _ := newTestServer(t, manager, WithOrders(svc))
	e.url = ts.URL
	return e
}

func (e orderEnv) do(t *testing.T, method, path string, user uuid.UUID, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.url+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set(DefaultUserHeader, user.String())
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (e orderEnv) submit(shares, price int64) SubmitOrderRequest {
	return SubmitOrderRequest{
		SecurityID:     e.security,
		NumberOfShares: decimal.NewFromInt(shares),
		Price:          decimal.NewFromInt(price),
	}
}

func TestSubmitOrders_LimitsAndRoundStart(t *testing.T) {
	e := newOrderEnv(t)

	var first OrderResponse
	if status := e.do(t, http.MethodPost, "/api/v1/orders/sell", e.sellerA, e.submit(100, 10), &first); status != http.StatusCreated {
		t.Fatalf("first sell status = %d, want 201", status)
	}
	if first.RoundID != nil {
		t.Errorf("first sell RoundID = %v, want pending", first.RoundID)
	}

	if status := e.do(t, http.MethodPost, "/api/v1/orders/sell", e.sellerA, e.submit(50, 10), nil); status != http.StatusForbidden {
		t.Errorf("second sell by same seller status = %d, want 403", status)
	}

	var second OrderResponse
	if status := e.do(t, http.MethodPost, "/api/v1/orders/sell", e.sellerB, e.submit(100, 10), &second); status != http.StatusCreated {
		t.Fatalf("second seller status = %d, want 201", status)
	}
	if second.RoundID == nil {
		t.Fatal("second seller did not open a round")
	}

	var listed []OrderResponse
	if status := e.do(t, http.MethodGet, "/api/v1/orders/sell", e.sellerA, nil, &listed); status != http.StatusOK {
		t.Fatalf("list status = %d, want 200", status)
	}
	if len(listed) != 1 || listed[0].RoundID == nil || *listed[0].RoundID != *second.RoundID {
		t.Errorf("listed = %+v, want seller A's order in round %v", listed, *second.RoundID)
	}

	var buy OrderResponse
	if status := e.do(t, http.MethodPost, "/api/v1/orders/buy", e.buyer, e.submit(100, 12), &buy); status != http.StatusCreated {
		t.Fatalf("buy status = %d, want 201", status)
	}
	if buy.RoundID == nil || *buy.RoundID != *second.RoundID {
		t.Errorf("buy RoundID = %v, want %v", buy.RoundID, *second.RoundID)
	}
	if status := e.do(t, http.MethodPost, "/api/v1/orders/buy", e.buyer, e.submit(10, 12), nil); status != http.StatusForbidden {
		t.Errorf("second buy status = %d, want 403", status)
	}
}

func TestSubmitOrder_Rejections(t *testing.T) {
	e := newOrderEnv(t)

	tests := []struct {
		name       string
		path       string
		user       uuid.UUID
		body       any
		wantStatus int
	}{
		{name: "no identity", path: "/api/v1/orders/sell", body: e.submit(1, 1), wantStatus: http.StatusUnauthorized},
		{name: "unknown side", path: "/api/v1/orders/hold", user: e.sellerA, body: e.submit(1, 1), wantStatus: http.StatusBadRequest},
		{name: "zero shares", path: "/api/v1/orders/sell", user: e.sellerA, body: e.submit(0, 1), wantStatus: http.StatusBadRequest},
		{name: "unknown field", path: "/api/v1/orders/sell", user: e.sellerA, body: map[string]string{"qty": "1"}, wantStatus: http.StatusBadRequest},
		{name: "not permitted", path: "/api/v1/orders/sell", user: e.outsider, body: e.submit(1, 1), wantStatus: http.StatusForbidden},
		{name: "unknown user", path: "/api/v1/orders/buy", user: uuid.New(), body: e.submit(1, 1), wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status := e.do(t, http.MethodPost, tt.path, tt.user, tt.body, nil); status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
		})
	}
}

func TestEditGetCancelOrder(t *testing.T) {
	e := newOrderEnv(t)

	var o OrderResponse
	if status := e.do(t, http.MethodPost, "/api/v1/orders/sell", e.sellerA, e.submit(100, 10), &o); status != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201", status)
	}
	path := "/api/v1/orders/sell/" + o.ID.String()

	price := decimal.RequireFromString("10.25")
	var edited OrderResponse
	if status := e.do(t, http.MethodPatch, path, e.sellerA, EditOrderRequest{Price: &price}, &edited); status != http.StatusOK {
		t.Fatalf("edit status = %d, want 200", status)
	}
	if !edited.Price.Equal(price) {
		t.Errorf("Price = %s, want %s", edited.Price, price)
	}
	if !edited.NumberOfShares.Equal(decimal.NewFromInt(100)) {
		t.Errorf("NumberOfShares = %s, want 100", edited.NumberOfShares)
	}

	if status := e.do(t, http.MethodPatch, path, e.sellerB, EditOrderRequest{Price: &price}, nil); status != http.StatusForbidden {
		t.Errorf("edit by other user status = %d, want 403", status)
	}
	if status := e.do(t, http.MethodGet, path, e.sellerB, nil, nil); status != http.StatusForbidden {
		t.Errorf("get by other user status = %d, want 403", status)
	}

	var got OrderResponse
	if status := e.do(t, http.MethodGet, path, e.sellerA, nil, &got); status != http.StatusOK {
		t.Fatalf("get status = %d, want 200", status)
	}
	if got.ID != o.ID || got.Side != "sell" {
		t.Errorf("got = %+v, want order %v on sell side", got, o.ID)
	}

	if status := e.do(t, http.MethodDelete, path, e.sellerA, nil, nil); status != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", status)
	}
	if status := e.do(t, http.MethodGet, path, e.sellerA, nil, nil); status != http.StatusNotFound {
		t.Errorf("get after cancel status = %d, want 404", status)
	}
}

func TestBanUser(t *testing.T) {
	e := newOrderEnv(t)

	if status := e.do(t, http.MethodPost, "/api/v1/bans", e.buyer, BanRequest{UserID: e.sellerA}, nil); status != http.StatusNoContent {
		t.Errorf("ban status = %d, want 204", status)
	}
	if status := e.do(t, http.MethodPost, "/api/v1/bans", e.buyer, BanRequest{UserID: e.buyer}, nil); status != http.StatusBadRequest {
		t.Errorf("self ban status = %d, want 400", status)
	}
	if status := e.do(t, http.MethodPost, "/api/v1/bans", e.buyer, BanRequest{UserID: uuid.New()}, nil); status != http.StatusNotFound {
		t.Errorf("unknown user ban status = %d, want 404", status)
	}
}

func TestOrderRoutesRequireService(t *testing.T) {
	ts, _ := newTestServer(t, &fakeRounds{})

	resp, err := http.Get(ts.URL + "/api/v1/orders/sell")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404 or 405", resp.StatusCode)
	}
}
