package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/acquity/roundmarket/internal/model"
)

func TestOrderTable(t *testing.T) {
	tests := []struct {
		side    model.Side
		want    string
		wantErr bool
	}{
		{side: model.SideBuy, want: "buy_orders"},
		{side: model.SideSell, want: "sell_orders"},
		{side: "hold", wantErr: true},
	}

	for _, tt := range tests {
		got, err := orderTable(tt.side)
		if tt.wantErr {
			if !errors.Is(err, model.ErrInvalidInput) {
				t.Errorf("orderTable(%q) error = %v, want ErrInvalidInput", tt.side, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("orderTable(%q) = %q, %v, want %q", tt.side, got, err, tt.want)
		}
	}
}

func TestPermissionColumn(t *testing.T) {
	if got := permissionColumn(model.SideBuy); got != "can_buy" {
		t.Errorf("permissionColumn(buy) = %q, want can_buy", got)
	}
	if got := permissionColumn(model.SideSell); got != "can_sell" {
		t.Errorf("permissionColumn(sell) = %q, want can_sell", got)
	}
}

func TestConstraintViolations(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	fk := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"})

	if !isUniqueViolation(unique) || isUniqueViolation(fk) {
		t.Error("isUniqueViolation misclassified")
	}
	if !isForeignKeyViolation(fk) || isForeignKeyViolation(unique) {
		t.Error("isForeignKeyViolation misclassified")
	}
	if isUniqueViolation(errors.New("plain")) {
		t.Error("plain error classified as unique violation")
	}
}
