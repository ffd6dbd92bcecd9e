package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/store"
)

const orderColumns = `id, user_id, security_id, number_of_shares::text, price::text, round_id, created_at, updated_at`

func orderTable(side model.Side) (string, error) {
	switch side {
	case model.SideBuy:
		return "buy_orders", nil
	case model.SideSell:
		return "sell_orders", nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", model.ErrInvalidInput, side)
	}
}

// permissionColumn is the users column gating side.
func permissionColumn(side model.Side) string {
	if side == model.SideBuy {
		return "can_buy"
	}
	return "can_sell"
}

func scanOrder(row rowScanner, side model.Side) (model.Order, error) {
	var (
		o                 model.Order
		sharesStr, prcStr string
	)
	if err := row.Scan(&o.ID, &o.UserID, &o.SecurityID, &sharesStr, &prcStr, &o.RoundID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return model.Order{}, err
	}

	var err error
	o.NumberOfShares, err = decimal.NewFromString(sharesStr)
	if err != nil {
		return model.Order{}, fmt.Errorf("parse number_of_shares: %w", err)
	}
	o.Price, err = decimal.NewFromString(prcStr)
	if err != nil {
		return model.Order{}, fmt.Errorf("parse price: %w", err)
	}
	o.Side = side
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func (r *repo) queryOrders(ctx context.Context, side model.Side, sql string, args ...any) ([]model.Order, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s orders: %w", side, err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows, side)
		if err != nil {
			return nil, fmt.Errorf("scan %s order: %w", side, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *repo) CreateOrder(ctx context.Context, o model.Order) error {
	table, err := orderTable(o.Side)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `
		INSERT INTO `+table+` (id, user_id, security_id, number_of_shares, price, round_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8)
	`, o.ID, o.UserID, o.SecurityID, o.NumberOfShares.String(), o.Price.String(), o.RoundID, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s already exists", o.ID)
		}
		return fmt.Errorf("insert %s order: %w", o.Side, err)
	}
	return nil
}

func (r *repo) GetOrder(ctx context.Context, side model.Side, id uuid.UUID) (model.Order, error) {
	table, err := orderTable(side)
	if err != nil {
		return model.Order{}, err
	}
	o, err := scanOrder(r.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM `+table+` WHERE id = $1`, id), side)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Order{}, fmt.Errorf("%s order %s: %w", side, id, model.ErrNotFound)
		}
		return model.Order{}, fmt.Errorf("get %s order: %w", side, err)
	}
	return o, nil
}

func (r *repo) UpdateOrder(ctx context.Context, o model.Order) error {
	table, err := orderTable(o.Side)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `
		UPDATE `+table+`
		SET number_of_shares = $1::numeric, price = $2::numeric, updated_at = $3
		WHERE id = $4
	`, o.NumberOfShares.String(), o.Price.String(), o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("update %s order: %w", o.Side, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s order %s: %w", o.Side, o.ID, model.ErrNotFound)
	}
	return nil
}

func (r *repo) DeleteOrder(ctx context.Context, side model.Side, id uuid.UUID) error {
	table, err := orderTable(side)
	if err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete %s order: %w", side, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s order %s: %w", side, id, model.ErrNotFound)
	}
	return nil
}

func (r *repo) ListOrdersByUser(ctx context.Context, side model.Side, userID uuid.UUID) ([]model.Order, error) {
	table, err := orderTable(side)
	if err != nil {
		return nil, err
	}
	return r.queryOrders(ctx, side, `
		SELECT `+orderColumns+` FROM `+table+`
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
}

func (r *repo) CountUserOrders(ctx context.Context, side model.Side, userID uuid.UUID, roundID *uuid.UUID) (int, error) {
	table, err := orderTable(side)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM `+table+`
		WHERE user_id = $1 AND round_id IS NOT DISTINCT FROM $2::uuid
	`, userID, roundID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s orders: %w", side, err)
	}
	return n, nil
}

func (r *repo) PendingSellSummary(ctx context.Context) (store.PendingSellSummary, error) {
	var (
		sum      store.PendingSellSummary
		totalStr string
	)
	err := r.tx.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id), COALESCE(SUM(number_of_shares), 0)::text
		FROM sell_orders
		WHERE round_id IS NULL
	`).Scan(&sum.DistinctSellers, &totalStr)
	if err != nil {
		return store.PendingSellSummary{}, fmt.Errorf("summarize pending sell orders: %w", err)
	}
	sum.TotalShares, err = decimal.NewFromString(totalStr)
	if err != nil {
		return store.PendingSellSummary{}, fmt.Errorf("parse pending share total: %w", err)
	}
	return sum, nil
}

func (r *repo) AssignPendingOrders(ctx context.Context, side model.Side, roundID uuid.UUID) (int, error) {
	table, err := orderTable(side)
	if err != nil {
		return 0, err
	}
	tag, err := r.tx.Exec(ctx, `UPDATE `+table+` SET round_id = $1 WHERE round_id IS NULL`, roundID)
	if err != nil {
		return 0, fmt.Errorf("assign pending %s orders: %w", side, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *repo) ListEligibleRoundOrders(ctx context.Context, side model.Side, roundID uuid.UUID) ([]model.Order, error) {
	table, err := orderTable(side)
	if err != nil {
		return nil, err
	}
	return r.queryOrders(ctx, side, `
		SELECT o.id, o.user_id, o.security_id, o.number_of_shares::text, o.price::text, o.round_id, o.created_at, o.updated_at
		FROM `+table+` o
		JOIN users u ON u.id = o.user_id
		WHERE o.round_id = $1 AND u.`+permissionColumn(side)+`
		ORDER BY o.created_at, o.id
	`, roundID)
}
