package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/acquity/roundmarket/internal/model"
	"github.com/acquity/roundmarket/internal/store"
)

// -----------------------------------------------------------------------------
// Matches
// -----------------------------------------------------------------------------

func (r *repo) CreateMatch(ctx context.Context, m model.Match) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO matches (id, buy_order_id, sell_order_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, m.ID, m.BuyOrderID, m.SellOrderID, m.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("match %s references unknown order: %w", m.ID, model.ErrNotFound)
		}
		return fmt.Errorf("insert match: %w", err)
	}
	return nil
}

func (r *repo) ListRoundMatches(ctx context.Context, roundID uuid.UUID) ([]model.Match, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT m.id, m.buy_order_id, m.sell_order_id, m.created_at
		FROM matches m
		JOIN sell_orders s ON s.id = m.sell_order_id
		WHERE s.round_id = $1
		ORDER BY m.created_at, m.id
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var out []model.Match
	for rows.Next() {
		var m model.Match
		if err := rows.Scan(&m.ID, &m.BuyOrderID, &m.SellOrderID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Banned pairs
// -----------------------------------------------------------------------------

func (r *repo) CreateBannedPair(ctx context.Context, bp model.BannedPair) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO banned_pairs (buyer_id, seller_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (buyer_id, seller_id) DO NOTHING
	`, bp.BuyerID, bp.SellerID, bp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert banned pair: %w", err)
	}
	return nil
}

func (r *repo) ListBannedPairs(ctx context.Context) ([]model.BannedPair, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT buyer_id, seller_id, created_at
		FROM banned_pairs
		ORDER BY buyer_id, seller_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query banned pairs: %w", err)
	}
	defer rows.Close()

	var out []model.BannedPair
	for rows.Next() {
		var bp model.BannedPair
		if err := rows.Scan(&bp.BuyerID, &bp.SellerID, &bp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan banned pair: %w", err)
		}
		out = append(out, bp)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func (r *repo) CreateUser(ctx context.Context, u model.User) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO users (id, email, full_name, can_buy, can_sell)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, full_name = EXCLUDED.full_name,
		    can_buy = EXCLUDED.can_buy, can_sell = EXCLUDED.can_sell
	`, u.ID, u.Email, u.FullName, u.CanBuy, u.CanSell)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (r *repo) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	var u model.User
	err := r.tx.QueryRow(ctx, `
		SELECT id, email, full_name, can_buy, can_sell FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.FullName, &u.CanBuy, &u.CanSell)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *repo) ListPermittedUserIDs(ctx context.Context, side model.Side) ([]uuid.UUID, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: unknown side %q", model.ErrInvalidInput, side)
	}
	rows, err := r.tx.Query(ctx, `SELECT id FROM users WHERE `+permissionColumn(side)+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query permitted users: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Chat rooms
// -----------------------------------------------------------------------------

func (r *repo) CreateChatRoom(ctx context.Context, room model.ChatRoom) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO chat_rooms (id, buyer_id, seller_id, match_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (match_id) DO NOTHING
	`, room.ID, room.BuyerID, room.SellerID, room.MatchID, room.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat room: %w", err)
	}
	return nil
}

func (r *repo) GetChatRoomByMatch(ctx context.Context, matchID uuid.UUID) (model.ChatRoom, error) {
	var room model.ChatRoom
	err := r.tx.QueryRow(ctx, `
		SELECT id, buyer_id, seller_id, match_id, created_at FROM chat_rooms WHERE match_id = $1
	`, matchID).Scan(&room.ID, &room.BuyerID, &room.SellerID, &room.MatchID, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ChatRoom{}, fmt.Errorf("chat room for match %s: %w", matchID, model.ErrNotFound)
		}
		return model.ChatRoom{}, fmt.Errorf("get chat room: %w", err)
	}
	room.CreatedAt = room.CreatedAt.UTC()
	return room, nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func (r *repo) ListMatchesWithoutRoom(ctx context.Context) ([]store.MatchParties, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT m.id, m.buy_order_id, m.sell_order_id, m.created_at, b.user_id, s.user_id
		FROM matches m
		JOIN buy_orders b ON b.id = m.buy_order_id
		JOIN sell_orders s ON s.id = m.sell_order_id
		LEFT JOIN chat_rooms c ON c.match_id = m.id
		WHERE c.id IS NULL
		ORDER BY m.created_at, m.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query matches without room: %w", err)
	}
	defer rows.Close()

	var out []store.MatchParties
	for rows.Next() {
		var p store.MatchParties
		if err := rows.Scan(&p.Match.ID, &p.Match.BuyOrderID, &p.Match.SellOrderID, &p.Match.CreatedAt, &p.BuyerID, &p.SellerID); err != nil {
			return nil, fmt.Errorf("scan match parties: %w", err)
		}
		p.Match.CreatedAt = p.Match.CreatedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
