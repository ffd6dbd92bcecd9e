package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/acquity/roundmarket/internal/model"
)

const roundColumns = `id, end_time, is_concluded, created_at`

func scanRound(row rowScanner) (model.Round, error) {
	var r model.Round
	if err := row.Scan(&r.ID, &r.EndTime, &r.IsConcluded, &r.CreatedAt); err != nil {
		return model.Round{}, err
	}
	r.EndTime = r.EndTime.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (r *repo) queryRounds(ctx context.Context, sql string, args ...any) ([]model.Round, error) {
	rows, err := r.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []model.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		out = append(out, round)
	}
	return out, rows.Err()
}

func (r *repo) CreateRound(ctx context.Context, round model.Round) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO rounds (id, end_time, is_concluded, created_at)
		VALUES ($1, $2, $3, $4)
	`, round.ID, round.EndTime, round.IsConcluded, round.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (r *repo) GetRound(ctx context.Context, id uuid.UUID) (model.Round, error) {
	sql := `SELECT ` + roundColumns + ` FROM rounds WHERE id = $1`
	if r.forUpdate {
		sql += ` FOR UPDATE`
	}
	round, err := scanRound(r.tx.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Round{}, fmt.Errorf("round %s: %w", id, model.ErrNotFound)
		}
		return model.Round{}, fmt.Errorf("get round: %w", err)
	}
	return round, nil
}

func (r *repo) ListActiveRounds(ctx context.Context, now time.Time) ([]model.Round, error) {
	return r.queryRounds(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE NOT is_concluded AND end_time >= $1
		ORDER BY created_at, id
	`, now)
}

func (r *repo) ListUnconcludedRounds(ctx context.Context) ([]model.Round, error) {
	return r.queryRounds(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE NOT is_concluded
		ORDER BY created_at, id
	`)
}

func (r *repo) ListRounds(ctx context.Context) ([]model.Round, error) {
	return r.queryRounds(ctx, `SELECT `+roundColumns+` FROM rounds ORDER BY created_at, id`)
}

func (r *repo) MarkRoundConcluded(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `UPDATE rounds SET is_concluded = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark round concluded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("round %s: %w", id, model.ErrNotFound)
	}
	return nil
}
