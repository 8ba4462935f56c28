package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"mrpulse.app/dashboard/core/db"
	"mrpulse.app/dashboard/internal/model"
)

type userStore struct {
	q db.Querier
}

func newUserStore(q db.Querier) UserStore {
	return &userStore{q: q}
}

type userRow struct {
	Username    string    `db:"username"`
	ContactedAt time.Time `db:"contacted_at"`
}

func (s *userStore) Touch(ctx context.Context, username string, at time.Time) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO users (username, contacted_at)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE
		SET contacted_at = GREATEST(users.contacted_at, EXCLUDED.contacted_at)`,
		strings.ToLower(username), at.UTC())
	if err != nil {
		return fmt.Errorf("touching user: %w", err)
	}
	return nil
}

func (s *userStore) ListRecentlyContacted(ctx context.Context, since time.Time, limit int) ([]model.DashboardUser, error) {
	rows, err := s.q.Query(ctx, `
		SELECT username, contacted_at
		FROM users
		WHERE contacted_at >= $1
		ORDER BY contacted_at DESC
		LIMIT $2`,
		since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[userRow])
	if err != nil {
		return nil, fmt.Errorf("scanning users: %w", err)
	}

	users := make([]model.DashboardUser, 0, len(found))
	for _, row := range found {
		users = append(users, *toUserModel(row))
	}
	return users, nil
}

func toUserModel(row userRow) *model.DashboardUser {
	return &model.DashboardUser{
		Username:    row.Username,
		ContactedAt: row.ContactedAt,
	}
}
