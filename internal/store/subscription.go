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

type subscriptionStore struct {
	q db.Querier
}

func newSubscriptionStore(q db.Querier) SubscriptionStore {
	return &subscriptionStore{q: q}
}

type subscriptionRow struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	Endpoint  string    `db:"endpoint"`
	AuthKey   string    `db:"auth_key"`
	P256dhKey string    `db:"p256dh_key"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *subscriptionStore) ListByUsername(ctx context.Context, username string) ([]model.PushSubscription, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, username, endpoint, auth_key, p256dh_key, created_at
		FROM push_subscriptions
		WHERE username = $1
		ORDER BY id`,
		strings.ToLower(username))
	if err != nil {
		return nil, fmt.Errorf("listing push subscriptions: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[subscriptionRow])
	if err != nil {
		return nil, fmt.Errorf("scanning push subscriptions: %w", err)
	}

	subs := make([]model.PushSubscription, 0, len(found))
	for _, row := range found {
		subs = append(subs, model.PushSubscription{
			ID:        row.ID,
			Username:  row.Username,
			Endpoint:  row.Endpoint,
			AuthKey:   row.AuthKey,
			P256dhKey: row.P256dhKey,
			CreatedAt: row.CreatedAt,
		})
	}
	return subs, nil
}
