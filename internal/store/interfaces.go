package store

import (
	"context"
	"time"

	"mrpulse.app/dashboard/internal/model"
)

// UserStore tracks who opened the dashboard and when.
type UserStore interface {
	// Touch records that username opened the dashboard at the given time.
	Touch(ctx context.Context, username string, at time.Time) error
	ListRecentlyContacted(ctx context.Context, since time.Time, limit int) ([]model.DashboardUser, error)
}

// SubscriptionStore reads push subscriptions. Subscriptions are registered by
// the front end; this service only reads them.
type SubscriptionStore interface {
	ListByUsername(ctx context.Context, username string) ([]model.PushSubscription, error)
}
