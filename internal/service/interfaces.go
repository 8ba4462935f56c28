package service

import (
	"context"
	"time"

	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/gateway"
	"mrpulse.app/dashboard/internal/model"
)

type MergeRequestFetcher interface {
	Fetch(ctx context.Context, author string, kind model.Kind, opts ...fetcher.FetchOption) (*fetcher.FetchResult, error)
	FetchAll(ctx context.Context, author string, opts ...fetcher.FetchOption) (map[model.Kind]*fetcher.FetchResult, error)
	FetchIssues(ctx context.Context, items []gateway.CoreMergeRequest) (map[string]gateway.Issue, error)
	MonthlyMergedCount(ctx context.Context, author string) (int, error)
	InvalidateMonthlyMergedCount(ctx context.Context, author string) error
}

type ReviewerEnricher interface {
	Enrich(ctx context.Context, items []gateway.CoreMergeRequest) ([]gateway.CoreMergeRequest, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, snapshot *model.Snapshot)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, username string, events []model.NotificationEvent) error
}

type UserToucher interface {
	Touch(ctx context.Context, username string, at time.Time) error
}
