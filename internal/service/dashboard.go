package service

import (
	"context"
	"log/slog"
	"time"

	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/internal/dto"
	"mrpulse.app/dashboard/internal/model"
)

type DashboardResult struct {
	Snapshot       *model.Snapshot
	FreshlyFetched bool
	// RefreshErrors is set when Snapshot is a stale fallback.
	RefreshErrors []model.GatewayError
}

type DashboardConfig struct {
	Fetcher     MergeRequestFetcher
	Enricher    ReviewerEnricher
	Normalizer  *dto.Normalizer
	Broadcaster Broadcaster
	Users       UserToucher
}

// DashboardService serves the page-load path.
type DashboardService struct {
	fetcher     MergeRequestFetcher
	builder     *snapshotBuilder
	broadcaster Broadcaster
	users       UserToucher
	now         func() time.Time
}

func NewDashboardService(cfg DashboardConfig) *DashboardService {
	return &DashboardService{
		fetcher: cfg.Fetcher,
		builder: &snapshotBuilder{
			fetcher:    cfg.Fetcher,
			enricher:   cfg.Enricher,
			normalizer: cfg.Normalizer,
		},
		broadcaster: cfg.Broadcaster,
		users:       cfg.Users,
		now:         time.Now,
	}
}

func (s *DashboardService) WithClock(now func() time.Time) *DashboardService {
	s.now = now
	return s
}

// MergeRequests returns the author's normalized snapshot of kind and marks
// the author as a dashboard user. Errors are the fetcher's sentinels or
// infrastructure failures.
func (s *DashboardService) MergeRequests(ctx context.Context, author string, kind model.Kind) (*DashboardResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Author:    logger.Ptr(author),
		Kind:      logger.Ptr(string(kind)),
		Component: "mrpulse.service.dashboard",
	})

	result, err := s.fetcher.Fetch(ctx, author, kind)
	if err != nil {
		return nil, err
	}

	if err := s.users.Touch(ctx, author, s.now()); err != nil {
		slog.WarnContext(ctx, "failed to record dashboard visit", "error", err)
	}

	snapshot, err := s.builder.build(ctx, result.Data)
	if err != nil {
		return nil, err
	}

	if result.FreshlyFetched && !snapshot.HasErrors() {
		s.broadcaster.Broadcast(ctx, snapshot)
	}

	return &DashboardResult{
		Snapshot:       snapshot,
		FreshlyFetched: result.FreshlyFetched,
		RefreshErrors:  result.RefreshErrors,
	}, nil
}

func (s *DashboardService) MonthlyMergedCount(ctx context.Context, author string) (int, error) {
	return s.fetcher.MonthlyMergedCount(ctx, author)
}
