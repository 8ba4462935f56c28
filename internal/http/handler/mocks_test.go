package handler_test

import (
	"context"

	"github.com/redis/go-redis/v9"

	"mrpulse.app/dashboard/internal/model"
	"mrpulse.app/dashboard/internal/service"
)

type mockDashboardService struct {
	mergeRequestsFn func(ctx context.Context, author string, kind model.Kind) (*service.DashboardResult, error)
	monthlyFn       func(ctx context.Context, author string) (int, error)
}

func (m *mockDashboardService) MergeRequests(ctx context.Context, author string, kind model.Kind) (*service.DashboardResult, error) {
	if m.mergeRequestsFn != nil {
		return m.mergeRequestsFn(ctx, author, kind)
	}
	return nil, nil
}

func (m *mockDashboardService) MonthlyMergedCount(ctx context.Context, author string) (int, error) {
	if m.monthlyFn != nil {
		return m.monthlyFn(ctx, author)
	}
	return 0, nil
}

type mockStreamReader struct {
	reads  []*redis.XReadArgs
	readFn func(ctx context.Context, call int) ([]redis.XStream, error)
}

func (m *mockStreamReader) XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd {
	m.reads = append(m.reads, a)
	streams, err := m.readFn(ctx, len(m.reads))
	return redis.NewXStreamSliceCmdResult(streams, err)
}
