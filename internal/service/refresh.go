package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/internal/cache"
	"mrpulse.app/dashboard/internal/cachekey"
	"mrpulse.app/dashboard/internal/changes"
	"mrpulse.app/dashboard/internal/dto"
	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/model"
)

const baselineVersion = "v1"

type RefreshConfig struct {
	Fetcher     MergeRequestFetcher
	Enricher    ReviewerEnricher
	Normalizer  *dto.Normalizer
	Detector    *changes.Detector
	Broadcaster Broadcaster
	Dispatcher  Dispatcher
	// Baselines keeps the last snapshot each author was notified about.
	Baselines   cache.Store
	Keys        cachekey.Builder
	BaselineTTL time.Duration
}

// RefreshService runs background refreshes: it refetches both kinds,
// broadcasts them, and notifies about changes since the last refresh.
type RefreshService struct {
	fetcher     MergeRequestFetcher
	builder     *snapshotBuilder
	detector    *changes.Detector
	broadcaster Broadcaster
	dispatcher  Dispatcher
	baselines   cache.Store
	keys        cachekey.Builder
	baselineTTL time.Duration
}

func NewRefreshService(cfg RefreshConfig) *RefreshService {
	if cfg.BaselineTTL <= 0 {
		cfg.BaselineTTL = 7 * 24 * time.Hour
	}
	return &RefreshService{
		fetcher: cfg.Fetcher,
		builder: &snapshotBuilder{
			fetcher:    cfg.Fetcher,
			enricher:   cfg.Enricher,
			normalizer: cfg.Normalizer,
		},
		detector:    cfg.Detector,
		broadcaster: cfg.Broadcaster,
		dispatcher:  cfg.Dispatcher,
		baselines:   cfg.Baselines,
		keys:        cfg.Keys,
		baselineTTL: cfg.BaselineTTL,
	}
}

// Refresh refetches the author's merge requests. kind is the kind found due;
// both kinds come back from one fetch and are handled together. Upstream
// failures are logged and left to the next scheduled cycle.
func (s *RefreshService) Refresh(ctx context.Context, author string, kind model.Kind) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Author:    logger.Ptr(author),
		Component: "mrpulse.service.refresh",
	})

	results, err := s.fetcher.FetchAll(ctx, author, fetcher.WithForce())
	if errors.Is(err, fetcher.ErrInvalidUsername) || errors.Is(err, fetcher.ErrUserNotFound) {
		slog.WarnContext(ctx, "dropping refresh", "due_kind", kind, "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	var events []model.NotificationEvent
	for _, k := range model.Kinds {
		result := results[k]
		if result == nil {
			continue
		}
		if !result.FreshlyFetched || result.Data.HasErrors() {
			slog.WarnContext(ctx, "refresh returned upstream errors",
				"kind", k,
				"errors", len(result.RefreshErrors)+len(result.Data.Errors))
			continue
		}

		snapshot, err := s.builder.build(ctx, result.Data)
		if err != nil {
			return fmt.Errorf("building %s snapshot: %w", k, err)
		}

		s.broadcaster.Broadcast(ctx, snapshot)
		events = append(events, s.changesSinceBaseline(ctx, snapshot)...)
	}

	if len(events) == 0 {
		return nil
	}

	for _, event := range events {
		if event.Type == model.EventMergeRequestMerged {
			if err := s.fetcher.InvalidateMonthlyMergedCount(ctx, author); err != nil {
				slog.WarnContext(ctx, "failed to invalidate monthly merged count", "error", err)
			}
			break
		}
	}

	slog.InfoContext(ctx, "merge request changes detected", "events", len(events))
	if err := s.dispatcher.Dispatch(ctx, author, events); err != nil {
		slog.ErrorContext(ctx, "failed to dispatch notifications", "error", err)
	}
	return nil
}

// changesSinceBaseline diffs snapshot against the last notified snapshot and
// makes snapshot the new baseline. Without a baseline nothing is reported.
func (s *RefreshService) changesSinceBaseline(ctx context.Context, snapshot *model.Snapshot) []model.NotificationEvent {
	key := s.keys.Key("notification_baseline", baselineVersion, snapshot.Author, string(snapshot.Kind))

	var events []model.NotificationEvent
	var baseline model.Snapshot
	hit, err := s.baselines.Read(ctx, key, &baseline)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "failed to read notification baseline", "kind", snapshot.Kind, "error", err)
	case hit:
		events = s.detector.Diff(&baseline, snapshot, snapshot.Kind)
	}

	if err := s.baselines.Write(ctx, key, snapshot, s.baselineTTL); err != nil {
		slog.WarnContext(ctx, "failed to store notification baseline", "kind", snapshot.Kind, "error", err)
	}
	return events
}
