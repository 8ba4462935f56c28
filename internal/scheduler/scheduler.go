package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mrpulse.app/dashboard/common/id"
	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/lock"
	"mrpulse.app/dashboard/internal/model"
	"mrpulse.app/dashboard/internal/queue"
)

// NeedsScheduledUpdate reports whether the snapshot is due for a background
// refresh. A missing snapshot is due, and so is one whose scheduled time is
// now or in the past.
func NeedsScheduledUpdate(snapshot *fetcher.RawSnapshot, now time.Time) bool {
	if snapshot == nil || snapshot.NextScheduledUpdateAt.IsZero() {
		return true
	}
	return !now.Before(snapshot.NextScheduledUpdateAt)
}

type UserLister interface {
	ListRecentlyContacted(ctx context.Context, since time.Time, limit int) ([]model.DashboardUser, error)
}

type SnapshotReader interface {
	Cached(ctx context.Context, author string, kind model.Kind) (*fetcher.RawSnapshot, error)
}

type Config struct {
	Interval       time.Duration
	UserLimit      int
	ActivityWindow time.Duration
}

// Scheduler enqueues refresh jobs for recently active users whose snapshots
// are due. Refreshing an author refetches both kinds, so at most one job is
// enqueued per author and tick.
type Scheduler struct {
	users     UserLister
	snapshots SnapshotReader
	producer  queue.Producer
	locker    lock.Locker
	cfg       Config
	now       func() time.Time
	newID     func() int64
}

func New(users UserLister, snapshots SnapshotReader, producer queue.Producer, locker lock.Locker, cfg Config) *Scheduler {
	return &Scheduler{
		users:     users,
		snapshots: snapshots,
		producer:  producer,
		locker:    locker,
		cfg:       cfg,
		now:       time.Now,
		newID:     id.New,
	}
}

// WithClock replaces the clock and job ID source. Intended for tests.
func (s *Scheduler) WithClock(now func() time.Time, newID func() int64) *Scheduler {
	s.now = now
	s.newID = newID
	return s
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "mrpulse.scheduler"})

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "scheduler started",
		"interval", s.cfg.Interval,
		"user_limit", s.cfg.UserLimit)

	for {
		if _, err := s.Tick(ctx); err != nil {
			slog.ErrorContext(ctx, "scheduler tick failed", "error", err)
		}

		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "scheduler stopping")
			return
		case <-ticker.C:
		}
	}
}

// Tick enqueues the due refreshes and returns how many jobs it enqueued.
// Only one process ticks per interval.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	_, acquired, err := s.locker.TryLock(ctx, "scheduler:tick", s.lockTTL())
	if err != nil {
		return 0, fmt.Errorf("acquiring scheduler lock: %w", err)
	}
	if !acquired {
		slog.DebugContext(ctx, "another process is scheduling this interval")
		return 0, nil
	}
	// The lock is left to expire so no other process ticks within this interval.

	now := s.now()
	users, err := s.users.ListRecentlyContacted(ctx, now.Add(-s.cfg.ActivityWindow), s.cfg.UserLimit)
	if err != nil {
		return 0, fmt.Errorf("listing active users: %w", err)
	}

	enqueued := 0
	for _, user := range users {
		kind, due := s.dueKind(ctx, user.Username, now)
		if !due {
			continue
		}

		job := queue.RefreshJob{JobID: s.newID(), Author: user.Username, Kind: kind}
		if err := s.producer.Enqueue(ctx, job); err != nil {
			return enqueued, fmt.Errorf("enqueueing refresh for %s: %w", user.Username, err)
		}
		enqueued++
	}

	slog.InfoContext(ctx, "scheduled refreshes", "users", len(users), "enqueued", enqueued)
	return enqueued, nil
}

// lockTTL is shorter than the interval so the lock is free again when this
// process's next tick fires.
func (s *Scheduler) lockTTL() time.Duration {
	return s.cfg.Interval - s.cfg.Interval/10
}

func (s *Scheduler) dueKind(ctx context.Context, author string, now time.Time) (model.Kind, bool) {
	for _, kind := range model.Kinds {
		snapshot, err := s.snapshots.Cached(ctx, author, kind)
		if errors.Is(err, fetcher.ErrInvalidUsername) {
			return "", false
		}
		if err != nil {
			slog.WarnContext(ctx, "reading snapshot failed, treating as due",
				"author", author, "kind", kind, "error", err)
			return kind, true
		}
		if NeedsScheduledUpdate(snapshot, now) {
			return kind, true
		}
	}
	return "", false
}
