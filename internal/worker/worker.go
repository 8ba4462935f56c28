package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mrpulse.app/dashboard/common/logger"
	"mrpulse.app/dashboard/internal/lock"
	"mrpulse.app/dashboard/internal/queue"
)

type Config struct {
	// JobTimeout bounds one refresh and is also the author lock ttl, so a
	// crashed worker cannot hold the lock longer than a job may run.
	JobTimeout time.Duration
}

type Worker struct {
	consumer  Consumer
	refresher Refresher
	locker    lock.Locker
	cfg       Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, refresher Refresher, locker lock.Locker, cfg Config) *Worker {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	return &Worker{
		consumer:  consumer,
		refresher: refresher,
		locker:    locker,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "mrpulse.worker"})
	slog.InfoContext(ctx, "worker started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		if err := w.processMessageSafe(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "refresh job failed",
				"error", err,
				"message_id", msg.ID,
				"author", msg.Author,
				"kind", msg.Kind)
			w.handleFailedMessage(ctx, msg, err)
		}
	}

	return nil
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in refresh job",
				"panic", r,
				"message_id", msg.ID,
				"author", msg.Author)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

func lockKey(author string) string {
	return "refresh:" + strings.ToLower(author)
}

// ProcessMessage runs one refresh job under the author's lock. A job whose
// author is already being refreshed is acknowledged and dropped.
// Exported so it can be reused by the reclaimer.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	msgID := msg.ID
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Author:    logger.Ptr(msg.Author),
		Kind:      logger.Ptr(string(msg.Kind)),
		MessageID: &msgID,
		JobID:     logger.Ptr(msg.JobID),
	})

	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.refresh")
	defer sc.End()
	ctx = sc.Context()

	release, acquired, err := w.locker.TryLock(ctx, lockKey(msg.Author), w.cfg.JobTimeout)
	if err != nil {
		return fmt.Errorf("acquiring author lock: %w", err)
	}
	if !acquired {
		slog.InfoContext(ctx, "refresh already running for author, skipping")
		return w.ack(ctx, msg)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "failed to release author lock", "error", err)
		}
	}()

	slog.InfoContext(ctx, "processing refresh job", "attempt", msg.Attempt)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	if err := w.refresher.Refresh(jobCtx, msg.Author, msg.Kind); err != nil {
		sc.RecordError(err)
		return fmt.Errorf("refreshing: %w", err)
	}

	slog.InfoContext(ctx, "refresh job completed", "duration_ms", time.Since(start).Milliseconds())
	return w.ack(ctx, msg)
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) error {
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// The reclaimer will pick it up again, and a repeated refresh is harmless.
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err,
			"message_id", msg.ID)
	}
	return nil
}

// handleFailedMessage parks the job in the DLQ. There is no retry: the
// scheduler enqueues the author again on its next cycle.
func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
		slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
	}
}
