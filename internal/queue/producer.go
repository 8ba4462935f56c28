package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"mrpulse.app/dashboard/internal/model"
)

// RefreshJob asks a worker to refetch one author's merge requests.
type RefreshJob struct {
	JobID   int64
	Author  string
	Kind    model.Kind
	TraceID *string
	Attempt int
}

type Producer interface {
	Enqueue(ctx context.Context, job RefreshJob) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, job RefreshJob) error {
	attempt := job.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"job_id":  job.JobID,
		"author":  job.Author,
		"kind":    string(job.Kind),
		"attempt": attempt,
	}
	if job.TraceID != nil && *job.TraceID != "" {
		fields["trace_id"] = *job.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue refresh job: %w", err)
	}

	p.logger.DebugContext(ctx, "enqueued refresh job", "job_id", job.JobID, "author", job.Author, "kind", job.Kind)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
