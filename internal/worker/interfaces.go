package worker

import (
	"context"

	"mrpulse.app/dashboard/internal/model"
	"mrpulse.app/dashboard/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Refresher runs one background refresh for an author.
type Refresher interface {
	Refresh(ctx context.Context, author string, kind model.Kind) error
}
