package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"mrpulse.app/dashboard/internal/model"
)

// Renderer turns a normalized snapshot into the fragment pushed to live
// subscribers.
type Renderer interface {
	Render(snapshot *model.Snapshot) ([]byte, error)
}

type JSONRenderer struct{}

func (JSONRenderer) Render(snapshot *model.Snapshot) ([]byte, error) {
	return json.Marshal(snapshot)
}

// StreamAdder is the part of the redis client the broadcaster needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamName is the live stream of one author's merge requests of one kind.
func StreamName(username string, kind model.Kind) string {
	return fmt.Sprintf("user_%s_%s", strings.ToLower(username), kind)
}

// TargetID names the element a broadcast fragment replaces.
func TargetID(kind model.Kind) string {
	return "merge_requests_" + string(kind)
}

type Broadcaster struct {
	client   StreamAdder
	renderer Renderer
	maxLen   int64
}

func NewBroadcaster(client StreamAdder, renderer Renderer, maxLen int64) *Broadcaster {
	if maxLen <= 0 {
		maxLen = 100
	}
	return &Broadcaster{client: client, renderer: renderer, maxLen: maxLen}
}

// Broadcast replaces the live fragment for the snapshot's author and kind.
// It is fire-and-forget: failures are logged and swallowed.
func (b *Broadcaster) Broadcast(ctx context.Context, snapshot *model.Snapshot) {
	if snapshot == nil {
		return
	}

	stream := StreamName(snapshot.Author, snapshot.Kind)
	fragment, err := b.renderer.Render(snapshot)
	if err != nil {
		slog.WarnContext(ctx, "failed to render broadcast fragment", "error", err, "stream", stream)
		return
	}

	err = b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"action":   "replace",
			"target":   TargetID(snapshot.Kind),
			"fragment": string(fragment),
		},
	}).Err()
	if err != nil {
		slog.WarnContext(ctx, "broadcast failed", "error", err, "stream", stream)
		return
	}

	slog.DebugContext(ctx, "broadcast sent", "stream", stream, "bytes", len(fragment))
}
