package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/model"
	"mrpulse.app/dashboard/internal/notify"
)

// StreamReader is the part of the redis client the live stream needs.
type StreamReader interface {
	XRead(ctx context.Context, a *redis.XReadArgs) *redis.XStreamSliceCmd
}

type StreamHandler struct {
	redis StreamReader
	block time.Duration
	// retryDelay separates reads after a failure; maxFailures consecutive
	// failures end the stream so the client reconnects.
	retryDelay  time.Duration
	maxFailures int
}

func NewStreamHandler(client StreamReader) *StreamHandler {
	return &StreamHandler{
		redis:       client,
		block:       25 * time.Second,
		retryDelay:  time.Second,
		maxFailures: 5,
	}
}

// WithBlock changes how long one read waits before a keep-alive ping.
func (h *StreamHandler) WithBlock(block time.Duration) *StreamHandler {
	h.block = block
	return h
}

// WithRetry changes the backoff after a failed read and how many consecutive
// failures close the stream.
func (h *StreamHandler) WithRetry(delay time.Duration, maxFailures int) *StreamHandler {
	h.retryDelay = delay
	h.maxFailures = maxFailures
	return h
}

// Stream relays fragment replacements for one author and kind as
// server-sent events until the client goes away.
func (h *StreamHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	if h.redis == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "redis not configured"})
		return
	}

	username := c.Param("username")
	kind, ok := model.ParseKind(c.Param("kind"))
	if !ok || !fetcher.ValidUsername(username) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	stream := notify.StreamName(username, kind)
	lastID := c.Query("last_id")
	if lastID == "" {
		lastID = "$"
	}

	setSSEHeaders(c.Writer)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	sseWrite(c.Writer, "ping", "ready")
	flusher.Flush()

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := h.redis.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Block:   h.block,
			Count:   10,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				failures = 0
				sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
				flusher.Flush()
				continue
			}
			if ctx.Err() != nil {
				return
			}

			failures++
			slog.WarnContext(ctx, "stream read failed", "error", err, "stream", stream, "failures", failures)
			sseWrite(c.Writer, "error", map[string]string{"error": err.Error()})
			flusher.Flush()
			if failures >= h.maxFailures {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(h.retryDelay):
			}
			continue
		}
		failures = 0

		for _, streamRes := range res {
			for _, msg := range streamRes.Messages {
				lastID = msg.ID
				sseWriteID(c.Writer, msg.ID)
				sseWrite(c.Writer, fmt.Sprint(msg.Values["action"]), map[string]any{
					"target":   msg.Values["target"],
					"fragment": msg.Values["fragment"],
				})
				flusher.Flush()
			}
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
}

func sseWriteID(w http.ResponseWriter, id string) {
	_, _ = fmt.Fprintf(w, "id: %s\n", id)
}

func sseWrite(w http.ResponseWriter, event string, data any) {
	payload := marshalPayload(data)
	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}
	for _, line := range strings.Split(payload, "\n") {
		_, _ = fmt.Fprintf(w, "data: %s\n", line)
	}
	_, _ = fmt.Fprint(w, "\n")
}

func marshalPayload(data any) string {
	switch payload := data.(type) {
	case string:
		return payload
	case []byte:
		return string(payload)
	default:
		bytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", data)
		}
		return string(bytes)
	}
}
