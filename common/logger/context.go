package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// A refresh job tags its context once and every fetch, diff and dispatch log line
// below it carries the author and kind without passing them around.
type LogFields struct {
	Author    *string // GitLab username whose merge requests are being handled
	Kind      *string // "open" or "merged"
	MessageID *string // Redis stream message ID
	JobID     *int64  // Refresh job ID
	Component string  // Component name (e.g., "mrpulse.fetcher.merge_requests")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.Author != nil {
		result.Author = new.Author
	}
	if new.Kind != nil {
		result.Kind = new.Kind
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.JobID != nil {
		result.JobID = new.JobID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{Author: logger.Ptr(author)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
