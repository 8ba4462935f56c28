package cache

import (
	"context"
	"fmt"
	"time"
)

// Store is a key/value cache holding JSON-encoded values. Writes replace the
// whole value, so a reader never observes a partially written entry.
type Store interface {
	// Read decodes the value at key into dst. It reports false on a miss.
	Read(ctx context.Context, key string, dst any) (bool, error)
	Write(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Fetch returns the cached value at key, or computes it with produce and
// caches it for ttl. Produce errors are returned without caching anything.
func Fetch[T any](ctx context.Context, store Store, key string, ttl time.Duration, produce func(ctx context.Context) (T, error)) (T, error) {
	var cached T
	hit, err := store.Read(ctx, key, &cached)
	if err != nil {
		return cached, fmt.Errorf("reading %s: %w", key, err)
	}
	if hit {
		return cached, nil
	}

	value, err := produce(ctx)
	if err != nil {
		return value, err
	}

	if err := store.Write(ctx, key, value, ttl); err != nil {
		return value, fmt.Errorf("writing %s: %w", key, err)
	}
	return value, nil
}
