package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/json"
)

// GetJSON decodes the payload under key into out. A payload that does not
// decode is evicted and reported as a miss.
func GetJSON(ctx context.Context, c *Cache, key string, out any) bool {
	b, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		_ = c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c *Cache, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return &Error{Op: "encode", Key: key, Err: err}
	}
	return c.Set(ctx, key, b, ttl)
}

// GetOrComputeJSON is GetOrCompute for typed values.
func GetOrComputeJSON[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, factory func(context.Context) (T, error)) (T, bool, error) {
	var out T
	b, hit, err := c.GetOrCompute(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(b, &out); err != nil {
		_ = c.Delete(ctx, key)
		return out, false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return out, hit, nil
}
