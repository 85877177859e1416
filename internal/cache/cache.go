// Package cache is the two-tier result cache: a bounded in-process LRU in front
// of an optional durable store (redis or sqlite).
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/fallback"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/metrics"
)

type Options struct {
	Prefix         string
	LocalMaxKeys   int
	LocalMaxTTL    time.Duration // local copies never outlive this
	DefaultTTL     time.Duration
	DurableTimeout time.Duration
	ComputeTimeout time.Duration // bound of a GetOrCompute fill
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Cache reads local first, then durable. Writes go to both tiers.
type Cache struct {
	local   *Local
	durable Store
	keys    KeyBuilder
	opts    Options
	log     *zap.Logger
	group   singleflight.Group
	now     func() time.Time

	mu      sync.Mutex
	flights map[string]*flight
}

// New builds a layered cache. A nil durable store disables the second tier.
func New(durable Store, log *zap.Logger, opts Options) *Cache {
	if durable == nil {
		durable = NopStore{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 15 * time.Minute
	}
	if opts.DurableTimeout <= 0 {
		opts.DurableTimeout = 500 * time.Millisecond
	}
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = 30 * time.Second
	}
	return &Cache{
		local:   NewLocal(opts.LocalMaxKeys, opts.Now),
		durable: durable,
		keys:    NewKeyBuilder(opts.Prefix),
		opts:    opts,
		log:     log.With(zap.String("module", "cache"), zap.String("durable", durable.Name())),
		now:     opts.Now,
		flights: make(map[string]*flight),
	}
}

// Keys returns the builder every caller should use for namespaced keys.
func (c *Cache) Keys() KeyBuilder { return c.keys }

// Get returns the payload stored under key. Durable failures count as misses.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	e, out, err := fallback.First(ctx,
		fallback.Func("local", func(context.Context) (Entry, error) {
			if e, ok := c.local.Get(key); ok {
				return e, nil
			}
			return Entry{}, ErrMiss
		}),
		fallback.Func("durable", func(ctx context.Context) (Entry, error) {
			return c.durableGet(ctx, key)
		}),
	)
	if err != nil {
		c.opts.Metrics.CacheLookup("local", false)
		c.opts.Metrics.CacheLookup("durable", false)
		return nil, false
	}
	switch out.Step {
	case "local":
		c.opts.Metrics.CacheLookup("local", true)
	case "durable":
		c.opts.Metrics.CacheLookup("local", false)
		c.opts.Metrics.CacheLookup("durable", true)
		// promote, but never past what the durable tier still allows
		c.local.Set(c.localCopy(e))
	}
	return e.Payload, true
}

func (c *Cache) durableGet(ctx context.Context, key string) (Entry, error) {
	if _, ok := c.durable.(NopStore); ok {
		return Entry{}, ErrMiss
	}
	dctx, cancel := context.WithTimeout(ctx, c.opts.DurableTimeout)
	defer cancel()
	e, err := c.durable.Get(dctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.log.Warn("durable read failed", zap.String("key", key), zap.Error(err))
		}
		return Entry{}, ErrMiss
	}
	if e.Expired(c.now()) {
		return Entry{}, ErrMiss
	}
	return e, nil
}

// Set stores value under key in both tiers. ttl <= 0 selects the default TTL.
// A durable failure is logged and does not fail the call.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	now := c.now()
	e := Entry{Key: key, Payload: value, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	c.local.Set(c.localCopy(e))

	dctx, cancel := context.WithTimeout(ctx, c.opts.DurableTimeout)
	defer cancel()
	if err := c.durable.Set(dctx, e); err != nil {
		c.log.Warn("durable write failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

// Delete removes key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.local.Delete(key)
	dctx, cancel := context.WithTimeout(ctx, c.opts.DurableTimeout)
	defer cancel()
	return c.durable.Delete(dctx, key)
}

// InvalidateNamespace drops every key of namespace from both tiers.
func (c *Cache) InvalidateNamespace(ctx context.Context, namespace string) (int, error) {
	prefix := c.keys.Namespace(namespace)
	n := c.local.DeletePrefix(prefix)
	m, err := c.durable.DeletePrefix(ctx, prefix)
	if err != nil {
		return n, err
	}
	c.log.Info("namespace invalidated", zap.String("namespace", namespace),
		zap.Int("local", n), zap.Int("durable", m))
	return n + m, nil
}

// GetOrCompute returns the cached payload or runs factory once per key across
// concurrent callers. Factory errors are returned and never cached.
//
// The factory runs detached from any single caller, bounded by ComputeTimeout.
// A caller whose ctx ends stops waiting with ctx.Err(); the others still get
// the result. When the last waiter leaves, the fill's context is cancelled.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, factory func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, true, nil
	}
	for {
		f, ch := c.join(ctx, key, ttl, factory)
		select {
		case <-ctx.Done():
			c.leave(key, f)
			return nil, false, ctx.Err()
		case r := <-ch:
			c.leave(key, f)
			if errors.Is(r.Err, errAbandoned) && ctx.Err() == nil {
				// joined a fill whose callers had all gone; start over
				continue
			}
			if r.Err != nil {
				return nil, false, r.Err
			}
			return r.Val.([]byte), false, nil
		}
	}
}

var errAbandoned = errors.New("cache: fill abandoned by every caller")

// flight is the cancellable context of one GetOrCompute fill plus the number
// of callers still waiting on it.
type flight struct {
	ctx       context.Context
	cancel    context.CancelFunc
	waiters   int
	abandoned bool
}

func (c *Cache) join(ctx context.Context, key string, ttl time.Duration, factory func(context.Context) ([]byte, error)) (*flight, <-chan singleflight.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok || f.ctx.Err() != nil {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ComputeTimeout)
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	ch := c.group.DoChan(key, func() (any, error) {
		defer f.cancel()
		// another caller may have filled it while we waited on the group
		if v, ok := c.local.Get(key); ok {
			return v.Payload, nil
		}
		b, err := factory(f.ctx)
		if err != nil {
			c.mu.Lock()
			gone := f.abandoned
			c.mu.Unlock()
			if gone {
				return nil, fmt.Errorf("%w: %w", errAbandoned, err)
			}
			return nil, err
		}
		_ = c.Set(f.ctx, key, b, ttl)
		return b, nil
	})
	return f, ch
}

func (c *Cache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if c.flights[key] == f {
		delete(c.flights, key)
	}
	if f.ctx.Err() == nil {
		f.abandoned = true
	}
	f.cancel()
}

// Close releases the durable tier.
func (c *Cache) Close() error {
	return c.durable.Close()
}

func (c *Cache) localCopy(e Entry) Entry {
	if c.opts.LocalMaxTTL > 0 {
		if limit := c.now().Add(c.opts.LocalMaxTTL); e.ExpiresAt.After(limit) {
			e.ExpiresAt = limit
		}
	}
	return e
}
