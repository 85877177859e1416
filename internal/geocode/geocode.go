// Package geocode resolves free-text addresses to coordinates.
package geocode

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/cache"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/config"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/fallback"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

// ErrNotFound means the address could not be resolved.
var ErrNotFound = errors.New("geocode: not found")

type Resolver interface {
	// Resolve looks up an address; venueHint (a venue name) is optional.
	Resolve(ctx context.Context, address, venueHint string) (model.Coordinates, error)
}

// Chain tries resolvers in order and returns the first hit.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, address, venueHint string) (model.Coordinates, error) {
	if len(c) == 0 {
		return model.Coordinates{}, ErrNotFound
	}
	steps := make([]fallback.Step[model.Coordinates], 0, len(c))
	for i, r := range c {
		r := r
		steps = append(steps, fallback.Func(stepName(r, i), func(ctx context.Context) (model.Coordinates, error) {
			return r.Resolve(ctx, address, venueHint)
		}))
	}
	v, _, err := fallback.First(ctx, steps...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.Coordinates{}, ctxErr
		}
		return model.Coordinates{}, errors.Join(ErrNotFound, err)
	}
	return v, nil
}

func stepName(r Resolver, i int) string {
	if n, ok := r.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "resolver-" + strconv.Itoa(i)
}

// Cached memoises a resolver in the shared cache. Misses are not cached.
type Cached struct {
	next  Resolver
	cache *cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewCached(next Resolver, c *cache.Cache, ttl time.Duration, log *zap.Logger) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl, log: log.With(zap.String("module", "geocode"))}
}

func (c *Cached) Resolve(ctx context.Context, address, venueHint string) (model.Coordinates, error) {
	key := c.cache.Keys().Key("geocode", lookupKey(address, venueHint))
	v, hit, err := cache.GetOrComputeJSON(ctx, c.cache, key, c.ttl, func(ctx context.Context) (model.Coordinates, error) {
		return c.next.Resolve(ctx, address, venueHint)
	})
	if err != nil {
		return model.Coordinates{}, err
	}
	if hit {
		c.log.Debug("geocode cache hit", zap.String("address", address))
	}
	return v, nil
}

func lookupKey(address, venueHint string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(venueHint+"|"+address), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}

// NewFromConfig builds the configured resolver stack: every endpoint in order,
// memoised through c when it is non-nil. It returns nil when geocoding is off.
func NewFromConfig(cfg config.GeocodingConfig, c *cache.Cache, log *zap.Logger) Resolver {
	if !cfg.Enable {
		return nil
	}
	endpoints := append([]string{cfg.BaseURL}, cfg.Fallbacks...)
	chain := make(Chain, 0, len(endpoints))
	for _, u := range endpoints {
		if strings.TrimSpace(u) == "" {
			continue
		}
		chain = append(chain, NewNominatim(NominatimOptions{
			BaseURL:   u,
			UserAgent: cfg.UserAgent,
			Email:     cfg.Email,
			Timeout:   cfg.Timeout,
		}))
	}
	var r Resolver = chain
	if c != nil {
		r = NewCached(chain, c, cfg.CacheTTL, log)
	}
	return r
}
