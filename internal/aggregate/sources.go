package aggregate

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/config"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/provider"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/ratelimit"
)

// SourcesFromConfig builds one Source per enabled provider, in declaration order.
func SourcesFromConfig(cfg *config.Config, deps provider.Deps) ([]Source, error) {
	enabled := cfg.EnabledProviders()
	out := make([]Source, 0, len(enabled))
	for _, pc := range enabled {
		p, err := provider.NewFromConfig(pc, deps)
		if err != nil {
			return nil, fmt.Errorf("build provider %q: %w", pc.ID, err)
		}
		if deps.Log != nil {
			deps.Log.Info("configured provider", zap.String("provider", p.ID()),
				zap.String("type", pc.Type), zap.Int("priority", pc.Priority),
				zap.Duration("cache_ttl", pc.CacheTTL))
		}
		out = append(out, Source{
			Provider: p,
			Priority: pc.Priority,
			CacheTTL: pc.CacheTTL,
			Timeout:  pc.HTTP.Timeout,
		})
	}
	return out, nil
}

// OptionsFromConfig maps the aggregation and retry sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		GlobalTimeout:  cfg.Aggregation.GlobalTimeout,
		MaxConcurrency: cfg.Aggregation.MaxConcurrency,
		FetchLimit:     cfg.Aggregation.FetchLimit,
		MergedTTL:      cfg.Aggregation.MergedTTL,
		Retry: ratelimit.RetryPolicy{
			MaxAttempts: cfg.RateLimit.MaxAttempts,
			Initial:     cfg.RateLimit.Backoff,
			Max:         cfg.RateLimit.MaxBackoff,
			Multiplier:  2,
		},
	}
}

// TrustFromConfig returns the quality bonus of every enabled provider.
func TrustFromConfig(cfg *config.Config) map[string]int {
	out := map[string]int{}
	for _, pc := range cfg.EnabledProviders() {
		out[pc.ID] = pc.Trust
	}
	return out
}

// BudgetOverrides returns per-provider request budgets that differ from the default.
func BudgetOverrides(cfg *config.Config) map[string]int {
	out := map[string]int{}
	for _, pc := range cfg.EnabledProviders() {
		if pc.MaxRequests > 0 {
			out[pc.ID] = pc.MaxRequests
		}
	}
	return out
}

// WarmupQueries converts the configured warm-up list.
func WarmupQueries(cfg *config.Config) []model.Query {
	out := make([]model.Query, 0, len(cfg.Warmup.Queries))
	for _, w := range cfg.Warmup.Queries {
		out = append(out, model.Query{
			Keyword:     w.Keyword,
			PlaceName:   w.Place,
			Coordinates: model.NewCoordinates(w.Lat, w.Lng),
			RadiusKm:    w.RadiusKm,
			Categories:  w.Categories,
		})
	}
	return out
}
