package aggregate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

// WarmReport summarises one warm-up cycle.
type WarmReport struct {
	Queries   int
	Events    int
	Failures  int // provider calls that did not succeed
	Completed int // queries every provider answered
}

// Warm refreshes the caches for each query, bypassing cached reads. A query
// that fails outright is reported in the joined error; the cycle carries on.
func (o *Orchestrator) Warm(ctx context.Context, queries []model.Query) (WarmReport, error) {
	var (
		rep  WarmReport
		errs []error
	)
	for _, q := range queries {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		q.BypassCache = true
		res, err := o.Aggregate(ctx, q)
		rep.Queries++
		if err != nil {
			errs = append(errs, fmt.Errorf("warm %q: %w", q.Keyword, err))
			continue
		}
		rep.Events += res.Meta.TotalAfterDedup
		failed := len(res.Providers) - res.Succeeded()
		rep.Failures += failed
		if failed == 0 {
			rep.Completed++
		}
	}
	o.log.Info("warm-up cycle finished", zap.Int("queries", rep.Queries),
		zap.Int("completed", rep.Completed), zap.Int("events", rep.Events),
		zap.Int("provider_failures", rep.Failures))
	return rep, errors.Join(errs...)
}

// Invalidate evicts one provider's cached results and every merged result,
// since those may contain its events.
func (o *Orchestrator) Invalidate(ctx context.Context, providerID string) (int, error) {
	if o.cache == nil {
		return 0, nil
	}
	n, err := o.cache.InvalidateNamespace(ctx, providerNamespace(providerID))
	if err != nil {
		return n, err
	}
	m, err := o.cache.InvalidateNamespace(ctx, mergedNamespace)
	o.log.Info("invalidated provider cache", zap.String("provider", providerID),
		zap.Int("provider_entries", n), zap.Int("merged_entries", m))
	return n + m, err
}
