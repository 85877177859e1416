package aggregate

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/cache"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/provider"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/ratelimit"
)

type outcome struct {
	index   int // position in the source list
	arrival int
	events  []model.Event
	status  model.ProviderStatus
}

func providerNamespace(id string) string { return "provider:" + id }

// query runs one provider: cache, governor, breaker, adapter with per-attempt
// timeout, all under the retry policy. It never returns an error; failures are
// folded into the status.
func (o *Orchestrator) query(ctx context.Context, s Source, params model.SearchParams, bypass bool) outcome {
	id := s.Provider.ID()
	start := o.now()
	st := model.ProviderStatus{Provider: id}
	log := o.log.With(zap.String("provider", id))

	// a shared cache fill may outlive this call, so attempts is written from
	// whichever goroutine runs it
	var attempts atomic.Int32
	fetch := func(ctx context.Context) ([]model.Event, error) {
		var events []model.Event
		n, err := ratelimit.Retry(ctx, o.opts.Retry, func(ctx context.Context) error {
			if o.governor != nil {
				if err := o.governor.Await(ctx, id); err != nil {
					return err
				}
			}
			return o.breakers.Execute(id, func() error {
				actx, cancel := o.attemptContext(ctx, s.Timeout)
				defer cancel()
				evs, err := s.Provider.Search(actx, params)
				if err != nil {
					return err
				}
				events = evs
				return nil
			})
		})
		attempts.Store(int32(n))
		return events, err
	}

	var (
		events []model.Event
		err    error
	)
	switch {
	case o.cache == nil:
		events, err = fetch(ctx)
	case bypass:
		events, err = fetch(ctx)
		if err == nil {
			if serr := cache.SetJSON(ctx, o.cache, o.providerKey(id, params), events, s.CacheTTL); serr != nil {
				log.Warn("store provider result", zap.Error(serr))
			}
		}
	default:
		var hit bool
		events, hit, err = cache.GetOrComputeJSON(ctx, o.cache, o.providerKey(id, params), s.CacheTTL, fetch)
		st.CacheHit = hit
		o.metrics.CacheLookup(providerNamespace(id), hit)
	}

	elapsed := o.now().Sub(start)
	st.Attempts = int(attempts.Load())
	st.ElapsedMS = elapsed.Milliseconds()
	if err != nil {
		st.State, st.RetryAfter = o.classify(id, err)
		st.Error = err.Error()
		log.Warn("provider failed", zap.String("state", string(st.State)),
			zap.Int("attempts", st.Attempts), zap.Error(err))
	} else {
		st.State = model.StateSuccess
		st.Count = len(events)
		log.Debug("provider succeeded", zap.Int("events", len(events)),
			zap.Bool("cache_hit", st.CacheHit), zap.Duration("elapsed", elapsed))
	}
	o.metrics.ProviderCall(id, string(st.State), st.Count, elapsed)
	return outcome{events: events, status: st}
}

func (o *Orchestrator) attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (o *Orchestrator) providerKey(id string, params model.SearchParams) string {
	return o.keys().Key(providerNamespace(id), hashOf(params))
}

// classify maps a failure to a provider state and a retry-after hint. An
// upstream 429 also pauses the provider in the governor.
func (o *Orchestrator) classify(id string, err error) (model.ProviderState, time.Duration) {
	switch {
	case errors.Is(err, ratelimit.ErrOpen):
		return model.StateSkipped, 0
	case errors.Is(err, ratelimit.ErrDenied):
		o.metrics.GovernorDenied(id)
		return model.StateRateLimited, o.governor.RetryAfter(id)
	}
	if pe, ok := provider.AsProviderError(err); ok {
		switch pe.Class {
		case provider.ClassRateLimited:
			o.metrics.GovernorDenied(id)
			if o.governor != nil && pe.RetryAfter > 0 {
				o.governor.Block(id, o.now().Add(pe.RetryAfter))
			}
			return model.StateRateLimited, pe.RetryAfter
		case provider.ClassTimeout:
			return model.StateTimeout, 0
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.StateTimeout, 0
	}
	return model.StateError, 0
}
