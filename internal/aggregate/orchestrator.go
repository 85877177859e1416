// Package aggregate fans one query out to every provider, merges what comes
// back and hands the deduplicated candidates to the assembler.
package aggregate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/assemble"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/cache"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/dedup"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/geocode"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/json"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/metrics"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/provider"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/ratelimit"
)

// ErrNoProviders is returned when there is nothing to aggregate from.
var ErrNoProviders = errors.New("aggregate: no providers configured")

const mergedNamespace = "merged"

// Source is a provider plus the per-provider knobs the orchestrator needs.
type Source struct {
	Provider provider.Provider
	Priority int           // lower first in the candidate list
	CacheTTL time.Duration // provider result tier
	Timeout  time.Duration // per attempt
}

type Options struct {
	GlobalTimeout  time.Duration
	MaxConcurrency int
	FetchLimit     int // events requested per provider
	MergedTTL      time.Duration
	Retry          ratelimit.RetryPolicy
}

// Deps are the services an Orchestrator uses. Cache, Governor, Breakers,
// Geocoder and Metrics may be nil.
type Deps struct {
	Sources  []Source
	Cache    *cache.Cache
	Governor *ratelimit.Governor
	Breakers *ratelimit.Breakers
	Dedup    *dedup.Engine
	Geocoder geocode.Resolver
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

type Orchestrator struct {
	sources  []Source
	cache    *cache.Cache
	governor *ratelimit.Governor
	breakers *ratelimit.Breakers
	dedup    *dedup.Engine
	geocoder geocode.Resolver
	metrics  *metrics.Metrics
	log      *zap.Logger
	opts     Options
	now      func() time.Time
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.GlobalTimeout <= 0 {
		opts.GlobalTimeout = 12 * time.Second
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = len(deps.Sources)
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = 100
	}
	if opts.MergedTTL <= 0 {
		opts.MergedTTL = 5 * time.Minute
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.New(dedup.DefaultThreshold, nil)
	}
	return &Orchestrator{
		sources:  deps.Sources,
		cache:    deps.Cache,
		governor: deps.Governor,
		breakers: deps.Breakers,
		dedup:    deps.Dedup,
		geocoder: deps.Geocoder,
		metrics:  deps.Metrics,
		log:      deps.Log.With(zap.String("module", "aggregate")),
		opts:     opts,
		now:      time.Now,
	}
}

// merged is the cached deduplicated candidate list of one query.
type merged struct {
	Unique           []model.Event                   `json:"unique"`
	TotalBeforeDedup int                             `json:"total_before_dedup"`
	DuplicateGroups  int                             `json:"duplicate_groups"`
	Providers        map[string]model.ProviderStatus `json:"providers"`
}

// Aggregate runs q against every selected provider and returns the assembled
// page. Provider failures are reported in the status map; the only error is
// ErrNoProviders.
func (o *Orchestrator) Aggregate(ctx context.Context, q model.Query) (*model.AggregationResult, error) {
	started := o.now()
	if len(o.sources) == 0 {
		return nil, ErrNoProviders
	}
	q = q.Normalize()
	sources := o.selectSources(q.Providers)
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: none of %v", ErrNoProviders, q.Providers)
	}
	q = o.resolvePlace(ctx, q)

	res := &model.AggregationResult{
		RequestID: uuid.NewString(),
		Providers: make(map[string]model.ProviderStatus, len(sources)),
	}
	log := o.log.With(zap.String("request_id", res.RequestID))

	params := o.searchParams(q)
	caps := make(map[string]provider.Capabilities, len(sources))
	for _, s := range sources {
		caps[s.Provider.ID()] = s.Provider.Capabilities(params)
	}

	key := o.mergedKey(q, params.Limit, sources)
	if m, ok := o.lookupMerged(ctx, key, q.BypassCache); ok {
		for id, st := range m.Providers {
			st.CacheHit = true
			st.ElapsedMS = 0
			res.Providers[id] = st
		}
		meta := model.Meta{
			TotalBeforeDedup: m.TotalBeforeDedup,
			DuplicateGroups:  m.DuplicateGroups,
			CacheHit:         true,
			Elapsed:          o.now().Sub(started),
		}
		res.FinalResult = assemble.Assemble(m.Unique, q, assemble.Input{Capabilities: caps, Meta: meta})
		o.metrics.AggregateDuration(meta.Elapsed)
		log.Debug("served merged result from cache", zap.Int("events", res.Total))
		return res, nil
	}

	outcomes, timedOut := o.fanOut(ctx, params, q.BypassCache, sources)

	var candidates []model.Event
	allOK := true
	allCached := true
	for _, oc := range outcomes {
		res.Providers[oc.status.Provider] = oc.status
		if oc.status.State != model.StateSuccess {
			allOK = false
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s: %s", oc.status.Provider, oc.status.State, oc.status.Error))
			continue
		}
		allCached = allCached && oc.status.CacheHit
		candidates = append(candidates, oc.events...)
	}

	d := o.dedup.Deduplicate(candidates)
	o.metrics.DedupMerged(d.Merged)
	for _, ev := range d.Unique {
		st := res.Providers[ev.Source]
		st.Contributed++
		res.Providers[ev.Source] = st
	}

	if allOK && o.cache != nil {
		entry := merged{
			Unique:           d.Unique,
			TotalBeforeDedup: len(candidates),
			DuplicateGroups:  len(d.Groups),
			Providers:        res.Providers,
		}
		if err := cache.SetJSON(ctx, o.cache, key, entry, o.opts.MergedTTL); err != nil {
			log.Warn("store merged result", zap.Error(err))
		}
	}

	meta := model.Meta{
		TotalBeforeDedup: len(candidates),
		DuplicateGroups:  len(d.Groups),
		CacheHit:         allCached && len(candidates) > 0,
		TimedOut:         timedOut,
		Elapsed:          o.now().Sub(started),
	}
	res.FinalResult = assemble.Assemble(d.Unique, q, assemble.Input{Capabilities: caps, Meta: meta})
	o.metrics.AggregateDuration(meta.Elapsed)

	log.Info("aggregation finished",
		zap.Int("providers", len(sources)),
		zap.Int("succeeded", res.Succeeded()),
		zap.Int("candidates", len(candidates)),
		zap.Int("unique", len(d.Unique)),
		zap.Int("returned", len(res.Events)),
		zap.Bool("timed_out", timedOut),
		zap.Duration("elapsed", meta.Elapsed))
	return res, nil
}

// selectSources keeps the requested providers in configuration order.
func (o *Orchestrator) selectSources(ids []string) []Source {
	if len(ids) == 0 {
		return o.sources
	}
	out := make([]Source, 0, len(ids))
	for _, s := range o.sources {
		if slices.Contains(ids, s.Provider.ID()) {
			out = append(out, s)
		}
	}
	return out
}

// resolvePlace turns a place name into coordinates. Failure leaves the query
// text-only; providers that accept free-text places still get the name.
func (o *Orchestrator) resolvePlace(ctx context.Context, q model.Query) model.Query {
	if q.Coordinates != nil || q.PlaceName == "" || o.geocoder == nil {
		return q
	}
	c, err := o.geocoder.Resolve(ctx, q.PlaceName, "")
	if err != nil {
		o.log.Warn("resolve place", zap.String("place", q.PlaceName), zap.Error(err))
		return q
	}
	if c.Valid() {
		q.Coordinates = &c
	}
	return q
}

func (o *Orchestrator) lookupMerged(ctx context.Context, key string, bypass bool) (merged, bool) {
	var m merged
	if o.cache == nil || bypass {
		return m, false
	}
	hit := cache.GetJSON(ctx, o.cache, key, &m)
	o.metrics.CacheLookup(mergedNamespace, hit)
	return m, hit
}

// mergedKey identifies the candidate set of a query. Ordering and the page
// window are applied after the cache; only the per-provider fetch size, which
// bounds how deep a page the set can serve, is part of it.
func (o *Orchestrator) mergedKey(q model.Query, fetchLimit int, sources []Source) string {
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.Provider.ID())
	}
	shape := struct {
		Keyword    string             `json:"k"`
		Coords     *model.Coordinates `json:"c,omitempty"`
		Place      string             `json:"p,omitempty"`
		RadiusKm   float64            `json:"r"`
		Categories []string           `json:"cat,omitempty"`
		From       *time.Time         `json:"f,omitempty"`
		To         *time.Time         `json:"t,omitempty"`
		Providers  []string           `json:"src"`
		FetchLimit int                `json:"n"`
	}{q.Keyword, q.Coordinates, q.PlaceName, q.RadiusKm, q.Categories, q.From, q.To, ids, fetchLimit}
	return o.keys().Key(mergedNamespace, hashOf(shape))
}

func (o *Orchestrator) keys() cache.KeyBuilder {
	if o.cache == nil {
		return cache.NewKeyBuilder("")
	}
	return o.cache.Keys()
}

func hashOf(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// searchParams is what every adapter receives for q. Only a single category
// is pushed down; several are filtered after deduplication.
func (o *Orchestrator) searchParams(q model.Query) model.SearchParams {
	params := model.SearchParams{
		Keyword:  q.Keyword,
		Location: q.Coordinates,
		Place:    q.PlaceName,
		RadiusKm: q.RadiusKm,
		From:     q.From,
		To:       q.To,
		Limit:    max(o.opts.FetchLimit, q.Offset+q.Limit),
	}
	if len(q.Categories) == 1 {
		params.Category = q.Categories[0]
	}
	return params
}

// fanOut queries every source concurrently, bounded by MaxConcurrency, and
// returns the outcomes in candidate order. Sources still running when the
// global deadline passes are reported as timed out.
func (o *Orchestrator) fanOut(ctx context.Context, params model.SearchParams, bypass bool, sources []Source) ([]outcome, bool) {
	runCtx, cancel := context.WithTimeout(ctx, o.opts.GlobalTimeout)
	defer cancel()

	sem := semaphore.NewWeighted(int64(o.opts.MaxConcurrency))
	done := make(chan outcome, len(sources))
	for i, s := range sources {
		go func(i int, s Source) {
			if err := sem.Acquire(runCtx, 1); err != nil {
				done <- outcome{index: i, status: timedOutStatus(s.Provider.ID(), err)}
				return
			}
			defer sem.Release(1)
			oc := o.query(runCtx, s, params, bypass)
			oc.index = i
			done <- oc
		}(i, s)
	}

	got := make([]*outcome, len(sources))
	timedOut := false
	arrival := 0
collect:
	for arrival < len(sources) {
		select {
		case oc := <-done:
			oc.arrival = arrival
			got[oc.index] = &oc
			arrival++
		case <-runCtx.Done():
			timedOut = true
			break collect
		}
	}

	out := make([]outcome, 0, len(sources))
	for i, oc := range got {
		if oc == nil {
			st := timedOutStatus(sources[i].Provider.ID(), runCtx.Err())
			o.metrics.ProviderCall(st.Provider, string(st.State), 0, o.opts.GlobalTimeout)
			out = append(out, outcome{index: i, arrival: len(sources) + i, status: st})
			continue
		}
		out = append(out, *oc)
	}
	slices.SortStableFunc(out, func(a, b outcome) int {
		pa, pb := sources[a.index].Priority, sources[b.index].Priority
		switch {
		case pa != pb:
			return pa - pb
		case a.index != b.index:
			return a.index - b.index
		}
		return a.arrival - b.arrival
	})
	return out, timedOut
}

func timedOutStatus(id string, err error) model.ProviderStatus {
	msg := "global deadline exceeded"
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		msg = err.Error()
	}
	return model.ProviderStatus{Provider: id, State: model.StateTimeout, Error: msg}
}
