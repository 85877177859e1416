package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/aggregate"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/cache"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/config"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/dedup"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/geocode"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/json"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/logging"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/metrics"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/postprocess"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/provider"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/ratelimit"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/server"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "event-aggregator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath  = flag.String("config", "config.yml", "path to YAML config")
		keyword  = flag.String("query", "", "keyword to search for")
		lat      = flag.Float64("lat", 0, "latitude of the search centre")
		lng      = flag.Float64("lng", 0, "longitude of the search centre")
		radius   = flag.Float64("radius", 0, "search radius in km")
		place    = flag.String("place", "", "place name, geocoded when -lat/-lng are absent")
		category = flag.String("category", "", "comma-separated categories")
		from     = flag.String("from", "", "window start, YYYY-MM-DD or RFC3339")
		to       = flag.String("to", "", "window end, YYYY-MM-DD or RFC3339")
		limit    = flag.Int("limit", model.DefaultLimit, "page size")
		offset   = flag.Int("offset", 0, "page offset")
		sortBy   = flag.String("sort", model.SortDate, "date | -date | title | quality | distance")
		noCache  = flag.Bool("no-cache", false, "bypass cached reads")
		once     = flag.Bool("once", false, "run a single warm-up cycle then exit")
		interval = flag.Duration("interval", 0, "warm-up interval, overrides warmup.interval")
		serve    = flag.Bool("serve", false, "serve /metrics, /healthz and /budgets")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Service, cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("event-aggregator starting", zap.String("version", Version))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Cache tiers
	store, err := cache.OpenStore(cfg.Cache, log)
	if err != nil {
		return fmt.Errorf("open durable cache: %w", err)
	}
	if s, ok := store.(*cache.SQLiteStore); ok && cfg.Cache.SQLite.PurgeInterval > 0 {
		go s.RunPurge(ctx, cfg.Cache.SQLite.PurgeInterval)
	}
	c := cache.New(store, log, cache.Options{
		Prefix:         cfg.Cache.Prefix,
		LocalMaxKeys:   cfg.Cache.LocalMaxKeys,
		LocalMaxTTL:    cfg.Cache.LocalMaxTTL,
		DefaultTTL:     cfg.Cache.DefaultTTL,
		DurableTimeout: cfg.Cache.DurableTimeout,
		ComputeTimeout: cfg.Cache.ComputeTimeout,
		Metrics:        m,
	})
	defer func() { _ = c.Close() }()

	// Providers
	geo := geocode.NewFromConfig(cfg.Geocoding, c, log)
	sources, err := aggregate.SourcesFromConfig(cfg, provider.Deps{
		Log:        log,
		Geocoder:   geo,
		Categories: postprocess.New(cfg.Categories),
		MaxLookups: cfg.Geocoding.MaxLookups,
	})
	if err != nil {
		return fmt.Errorf("build providers: %w", err)
	}

	governor := ratelimit.NewGovernor(ratelimit.GovernorOptions{
		Window:      cfg.RateLimit.Window,
		MaxRequests: cfg.RateLimit.MaxRequests,
		Overrides:   aggregate.BudgetOverrides(cfg),
		WaitCeiling: cfg.RateLimit.WaitCeiling,
	})
	orch := aggregate.New(aggregate.Deps{
		Sources:  sources,
		Cache:    c,
		Governor: governor,
		Breakers: ratelimit.NewBreakers(ratelimit.BreakerOptions{
			Failures: cfg.RateLimit.BreakerFailures,
			Cooldown: cfg.RateLimit.BreakerCooldown,
			Metrics:  m,
		}, log),
		Dedup:    dedup.New(cfg.Dedup.Threshold, aggregate.TrustFromConfig(cfg)),
		Geocoder: geo,
		Metrics:  m,
		Log:      log,
	}, aggregate.OptionsFromConfig(cfg))

	var srv *server.Server
	if *serve {
		srv = server.New(cfg.Server, reg, governor, log)
		go func() {
			if err := srv.Serve(); err != nil {
				log.Error("http server", zap.Error(err))
				cancel()
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	// Ad-hoc query
	if *keyword != "" || *place != "" || *lat != 0 || *lng != 0 {
		q := model.Query{
			Keyword:     *keyword,
			Coordinates: model.NewCoordinates(*lat, *lng),
			PlaceName:   *place,
			RadiusKm:    *radius,
			Offset:      *offset,
			Limit:       *limit,
			Sort:        *sortBy,
			BypassCache: *noCache,
		}
		if *category != "" {
			q.Categories = strings.Split(*category, ",")
		}
		if q.From, err = parseDate(*from); err != nil {
			return fmt.Errorf("bad -from: %w", err)
		}
		if q.To, err = parseDate(*to); err != nil {
			return fmt.Errorf("bad -to: %w", err)
		}
		res, err := orch.Aggregate(ctx, q)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Error("write result", zap.Error(err))
		}
		if !*serve {
			return nil
		}
	}

	// Warm-up loop
	queries := aggregate.WarmupQueries(cfg)
	every := cfg.Warmup.Interval
	if *interval > 0 {
		every = *interval
	}
	if every <= 0 {
		every = 15 * time.Minute
	}
	runOnce := func() {
		if len(queries) == 0 {
			return
		}
		if _, err := orch.Warm(ctx, queries); err != nil {
			log.Warn("warm-up cycle", zap.Error(err))
		}
	}

	if len(queries) == 0 && !*serve {
		log.Info("no warm-up queries configured and -serve not set; nothing to do")
		return nil
	}
	log.Info("event-aggregator started", zap.Int("providers", len(sources)),
		zap.Int("warmup_queries", len(queries)), zap.Duration("interval", every))
	runOnce()
	if *once {
		return nil
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("stopping", zap.Error(ctx.Err()))
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised date %q", s)
}
