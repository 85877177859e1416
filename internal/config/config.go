package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServiceConfig struct {
	Name        string `yaml:"name"`        // default: event-aggregator
	Environment string `yaml:"environment"` // development | production
}

type LoggingConfig struct {
	Level    string `yaml:"level"`    // debug | info | warn | error
	Encoding string `yaml:"encoding"` // json | console
}

type ServerConfig struct {
	ListenAddress string        `yaml:"listen_address"` // metrics + health, e.g. :9110
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
}

type AggregationConfig struct {
	GlobalTimeout  time.Duration `yaml:"global_timeout"`  // soft deadline for one aggregate call
	MaxConcurrency int           `yaml:"max_concurrency"` // providers queried at once
	FetchLimit     int           `yaml:"fetch_limit"`     // max events requested per provider
	MergedTTL      time.Duration `yaml:"merged_ttl"`      // TTL of the deduplicated result tier
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // host:port
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type SQLiteConfig struct {
	Path          string        `yaml:"path"`
	PurgeInterval time.Duration `yaml:"purge_interval"` // expired-row sweep, 0 disables
}

type CacheConfig struct {
	Prefix         string        `yaml:"prefix"`          // key prefix shared by every namespace
	LocalMaxKeys   int           `yaml:"local_max_keys"`  // bound of the in-process tier
	LocalMaxTTL    time.Duration `yaml:"local_max_ttl"`   // local copies never outlive this
	DefaultTTL     time.Duration `yaml:"default_ttl"`     // used when a caller passes 0
	Durable        string        `yaml:"durable"`         // redis | sqlite | none
	DurableTimeout time.Duration `yaml:"durable_timeout"` // per-operation deadline on the durable tier
	ComputeTimeout time.Duration `yaml:"compute_timeout"` // bound of a shared GetOrCompute fill
	Redis          RedisConfig   `yaml:"redis"`
	SQLite         SQLiteConfig  `yaml:"sqlite"`
}

type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`       // fixed window length
	MaxRequests int           `yaml:"max_requests"` // default budget per window
	WaitCeiling time.Duration `yaml:"wait_ceiling"` // 0 = never wait, deny immediately
	// Retries for transient provider failures
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`     // initial backoff
	MaxBackoff  time.Duration `yaml:"max_backoff"` // cap
	// Circuit breaker
	BreakerFailures int           `yaml:"breaker_failures"` // consecutive failures to open, 0 disables
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type DedupConfig struct {
	Threshold float64 `yaml:"threshold"` // default 0.85
}

type GeocodingConfig struct {
	Enable     bool          `yaml:"enable"`
	BaseURL    string        `yaml:"base_url"` // nominatim-compatible endpoint
	UserAgent  string        `yaml:"user_agent"`
	Email      string        `yaml:"email"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	MaxLookups int           `yaml:"max_lookups"` // per provider response
	// Extra nominatim-compatible endpoints tried in order after BaseURL
	Fallbacks []string `yaml:"fallbacks"`
}

type CommonHTTP struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type ProviderConfig struct {
	Type    string     `yaml:"type"` // ticketmaster | eventbrite | predicthq | rapidapi
	ID      string     `yaml:"id"`   // defaults to Type
	Enabled *bool      `yaml:"enabled"`
	BaseURL string     `yaml:"base_url"`
	APIKey  string     `yaml:"api_key"`
	Host    string     `yaml:"host"` // rapidapi host header
	HTTP    CommonHTTP `yaml:"http"`
	// Cache and ordering
	CacheTTL time.Duration `yaml:"cache_ttl"` // short for volatile listings, long for static ones
	Priority int           `yaml:"priority"`  // lower sorts first in the candidate list
	Trust    int           `yaml:"trust"`     // quality bonus of this source
	// Budget overrides
	MaxRequests int `yaml:"max_requests"` // per rate_limit.window, 0 = default
	// Outbound pacing
	RatePerSecond float64 `yaml:"rate_per_second"` // e.g. 5 = 5 req/sec, 0 = unpaced
	Burst         int     `yaml:"burst"`
	PageSize      int     `yaml:"page_size"`
}

// IsEnabled treats a missing flag as enabled.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type CategoryMapRule struct {
	Provider string            `yaml:"provider"` // empty applies to all providers
	Mapping  map[string]string `yaml:"mapping"`  // provider value -> canonical tag
}

type CategoryKeywordRule struct {
	When     []string `yaml:"when"` // any of these words in title/description
	Category string   `yaml:"category"`
}

type CategoriesConfig struct {
	Maps     []CategoryMapRule     `yaml:"maps"`
	Keywords []CategoryKeywordRule `yaml:"keywords"`
	Fallback string                `yaml:"fallback"` // tag for unmapped values, default "other"
}

type WarmupQuery struct {
	Keyword    string   `yaml:"keyword"`
	Place      string   `yaml:"place"`
	Lat        float64  `yaml:"lat"`
	Lng        float64  `yaml:"lng"`
	RadiusKm   float64  `yaml:"radius_km"`
	Categories []string `yaml:"categories"`
}

type WarmupConfig struct {
	Interval time.Duration `yaml:"interval"`
	Queries  []WarmupQuery `yaml:"queries"`
}

type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Dedup       DedupConfig       `yaml:"dedup"`
	Geocoding   GeocodingConfig   `yaml:"geocoding"`
	Categories  CategoriesConfig  `yaml:"categories"`
	Providers   []ProviderConfig  `yaml:"providers"`
	Warmup      WarmupConfig      `yaml:"warmup"`
}

var (
	ErrNoProviders     = errors.New("no providers enabled")
	ErrUnknownBackend  = errors.New("unknown durable cache backend")
	ErrDuplicateSource = errors.New("duplicate provider id")
)

// Load reads a YAML file, expands ${ENV} references, applies defaults and validates.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse is Load without the file read.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &c); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills every zero value that has a sensible default.
func (c *Config) ApplyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "event-aggregator"
	}
	if c.Service.Environment == "" {
		c.Service.Environment = "development"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":9110"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 5 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Aggregation.GlobalTimeout == 0 {
		c.Aggregation.GlobalTimeout = 12 * time.Second
	}
	if c.Aggregation.MaxConcurrency <= 0 {
		c.Aggregation.MaxConcurrency = 8
	}
	if c.Aggregation.FetchLimit <= 0 {
		c.Aggregation.FetchLimit = 100
	}
	if c.Aggregation.MergedTTL == 0 {
		c.Aggregation.MergedTTL = 5 * time.Minute
	}

	if c.Cache.Prefix == "" {
		c.Cache.Prefix = "eventagg"
	}
	if c.Cache.LocalMaxKeys <= 0 {
		c.Cache.LocalMaxKeys = 2048
	}
	if c.Cache.LocalMaxTTL == 0 {
		c.Cache.LocalMaxTTL = 10 * time.Minute
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = 15 * time.Minute
	}
	c.Cache.Durable = strings.ToLower(strings.TrimSpace(c.Cache.Durable))
	if c.Cache.Durable == "" {
		c.Cache.Durable = "none"
	}
	if c.Cache.DurableTimeout == 0 {
		c.Cache.DurableTimeout = 500 * time.Millisecond
	}
	if c.Cache.ComputeTimeout == 0 {
		c.Cache.ComputeTimeout = 30 * time.Second
	}
	if c.Cache.Redis.Addr == "" {
		c.Cache.Redis.Addr = "localhost:6379"
	}
	if c.Cache.Redis.PoolSize <= 0 {
		c.Cache.Redis.PoolSize = 10
	}
	if c.Cache.SQLite.Path == "" {
		c.Cache.SQLite.Path = "event-cache.sqlite"
	}

	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.MaxRequests <= 0 {
		c.RateLimit.MaxRequests = 60
	}
	if c.RateLimit.MaxAttempts <= 0 {
		c.RateLimit.MaxAttempts = 2
	}
	if c.RateLimit.Backoff == 0 {
		c.RateLimit.Backoff = 250 * time.Millisecond
	}
	if c.RateLimit.MaxBackoff == 0 {
		c.RateLimit.MaxBackoff = 2 * time.Second
	}
	if c.RateLimit.BreakerCooldown == 0 {
		c.RateLimit.BreakerCooldown = 30 * time.Second
	}

	if c.Dedup.Threshold <= 0 {
		c.Dedup.Threshold = 0.85
	}

	if c.Geocoding.BaseURL == "" {
		c.Geocoding.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if c.Geocoding.UserAgent == "" {
		c.Geocoding.UserAgent = c.Service.Name
	}
	if c.Geocoding.Timeout == 0 {
		c.Geocoding.Timeout = 3 * time.Second
	}
	if c.Geocoding.CacheTTL == 0 {
		c.Geocoding.CacheTTL = 30 * 24 * time.Hour
	}
	if c.Geocoding.MaxLookups <= 0 {
		c.Geocoding.MaxLookups = 10
	}

	if c.Categories.Fallback == "" {
		c.Categories.Fallback = "other"
	}

	for i := range c.Providers {
		applyProviderDefaults(&c.Providers[i])
	}
}

func applyProviderDefaults(p *ProviderConfig) {
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	if p.ID == "" {
		p.ID = p.Type
	}
	if p.HTTP.Timeout == 0 {
		p.HTTP.Timeout = 8 * time.Second
	}
	if p.CacheTTL == 0 {
		switch p.Type {
		case "rapidapi":
			p.CacheTTL = 5 * time.Minute // real-time listings
		case "predicthq":
			p.CacheTTL = 30 * time.Minute
		default:
			p.CacheTTL = time.Hour
		}
	}
	if p.Trust == 0 {
		switch p.Type {
		case "ticketmaster":
			p.Trust = 20
		case "eventbrite":
			p.Trust = 15
		case "predicthq":
			p.Trust = 10
		default:
			p.Trust = 5
		}
	}
	if p.PageSize <= 0 {
		p.PageSize = 50
	}
	if p.Burst <= 0 && p.RatePerSecond > 0 {
		p.Burst = 1
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	seen := map[string]bool{}
	enabled := 0
	for _, p := range c.Providers {
		if p.Type == "" {
			errs = append(errs, errors.New("provider without type"))
			continue
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateSource, p.ID))
		}
		seen[p.ID] = true
		if p.CacheTTL < 0 {
			errs = append(errs, fmt.Errorf("provider %s: negative cache_ttl", p.ID))
		}
		if p.IsEnabled() {
			enabled++
		}
	}
	if enabled == 0 {
		errs = append(errs, ErrNoProviders)
	}
	switch c.Cache.Durable {
	case "none", "redis", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Cache.Durable))
	}
	if c.Dedup.Threshold > 1 {
		errs = append(errs, fmt.Errorf("dedup.threshold %.2f above 1", c.Dedup.Threshold))
	}
	if c.Aggregation.GlobalTimeout < 0 {
		errs = append(errs, errors.New("aggregation.global_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// EnabledProviders returns enabled provider configs in declaration order.
func (c *Config) EnabledProviders() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.IsEnabled() {
			out = append(out, p)
		}
	}
	return out
}
