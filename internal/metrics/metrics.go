package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	providerEvents   *prometheus.CounterVec
	cacheLookups     *prometheus.CounterVec
	governorDenied   *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	dedupMerged      prometheus.Counter
	aggregateDur     prometheus.Histogram
	lastSuccessTS    *prometheus.GaugeVec
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventagg",
			Name:      "provider_requests_total",
			Help:      "Provider calls by final state",
		}, []string{"provider", "state"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "eventagg",
			Name:      "provider_request_duration_seconds",
			Help:      "Wall time of provider calls including retries",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		}, []string{"provider"}),
		providerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventagg",
			Name:      "provider_events_total",
			Help:      "Canonical events returned by providers",
		}, []string{"provider"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventagg",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by tier and result",
		}, []string{"tier", "result"}),
		governorDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventagg",
			Name:      "governor_denied_total",
			Help:      "Provider calls denied by the request governor",
		}, []string{"provider"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventagg",
			Name:      "provider_breaker_state",
			Help:      "Circuit breaker state per provider (0 closed, 1 half-open, 2 open)",
		}, []string{"provider"}),
		dedupMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventagg",
			Name:      "dedup_merged_total",
			Help:      "Candidate events discarded as duplicates",
		}),
		aggregateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "eventagg",
			Name:      "aggregate_duration_seconds",
			Help:      "Time spent in one aggregate call",
			Buckets:   prometheus.DefBuckets,
		}),
		lastSuccessTS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventagg",
			Name:      "provider_last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful provider call",
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.providerRequests, m.providerLatency, m.providerEvents,
			m.cacheLookups, m.governorDenied, m.breakerState,
			m.dedupMerged, m.aggregateDur, m.lastSuccessTS,
		)
	}
	return m
}

// ProviderCall records the outcome of one provider invocation.
func (m *Metrics) ProviderCall(provider, state string, events int, d time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, state).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(d.Seconds())
	if events > 0 {
		m.providerEvents.WithLabelValues(provider).Add(float64(events))
	}
	if state == "success" {
		m.lastSuccessTS.WithLabelValues(provider).Set(float64(time.Now().Unix()))
	}
}

// CacheLookup records a hit or miss on a cache tier.
func (m *Metrics) CacheLookup(tier string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(tier, result).Inc()
}

// GovernorDenied counts a rate-limited provider call.
func (m *Metrics) GovernorDenied(provider string) {
	if m == nil {
		return
	}
	m.governorDenied.WithLabelValues(provider).Inc()
}

// BreakerState publishes a breaker transition.
func (m *Metrics) BreakerState(provider string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(provider).Set(float64(state))
}

// DedupMerged counts discarded duplicates.
func (m *Metrics) DedupMerged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dedupMerged.Add(float64(n))
}

// AggregateDuration observes one aggregate call.
func (m *Metrics) AggregateDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.aggregateDur.Observe(d.Seconds())
}
