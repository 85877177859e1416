package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ProviderCall("ticketmaster", "success", 12, 300*time.Millisecond)
	m.ProviderCall("ticketmaster", "error", 0, time.Second)
	m.CacheLookup("local", true)
	m.CacheLookup("local", false)
	m.CacheLookup("local", false)
	m.GovernorDenied("eventbrite")
	m.DedupMerged(3)
	m.DedupMerged(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.providerRequests.WithLabelValues("ticketmaster", "success")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.providerEvents.WithLabelValues("ticketmaster")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("local", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.governorDenied.WithLabelValues("eventbrite")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.dedupMerged))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ProviderCall("x", "success", 1, time.Millisecond)
		m.CacheLookup("durable", true)
		m.GovernorDenied("x")
		m.BreakerState("x", 2)
		m.DedupMerged(1)
		m.AggregateDuration(time.Second)
	})
}
