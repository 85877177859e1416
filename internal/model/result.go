package model

import "time"

// ProviderState is the outcome of one provider for one aggregation.
type ProviderState string

const (
	StateSuccess     ProviderState = "success"
	StateError       ProviderState = "error"
	StateRateLimited ProviderState = "rate-limited"
	StateTimeout     ProviderState = "timeout"
	StateSkipped     ProviderState = "skipped"
)

// ProviderStatus is the per-provider entry of the status map.
type ProviderStatus struct {
	Provider    string        `json:"provider"`
	State       ProviderState `json:"state"`
	Count       int           `json:"count"`       // raw events returned
	Contributed int           `json:"contributed"` // events surviving deduplication
	CacheHit    bool          `json:"cache_hit"`
	Attempts    int           `json:"attempts,omitempty"`
	Error       string        `json:"error,omitempty"`
	RetryAfter  time.Duration `json:"retry_after,omitempty"`
	ElapsedMS   int64         `json:"elapsed_ms"`
}

// Meta describes how a result was produced.
type Meta struct {
	TotalBeforeDedup int            `json:"total_before_dedup"`
	TotalAfterDedup  int            `json:"total_after_dedup"`
	TotalAfterFilter int            `json:"total_after_filter"`
	DuplicateGroups  int            `json:"duplicate_groups"`
	Contributions    map[string]int `json:"contributions"`
	CacheHit         bool           `json:"cache_hit"`
	TimedOut         bool           `json:"timed_out"`
	Elapsed          time.Duration  `json:"-"`
	ElapsedMS        int64          `json:"elapsed_ms"`
}

// FinalResult is the assembled, paginated page.
type FinalResult struct {
	Events  []Event `json:"events"`
	Total   int     `json:"total"`
	Offset  int     `json:"offset"`
	Limit   int     `json:"limit"`
	HasMore bool    `json:"has_more"`
	Sort    string  `json:"sort"`
	Meta    Meta    `json:"meta"`
}

// AggregationResult is what Aggregate returns to the web layer.
type AggregationResult struct {
	RequestID string `json:"request_id"`
	FinalResult
	Providers map[string]ProviderStatus `json:"providers"`
	Errors    []string                  `json:"errors,omitempty"`
}

// Succeeded counts providers that reported success.
func (r *AggregationResult) Succeeded() int {
	n := 0
	for _, st := range r.Providers {
		if st.State == StateSuccess {
			n++
		}
	}
	return n
}
