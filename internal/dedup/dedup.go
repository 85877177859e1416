// Package dedup collapses near-duplicate events from different providers and
// keeps the most complete record of each group.
package dedup

import (
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

// DefaultThreshold is the overall similarity at which two events are the same.
const DefaultThreshold = 0.85

// float sums of the weights may land a hair below an exact threshold
const epsilon = 1e-9

type Engine struct {
	Threshold float64
	Trust     map[string]int // provider id -> quality bonus
}

// Result is the outcome of one deduplication.
type Result struct {
	Unique []model.Event
	// Groups holds every cluster with more than one member, in input order.
	Groups [][]model.Event
	// Merged is the number of discarded duplicates.
	Merged int
}

func New(threshold float64, trust map[string]int) *Engine {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Engine{Threshold: threshold, Trust: trust}
}

// Same reports whether a and b describe the same event. Events whose dates
// are more than a week apart are never the same, whatever the other fields say.
func (e *Engine) Same(a, b *model.Event) bool {
	s := Similarity(a, b)
	if s.Date == 0 {
		return false
	}
	return s.Overall+epsilon >= e.threshold()
}

func (e *Engine) threshold() float64 {
	if e.Threshold <= 0 {
		return DefaultThreshold
	}
	return e.Threshold
}

type cluster struct {
	members []int // indexes into the input, ascending
	rep     int   // index of the representative
}

// Deduplicate clusters events in input order and keeps one representative per
// cluster. Clustering is repeated over the representatives until nothing
// merges, so the output is stable under another pass. Input is not modified.
func (e *Engine) Deduplicate(events []model.Event) Result {
	if len(events) == 0 {
		return Result{Unique: []model.Event{}}
	}
	quality := make([]int, len(events))
	for i := range events {
		quality[i] = Quality(&events[i], e.Trust)
	}

	clusters := make([]cluster, len(events))
	for i := range events {
		clusters[i] = cluster{members: []int{i}, rep: i}
	}
	for {
		next, merged := e.pass(events, quality, clusters)
		clusters = next
		if !merged {
			break
		}
	}

	res := Result{Unique: make([]model.Event, 0, len(clusters))}
	for _, c := range clusters {
		rep := events[c.rep]
		rep.Quality = quality[c.rep]
		res.Unique = append(res.Unique, rep)
		if len(c.members) > 1 {
			group := make([]model.Event, 0, len(c.members))
			for _, m := range c.members {
				ev := events[m]
				ev.Quality = quality[m]
				group = append(group, ev)
			}
			res.Groups = append(res.Groups, group)
			res.Merged += len(c.members) - 1
		}
	}
	return res
}

// pass runs one round of single-pass clustering over the current representatives.
func (e *Engine) pass(events []model.Event, quality []int, in []cluster) ([]cluster, bool) {
	assigned := make([]bool, len(in))
	out := make([]cluster, 0, len(in))
	merged := false
	for i := range in {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		cur := cluster{members: append([]int(nil), in[i].members...)}
		seed := &events[in[i].rep]
		for j := i + 1; j < len(in); j++ {
			if assigned[j] {
				continue
			}
			if e.Same(seed, &events[in[j].rep]) {
				assigned[j] = true
				cur.members = mergeSorted(cur.members, in[j].members)
				merged = true
			}
		}
		cur.rep = best(cur.members, quality)
		out = append(out, cur)
	}
	return out, merged
}

// best returns the highest-quality member; the earliest input wins ties.
func best(members []int, quality []int) int {
	top := members[0]
	for _, m := range members[1:] {
		if quality[m] > quality[top] {
			top = m
		}
	}
	return top
}

func mergeSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
