// Package assemble turns deduplicated events into the page a caller sees:
// residual filtering, ordering, pagination and result metadata.
package assemble

import (
	"cmp"
	"slices"
	"strings"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/dedup"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/provider"
)

// Input carries what the orchestrator knows about the run.
type Input struct {
	// Capabilities by provider id. Filters a provider already applied
	// upstream are not repeated for its events.
	Capabilities map[string]provider.Capabilities
	// Meta is copied into the result; the assembler fills the counts it owns.
	Meta model.Meta
}

// Assemble filters, sorts and paginates unique. q must be normalized.
// unique is not modified.
func Assemble(unique []model.Event, q model.Query, in Input) model.FinalResult {
	filtered := make([]model.Event, 0, len(unique))
	for i := range unique {
		if keep(&unique[i], q, in.Capabilities[unique[i].Source]) {
			filtered = append(filtered, unique[i])
		}
	}

	sortEvents(filtered, q)

	meta := in.Meta
	meta.TotalAfterDedup = len(unique)
	meta.TotalAfterFilter = len(filtered)
	meta.Contributions = make(map[string]int)
	for _, ev := range filtered {
		meta.Contributions[ev.Source]++
	}
	meta.ElapsedMS = meta.Elapsed.Milliseconds()

	res := model.FinalResult{
		Total:  len(filtered),
		Offset: q.Offset,
		Limit:  q.Limit,
		Sort:   q.Sort,
		Meta:   meta,
	}
	start := min(q.Offset, len(filtered))
	end := min(start+q.Limit, len(filtered))
	res.Events = append(make([]model.Event, 0, end-start), filtered[start:end]...)
	res.HasMore = end < len(filtered)
	return res
}

// keep applies the filters the event's provider could not push down.
func keep(ev *model.Event, q model.Query, caps provider.Capabilities) bool {
	if !caps.Keyword && q.Keyword != "" && !matchesKeyword(ev, q.Keyword) {
		return false
	}
	if !caps.Category && len(q.Categories) > 0 && !slices.Contains(q.Categories, ev.Category) {
		return false
	}
	if !caps.DateRange && !inWindow(ev, q) {
		return false
	}
	if !caps.Geo && q.Coordinates != nil && ev.Coordinates != nil {
		// unknown coordinates are kept: the upstream matched the place by text
		if dedup.HaversineKm(*q.Coordinates, *ev.Coordinates) > q.RadiusKm {
			return false
		}
	}
	return true
}

func matchesKeyword(ev *model.Event, keyword string) bool {
	k := strings.ToLower(keyword)
	for _, s := range []string{ev.Title, ev.Description, ev.Venue.Name} {
		if strings.Contains(strings.ToLower(s), k) {
			return true
		}
	}
	return false
}

// inWindow keeps events that overlap [From, To]. Multi-day events that started
// before From but are still running are kept.
func inWindow(ev *model.Event, q model.Query) bool {
	if q.To != nil && ev.Start.After(*q.To) {
		return false
	}
	if q.From != nil && ev.Start.Before(*q.From) {
		if ev.End == nil || ev.End.Before(*q.From) {
			return false
		}
	}
	return true
}

func sortEvents(events []model.Event, q model.Query) {
	var less func(a, b *model.Event) int
	switch q.Sort {
	case model.SortDateDesc:
		less = func(a, b *model.Event) int { return b.Start.Compare(a.Start) }
	case model.SortTitle:
		less = func(a, b *model.Event) int {
			return cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		}
	case model.SortQuality:
		less = func(a, b *model.Event) int { return cmp.Compare(b.Quality, a.Quality) }
	case model.SortDistance:
		if q.Coordinates == nil {
			less = byDate
			break
		}
		origin := *q.Coordinates
		less = func(a, b *model.Event) int {
			switch {
			case a.Coordinates == nil && b.Coordinates == nil:
				return 0
			case a.Coordinates == nil:
				return 1
			case b.Coordinates == nil:
				return -1
			}
			return cmp.Compare(dedup.HaversineKm(origin, *a.Coordinates), dedup.HaversineKm(origin, *b.Coordinates))
		}
	default:
		less = byDate
	}
	slices.SortStableFunc(events, func(a, b model.Event) int { return less(&a, &b) })
}

func byDate(a, b *model.Event) int { return a.Start.Compare(b.Start) }
