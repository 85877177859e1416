package model

import (
	"strings"
	"time"
)

// Sort orders understood by the assembler.
const (
	SortDate     = "date"
	SortDateDesc = "-date"
	SortTitle    = "title"
	SortQuality  = "quality"
	SortDistance = "distance"
)

const (
	DefaultLimit    = 20
	MaxLimit        = 100
	DefaultRadiusKm = 25
)

// Query is what the web layer hands to the aggregator.
type Query struct {
	Keyword     string       `json:"keyword,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	PlaceName   string       `json:"place_name,omitempty"` // geocoded when Coordinates is nil
	RadiusKm    float64      `json:"radius_km,omitempty"`
	Categories  []string     `json:"categories,omitempty"`
	From        *time.Time   `json:"from,omitempty"`
	To          *time.Time   `json:"to,omitempty"`
	Offset      int          `json:"offset,omitempty"`
	Limit       int          `json:"limit,omitempty"`
	Sort        string       `json:"sort,omitempty"`
	BypassCache bool         `json:"bypass_cache,omitempty"`
	Providers   []string     `json:"providers,omitempty"` // empty means every enabled provider
}

// Normalize returns a copy with trimmed text and clamped paging/radius.
func (q Query) Normalize() Query {
	q.Keyword = strings.Join(strings.Fields(q.Keyword), " ")
	q.PlaceName = strings.TrimSpace(q.PlaceName)
	if q.Coordinates != nil && !q.Coordinates.Valid() {
		q.Coordinates = nil
	}
	if q.RadiusKm <= 0 {
		q.RadiusKm = DefaultRadiusKm
	}
	cats := make([]string, 0, len(q.Categories))
	for _, c := range q.Categories {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			cats = append(cats, c)
		}
	}
	q.Categories = cats
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	switch q.Sort {
	case SortDate, SortDateDesc, SortTitle, SortQuality, SortDistance:
	default:
		q.Sort = SortDate
	}
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		q.From, q.To = q.To, q.From
	}
	return q
}

// SearchParams is the canonical request every provider adapter receives.
type SearchParams struct {
	Keyword  string       `json:"keyword,omitempty"`
	Location *Coordinates `json:"location,omitempty"`
	Place    string       `json:"place,omitempty"` // free-text place for text-only upstreams
	RadiusKm float64      `json:"radius_km,omitempty"`
	From     *time.Time   `json:"from,omitempty"`
	To       *time.Time   `json:"to,omitempty"`
	Category string       `json:"category,omitempty"`
	Offset   int          `json:"offset"`
	Limit    int          `json:"limit"`
}
