package model

import (
	"strings"
	"time"
)

// PlaceholderImage marks an event that has no usable image.
const PlaceholderImage = "placeholder:event"

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within latitude/longitude ranges.
// The null island (0,0) is treated as unset since providers use it for "unknown".
func (c Coordinates) Valid() bool {
	if c.Lat == 0 && c.Lng == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// NewCoordinates returns a pointer to a valid point, or nil when out of range.
func NewCoordinates(lat, lng float64) *Coordinates {
	c := Coordinates{Lat: lat, Lng: lng}
	if !c.Valid() {
		return nil
	}
	return &c
}

// PriceRange is the advertised ticket price span. A nil *PriceRange means free.
type PriceRange struct {
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Currency string  `json:"currency"`
}

// Free reports whether the range carries no cost.
func (p *PriceRange) Free() bool {
	return p == nil || (p.Min <= 0 && p.Max <= 0)
}

// Venue describes where an event takes place.
type Venue struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"` // free-text street address
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

// FullAddress joins the address parts that are present.
func (v Venue) FullAddress() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{v.Address, v.City, v.Region, v.Country} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// TicketLink is a purchase link for an event.
type TicketLink struct {
	Source string `json:"source,omitempty"`
	URL    string `json:"url"`
}

// Organizer describes who runs an event.
type Organizer struct {
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Event is the canonical record produced by provider adapters.
type Event struct {
	ID          string       `json:"id"`          // "<provider>:<external id>"
	ExternalID  string       `json:"external_id"` // id as the provider knows it
	Source      string       `json:"source"`      // provider id, set once by the adapter
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Start       time.Time    `json:"start"`
	End         *time.Time   `json:"end,omitempty"`
	TimeTBA     bool         `json:"time_tba,omitempty"` // start time-of-day unknown
	Venue       Venue        `json:"venue"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	Price       *PriceRange  `json:"price,omitempty"`
	ImageURL    string       `json:"image_url"`
	Images      []string     `json:"images,omitempty"`
	Tickets     []TicketLink `json:"tickets,omitempty"`
	Organizer   Organizer    `json:"organizer"`
	URL         string       `json:"url,omitempty"`
	Quality     int          `json:"quality"`
}

// HasImage reports whether the event carries a real image.
func (e *Event) HasImage() bool {
	return e.ImageURL != "" && e.ImageURL != PlaceholderImage
}

// ImageCount counts distinct real images, including ImageURL.
func (e *Event) ImageCount() int {
	seen := make(map[string]struct{}, len(e.Images)+1)
	if e.HasImage() {
		seen[e.ImageURL] = struct{}{}
	}
	for _, u := range e.Images {
		if u == "" || u == PlaceholderImage {
			continue
		}
		seen[u] = struct{}{}
	}
	return len(seen)
}

// QualifiedID builds the provider-qualified identifier.
func QualifiedID(provider, externalID string) string {
	return provider + ":" + externalID
}
