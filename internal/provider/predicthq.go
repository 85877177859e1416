package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

// PredictHQ Events API: https://docs.predicthq.com/api/events/search-events
// Auth header: "Authorization: Bearer <token>"
// Endpoint used: /v1/events/

type PredictHQ struct {
	baseOptions
}

type phqResponse struct {
	Count   int        `json:"count"`
	Next    string     `json:"next"`
	Results []phqEvent `json:"results"`
}

type phqEvent struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Labels      []string    `json:"labels"`
	Start       string      `json:"start"`
	End         string      `json:"end"`
	Location    []flexFloat `json:"location"` // [lon, lat]
	Country     string      `json:"country"`
	Entities    []struct {
		EntityID         string `json:"entity_id"`
		Name             string `json:"name"`
		Type             string `json:"type"`
		FormattedAddress string `json:"formatted_address"`
	} `json:"entities"`
	Geo *struct {
		Address struct {
			FormattedAddress string `json:"formatted_address"`
			Locality         string `json:"locality"`
			Region           string `json:"region"`
		} `json:"address"`
	} `json:"geo"`
}

// canonical category -> PredictHQ category
var phqCategories = map[string]string{
	"music": "concerts", "sports": "sports", "arts": "performing-arts", "festival": "festivals",
	"community": "community", "conference": "conferences,expos",
}

func NewPredictHQ(o baseOptions) *PredictHQ {
	if o.baseURL == "" {
		o.baseURL = "https://api.predicthq.com"
	}
	return &PredictHQ{baseOptions: o}
}

func (p *PredictHQ) ID() string   { return p.id }
func (p *PredictHQ) Kind() string { return "predicthq" }

func (p *PredictHQ) Capabilities(sp model.SearchParams) Capabilities {
	return Capabilities{Keyword: true, Category: mapped(phqCategories, sp.Category), DateRange: true, Geo: true}
}

func (p *PredictHQ) Search(ctx context.Context, sp model.SearchParams) ([]model.Event, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(fetchSize(sp.Limit, p.pageSize)))
	q.Set("offset", strconv.Itoa(sp.Offset))
	q.Set("sort", "start")
	if sp.Keyword != "" {
		q.Set("q", sp.Keyword)
	}
	if sp.Location != nil {
		q.Set("within", fmt.Sprintf("%dkm@%.6f,%.6f", int(sp.RadiusKm+0.5), sp.Location.Lat, sp.Location.Lng))
	}
	if sp.From != nil {
		q.Set("active.gte", sp.From.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if sp.To != nil {
		q.Set("active.lte", sp.To.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if c, ok := phqCategories[sp.Category]; ok {
		q.Set("category", c)
	}

	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	var resp phqResponse
	if err := getJSON(ctx, p.client, p.id, p.baseURL+"/v1/events/?"+q.Encode(), headers, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(resp.Results))
	for _, raw := range resp.Results {
		if ev, ok := mapPredictHQEvent(p.id, raw); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func mapPredictHQEvent(provider string, raw phqEvent) (model.Event, bool) {
	title := strings.TrimSpace(raw.Title)
	if title == "" || raw.ID == "" {
		return model.Event{}, false
	}
	start, err := parseTimeFlexible(raw.Start)
	if err != nil {
		return model.Event{}, false
	}

	ev := model.Event{
		ID:          model.QualifiedID(provider, raw.ID),
		ExternalID:  raw.ID,
		Source:      provider,
		Title:       title,
		Description: strings.TrimSpace(raw.Description),
		Category:    raw.Category,
		Tags:        raw.Labels,
		Start:       start,
		ImageURL:    model.PlaceholderImage,
	}
	if end, err := parseTimeFlexible(raw.End); err == nil && end.After(start) {
		ev.End = timePtr(end)
	}
	if len(raw.Location) == 2 {
		ev.Coordinates = coordinates(raw.Location[1], raw.Location[0])
	}
	for _, ent := range raw.Entities {
		if ent.Type != "venue" {
			continue
		}
		ev.Venue = model.Venue{
			Name:    strings.TrimSpace(ent.Name),
			Address: strings.TrimSpace(ent.FormattedAddress),
			Country: raw.Country,
		}
		break
	}
	if raw.Geo != nil {
		if ev.Venue.Address == "" {
			ev.Venue.Address = strings.TrimSpace(raw.Geo.Address.FormattedAddress)
		}
		ev.Venue.City = raw.Geo.Address.Locality
		ev.Venue.Region = raw.Geo.Address.Region
		if ev.Venue.Country == "" {
			ev.Venue.Country = raw.Country
		}
	}
	return ev, true
}
