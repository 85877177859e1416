package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

// Ticketmaster Discovery API v2: https://developer.ticketmaster.com/products-and-docs/apis/discovery-api/v2/
// Auth: "apikey" query parameter
// Endpoint used: /discovery/v2/events.json

type Ticketmaster struct {
	baseOptions
}

type tmResponse struct {
	Embedded struct {
		Events []tmEvent `json:"events"`
	} `json:"_embedded"`
	Page struct {
		Size          int `json:"size"`
		TotalElements int `json:"totalElements"`
		Number        int `json:"number"`
	} `json:"page"`
}

type tmEvent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Info        string `json:"info"`
	Description string `json:"description"`
	PleaseNote  string `json:"pleaseNote"`
	Dates       struct {
		Timezone string `json:"timezone"`
		Start    struct {
			LocalDate      string `json:"localDate"`
			LocalTime      string `json:"localTime"`
			DateTime       string `json:"dateTime"`
			DateTBA        bool   `json:"dateTBA"`
			TimeTBA        bool   `json:"timeTBA"`
			NoSpecificTime bool   `json:"noSpecificTime"`
		} `json:"start"`
		End struct {
			DateTime string `json:"dateTime"`
		} `json:"end"`
	} `json:"dates"`
	Classifications []struct {
		Segment struct {
			Name string `json:"name"`
		} `json:"segment"`
		Genre struct {
			Name string `json:"name"`
		} `json:"genre"`
	} `json:"classifications"`
	PriceRanges []struct {
		Min      float64 `json:"min"`
		Max      float64 `json:"max"`
		Currency string  `json:"currency"`
	} `json:"priceRanges"`
	Images []struct {
		URL    string `json:"url"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"images"`
	Promoter struct {
		Name string `json:"name"`
	} `json:"promoter"`
	Embedded struct {
		Venues []tmVenue `json:"venues"`
	} `json:"_embedded"`
}

type tmVenue struct {
	Name    string `json:"name"`
	Address struct {
		Line1 string `json:"line1"`
	} `json:"address"`
	City struct {
		Name string `json:"name"`
	} `json:"city"`
	State struct {
		StateCode string `json:"stateCode"`
	} `json:"state"`
	Country struct {
		CountryCode string `json:"countryCode"`
	} `json:"country"`
	Location struct {
		Latitude  flexFloat `json:"latitude"`
		Longitude flexFloat `json:"longitude"`
	} `json:"location"`
}

// canonical category -> Ticketmaster classificationName
var tmClassifications = map[string]string{
	"music": "music", "sports": "sports", "arts": "arts & theatre", "film": "film",
	"comedy": "comedy", "family": "family",
}

func NewTicketmaster(o baseOptions) *Ticketmaster {
	if o.baseURL == "" {
		o.baseURL = "https://app.ticketmaster.com"
	}
	return &Ticketmaster{baseOptions: o}
}

func (t *Ticketmaster) ID() string   { return t.id }
func (t *Ticketmaster) Kind() string { return "ticketmaster" }

func (t *Ticketmaster) Capabilities(sp model.SearchParams) Capabilities {
	return Capabilities{Keyword: true, Category: mapped(tmClassifications, sp.Category), DateRange: true, Geo: true}
}

func (t *Ticketmaster) Search(ctx context.Context, sp model.SearchParams) ([]model.Event, error) {
	size := fetchSize(sp.Limit, t.pageSize)
	q := url.Values{}
	q.Set("apikey", t.apiKey)
	q.Set("size", strconv.Itoa(size))
	q.Set("page", strconv.Itoa(pageOf(sp.Offset, size)))
	q.Set("sort", "date,asc")
	if sp.Keyword != "" {
		q.Set("keyword", sp.Keyword)
	}
	if sp.Location != nil {
		q.Set("latlong", fmt.Sprintf("%.6f,%.6f", sp.Location.Lat, sp.Location.Lng))
		q.Set("radius", strconv.Itoa(int(sp.RadiusKm+0.5)))
		q.Set("unit", "km")
	}
	if sp.From != nil {
		q.Set("startDateTime", sp.From.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if sp.To != nil {
		q.Set("endDateTime", sp.To.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if c, ok := tmClassifications[sp.Category]; ok {
		q.Set("classificationName", c)
	}

	var resp tmResponse
	if err := getJSON(ctx, t.client, t.id, t.baseURL+"/discovery/v2/events.json?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(resp.Embedded.Events))
	for _, raw := range resp.Embedded.Events {
		if ev, ok := mapTicketmasterEvent(t.id, raw); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// mapTicketmasterEvent converts one Discovery event. Events without a name or
// a start date are dropped.
func mapTicketmasterEvent(provider string, raw tmEvent) (model.Event, bool) {
	title := strings.TrimSpace(raw.Name)
	if title == "" || raw.ID == "" {
		return model.Event{}, false
	}
	start, tba, ok := tmStart(raw)
	if !ok {
		return model.Event{}, false
	}

	ev := model.Event{
		ID:          model.QualifiedID(provider, raw.ID),
		ExternalID:  raw.ID,
		Source:      provider,
		Title:       title,
		Description: firstNonEmpty(raw.Description, raw.Info, raw.PleaseNote),
		Start:       start,
		TimeTBA:     tba,
		URL:         raw.URL,
		ImageURL:    model.PlaceholderImage,
	}
	if end, err := parseTimeFlexible(raw.Dates.End.DateTime); err == nil {
		ev.End = timePtr(end)
	}
	if len(raw.Classifications) > 0 {
		c := raw.Classifications[0]
		ev.Category = c.Segment.Name
		if g := strings.TrimSpace(c.Genre.Name); g != "" && !strings.EqualFold(g, "undefined") {
			ev.Tags = append(ev.Tags, g)
		}
	}
	if len(raw.Embedded.Venues) > 0 {
		v := raw.Embedded.Venues[0]
		ev.Venue = model.Venue{
			Name:    strings.TrimSpace(v.Name),
			Address: strings.TrimSpace(v.Address.Line1),
			City:    v.City.Name,
			Region:  v.State.StateCode,
			Country: v.Country.CountryCode,
		}
		ev.Coordinates = coordinates(v.Location.Latitude, v.Location.Longitude)
	}
	if len(raw.PriceRanges) > 0 {
		pr := raw.PriceRanges[0]
		ev.Price = &model.PriceRange{Min: pr.Min, Max: pr.Max, Currency: pr.Currency}
	}
	best := 0
	for _, img := range raw.Images {
		if img.URL == "" {
			continue
		}
		ev.Images = append(ev.Images, img.URL)
		if img.Width > best {
			best = img.Width
			ev.ImageURL = img.URL
		}
	}
	if ev.ImageURL == model.PlaceholderImage && len(ev.Images) > 0 {
		ev.ImageURL = ev.Images[0]
	}
	if raw.URL != "" {
		ev.Tickets = []model.TicketLink{{Source: "ticketmaster", URL: raw.URL}}
	}
	if n := strings.TrimSpace(raw.Promoter.Name); n != "" {
		ev.Organizer = model.Organizer{Name: n}
	}
	return ev, true
}

func tmStart(raw tmEvent) (time.Time, bool, bool) {
	s := raw.Dates.Start
	if s.DateTBA {
		return time.Time{}, false, false
	}
	tba := s.TimeTBA || s.NoSpecificTime
	if !tba {
		if t, err := parseTimeFlexible(s.DateTime); err == nil {
			return t, false, true
		}
		if s.LocalDate != "" && s.LocalTime != "" {
			if t, err := parseLocalTime(s.LocalDate+"T"+s.LocalTime, raw.Dates.Timezone); err == nil {
				return t, false, true
			}
		}
	}
	// date only: keep the calendar date as stated, there is no instant to convert
	if t, err := parseTimeFlexible(s.LocalDate); err == nil {
		return t, true, true
	}
	return time.Time{}, false, false
}
