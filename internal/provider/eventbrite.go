package provider

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

// Eventbrite API v3: https://www.eventbrite.com/platform/api
// Auth header: "Authorization: Bearer <token>"
// Endpoint used: /events/search/ with venue, organizer, category and ticket expansions

type Eventbrite struct {
	baseOptions
}

type ebResponse struct {
	Events     []ebEvent `json:"events"`
	Pagination struct {
		PageNumber  int  `json:"page_number"`
		PageSize    int  `json:"page_size"`
		ObjectCount int  `json:"object_count"`
		HasMore     bool `json:"has_more_items"`
	} `json:"pagination"`
}

type ebText struct {
	Text string `json:"text"`
}

type ebEvent struct {
	ID          string `json:"id"`
	Name        ebText `json:"name"`
	Description ebText `json:"description"`
	Summary     string `json:"summary"`
	URL         string `json:"url"`
	Start       struct {
		UTC   string `json:"utc"`
		Local string `json:"local"`
	} `json:"start"`
	End struct {
		UTC string `json:"utc"`
	} `json:"end"`
	IsFree bool `json:"is_free"`
	Logo   *struct {
		URL      string `json:"url"`
		Original struct {
			URL string `json:"url"`
		} `json:"original"`
	} `json:"logo"`
	Venue *struct {
		Name    string `json:"name"`
		Address struct {
			Address1  string    `json:"address_1"`
			City      string    `json:"city"`
			Region    string    `json:"region"`
			Country   string    `json:"country"`
			Latitude  flexFloat `json:"latitude"`
			Longitude flexFloat `json:"longitude"`
		} `json:"address"`
	} `json:"venue"`
	Organizer *struct {
		Name string `json:"name"`
		URL  string `json:"url"`
		Logo *struct {
			URL string `json:"url"`
		} `json:"logo"`
	} `json:"organizer"`
	Category *struct {
		Name string `json:"name"`
	} `json:"category"`
	TicketAvailability *struct {
		MinimumTicketPrice *ebMoney `json:"minimum_ticket_price"`
		MaximumTicketPrice *ebMoney `json:"maximum_ticket_price"`
	} `json:"ticket_availability"`
}

type ebMoney struct {
	Currency   string  `json:"currency"`
	MajorValue string  `json:"major_value"`
	Value      float64 `json:"value"` // minor units
}

func (m *ebMoney) amount() float64 {
	if m == nil {
		return 0
	}
	if f, err := strconv.ParseFloat(m.MajorValue, 64); err == nil {
		return f
	}
	return m.Value / 100
}

// canonical category -> Eventbrite category id
var ebCategories = map[string]string{
	"music": "103", "conference": "102", "food": "110", "sports": "108",
	"arts": "105", "film": "104", "family": "115", "community": "113", "festival": "116",
}

func NewEventbrite(o baseOptions) *Eventbrite {
	if o.baseURL == "" {
		o.baseURL = "https://www.eventbriteapi.com/v3"
	}
	return &Eventbrite{baseOptions: o}
}

func (e *Eventbrite) ID() string   { return e.id }
func (e *Eventbrite) Kind() string { return "eventbrite" }

func (e *Eventbrite) Capabilities(sp model.SearchParams) Capabilities {
	return Capabilities{Keyword: true, Category: mapped(ebCategories, sp.Category), DateRange: true, Geo: true}
}

func (e *Eventbrite) Search(ctx context.Context, sp model.SearchParams) ([]model.Event, error) {
	size := fetchSize(sp.Limit, e.pageSize)
	q := url.Values{}
	q.Set("expand", "venue,organizer,category,logo,ticket_availability")
	q.Set("page", strconv.Itoa(pageOf(sp.Offset, size)+1))
	q.Set("page_size", strconv.Itoa(size))
	if sp.Keyword != "" {
		q.Set("q", sp.Keyword)
	}
	if sp.Location != nil {
		q.Set("location.latitude", strconv.FormatFloat(sp.Location.Lat, 'f', 6, 64))
		q.Set("location.longitude", strconv.FormatFloat(sp.Location.Lng, 'f', 6, 64))
		q.Set("location.within", fmt.Sprintf("%dkm", int(sp.RadiusKm+0.5)))
	}
	if sp.From != nil {
		q.Set("start_date.range_start", sp.From.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if sp.To != nil {
		q.Set("start_date.range_end", sp.To.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if id, ok := ebCategories[sp.Category]; ok {
		q.Set("categories", id)
	}

	headers := map[string]string{"Authorization": "Bearer " + e.apiKey}
	var resp ebResponse
	if err := getJSON(ctx, e.client, e.id, e.baseURL+"/events/search/?"+q.Encode(), headers, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(resp.Events))
	for _, raw := range resp.Events {
		if ev, ok := mapEventbriteEvent(e.id, raw); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func mapEventbriteEvent(provider string, raw ebEvent) (model.Event, bool) {
	title := strings.TrimSpace(raw.Name.Text)
	if title == "" || raw.ID == "" {
		return model.Event{}, false
	}
	start, err := parseTimeFlexible(firstNonEmpty(raw.Start.UTC, raw.Start.Local))
	if err != nil {
		return model.Event{}, false
	}

	ev := model.Event{
		ID:          model.QualifiedID(provider, raw.ID),
		ExternalID:  raw.ID,
		Source:      provider,
		Title:       title,
		Description: firstNonEmpty(raw.Description.Text, raw.Summary),
		Start:       start,
		URL:         raw.URL,
		ImageURL:    model.PlaceholderImage,
	}
	if end, err := parseTimeFlexible(raw.End.UTC); err == nil {
		ev.End = timePtr(end)
	}
	if raw.Category != nil {
		ev.Category = raw.Category.Name
	}
	if raw.Logo != nil {
		if u := firstNonEmpty(raw.Logo.Original.URL, raw.Logo.URL); u != "" {
			ev.ImageURL = u
			ev.Images = []string{u}
			if raw.Logo.URL != "" && raw.Logo.URL != u {
				ev.Images = append(ev.Images, raw.Logo.URL)
			}
		}
	}
	if v := raw.Venue; v != nil {
		ev.Venue = model.Venue{
			Name:    strings.TrimSpace(v.Name),
			Address: strings.TrimSpace(v.Address.Address1),
			City:    v.Address.City,
			Region:  v.Address.Region,
			Country: v.Address.Country,
		}
		ev.Coordinates = coordinates(v.Address.Latitude, v.Address.Longitude)
	}
	if o := raw.Organizer; o != nil {
		ev.Organizer = model.Organizer{Name: strings.TrimSpace(o.Name), URL: o.URL}
		if o.Logo != nil {
			ev.Organizer.AvatarURL = o.Logo.URL
		}
	}
	if !raw.IsFree && raw.TicketAvailability != nil {
		ta := raw.TicketAvailability
		lo, hi := ta.MinimumTicketPrice.amount(), ta.MaximumTicketPrice.amount()
		if hi < lo {
			hi = lo
		}
		if lo > 0 || hi > 0 {
			currency := ""
			if ta.MinimumTicketPrice != nil {
				currency = ta.MinimumTicketPrice.Currency
			}
			ev.Price = &model.PriceRange{Min: lo, Max: hi, Currency: currency}
		}
	}
	if raw.URL != "" {
		ev.Tickets = []model.TicketLink{{Source: "eventbrite", URL: raw.URL}}
	}
	return ev, true
}
