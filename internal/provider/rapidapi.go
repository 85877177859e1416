package provider

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

// Real-Time Events Search on RapidAPI
// Auth headers: "X-RapidAPI-Key: <KEY>", "X-RapidAPI-Host: <host>"
// Endpoint used: /search-events?query=<text>&start=<offset>
// The upstream only understands free text, so location and keyword are folded into query.

type RapidAPI struct {
	baseOptions
}

type rtResponse struct {
	Status string    `json:"status"`
	Data   []rtEvent `json:"data"`
}

type rtEvent struct {
	EventID      string   `json:"event_id"`
	Name         string   `json:"name"`
	Link         string   `json:"link"`
	Description  string   `json:"description"`
	StartTime    string   `json:"start_time"`
	StartTimeUTC string   `json:"start_time_utc"`
	EndTimeUTC   string   `json:"end_time_utc"`
	IsVirtual    bool     `json:"is_virtual"`
	Thumbnail    string   `json:"thumbnail"`
	Publisher    string   `json:"publisher"`
	Tags         []string `json:"tags"`
	TicketLinks  []struct {
		Source string `json:"source"`
		Link   string `json:"link"`
	} `json:"ticket_links"`
	Venue *struct {
		Name        string    `json:"name"`
		FullAddress string    `json:"full_address"`
		City        string    `json:"city"`
		State       string    `json:"state"`
		Country     string    `json:"country"`
		Latitude    flexFloat `json:"latitude"`
		Longitude   flexFloat `json:"longitude"`
		Subtype     string    `json:"subtype"`
		Timezone    string    `json:"timezone"`
	} `json:"venue"`
}

const defaultRapidAPIHost = "real-time-events-search.p.rapidapi.com"

func NewRapidAPI(o baseOptions) *RapidAPI {
	if o.host == "" {
		o.host = defaultRapidAPIHost
	}
	if o.baseURL == "" {
		o.baseURL = "https://" + o.host
	}
	return &RapidAPI{baseOptions: o}
}

func (r *RapidAPI) ID() string   { return r.id }
func (r *RapidAPI) Kind() string { return "rapidapi" }

func (r *RapidAPI) Capabilities(model.SearchParams) Capabilities {
	return Capabilities{Keyword: true}
}

func (r *RapidAPI) Search(ctx context.Context, sp model.SearchParams) ([]model.Event, error) {
	text := firstNonEmpty(sp.Keyword, sp.Category, "events")
	if sp.Place != "" {
		text += " in " + sp.Place
	}
	q := url.Values{}
	q.Set("query", text)
	q.Set("date", "any")
	q.Set("is_virtual", "false")
	q.Set("start", strconv.Itoa(sp.Offset))

	headers := map[string]string{
		"X-RapidAPI-Key":  r.apiKey,
		"X-RapidAPI-Host": r.host,
	}
	var resp rtResponse
	if err := getJSON(ctx, r.client, r.id, r.baseURL+"/search-events?"+q.Encode(), headers, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(resp.Data))
	for _, raw := range resp.Data {
		if ev, ok := mapRapidAPIEvent(r.id, raw); ok {
			out = append(out, ev)
		}
		if sp.Limit > 0 && len(out) >= sp.Limit {
			break
		}
	}
	return out, nil
}

func mapRapidAPIEvent(provider string, raw rtEvent) (model.Event, bool) {
	title := strings.TrimSpace(raw.Name)
	if title == "" || raw.EventID == "" {
		return model.Event{}, false
	}
	start, err := parseTimeFlexible(raw.StartTimeUTC)
	if err != nil {
		tz := ""
		if raw.Venue != nil {
			tz = raw.Venue.Timezone
		}
		start, err = parseLocalTime(raw.StartTime, tz)
	}
	if err != nil {
		return model.Event{}, false
	}

	ev := model.Event{
		ID:          model.QualifiedID(provider, raw.EventID),
		ExternalID:  raw.EventID,
		Source:      provider,
		Title:       title,
		Description: strings.TrimSpace(raw.Description),
		Tags:        raw.Tags,
		Start:       start,
		URL:         raw.Link,
		ImageURL:    model.PlaceholderImage,
	}
	if end, err := parseTimeFlexible(raw.EndTimeUTC); err == nil && end.After(start) {
		ev.End = timePtr(end)
	}
	if raw.Thumbnail != "" {
		ev.ImageURL = raw.Thumbnail
		ev.Images = []string{raw.Thumbnail}
	}
	if v := raw.Venue; v != nil {
		ev.Venue = model.Venue{
			Name:    strings.TrimSpace(v.Name),
			Address: strings.TrimSpace(v.FullAddress),
			City:    v.City,
			Region:  v.State,
			Country: v.Country,
		}
		ev.Coordinates = coordinates(v.Latitude, v.Longitude)
		ev.Category = v.Subtype
	}
	for _, tl := range raw.TicketLinks {
		if tl.Link == "" {
			continue
		}
		ev.Tickets = append(ev.Tickets, model.TicketLink{Source: tl.Source, URL: tl.Link})
	}
	return ev, true
}
