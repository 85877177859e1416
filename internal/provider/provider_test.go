package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/config"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/json"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/postprocess"
)

func serve(t *testing.T, check func(r *http.Request), status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func build(t *testing.T, typ, baseURL string, deps Deps) Provider {
	t.Helper()
	if deps.Log == nil {
		deps.Log = zaptest.NewLogger(t)
	}
	p, err := NewFromConfig(config.ProviderConfig{
		Type:     typ,
		ID:       typ,
		BaseURL:  baseURL,
		APIKey:   "secret",
		HTTP:     config.CommonHTTP{Timeout: 2 * time.Second},
		PageSize: 50,
	}, deps)
	require.NoError(t, err)
	return p
}

var berlin = &model.Coordinates{Lat: 52.52, Lng: 13.405}

const tmBody = `{
  "_embedded": {"events": [
    {
      "id": "G5v0Z9",
      "name": "Jazz Night",
      "url": "https://tm.example/e/G5v0Z9",
      "info": "An evening of standards.",
      "dates": {"start": {"localDate": "2026-06-12", "localTime": "20:00:00", "dateTime": "2026-06-12T18:00:00Z"}},
      "classifications": [{"segment": {"name": "Music"}, "genre": {"name": "Jazz"}}],
      "priceRanges": [{"min": 25, "max": 60, "currency": "EUR"}],
      "images": [{"url": "https://img/small.jpg", "width": 100}, {"url": "https://img/big.jpg", "width": 1024}],
      "promoter": {"name": "Live Nation"},
      "_embedded": {"venues": [{
        "name": "Blue Note",
        "address": {"line1": "Main St 1"},
        "city": {"name": "Berlin"},
        "country": {"countryCode": "DE"},
        "location": {"latitude": "52.5200", "longitude": "13.4050"}
      }]}
    },
    {"id": "TBA1", "name": "Date Pending", "dates": {"start": {"dateTBA": true}}},
    {"id": "NOTITLE", "name": "  ", "dates": {"start": {"localDate": "2026-06-12"}}},
    {"id": "T2", "name": "Matinee", "dates": {"start": {"localDate": "2026-06-13", "timeTBA": true}}}
  ]},
  "page": {"size": 50, "totalElements": 4, "number": 0}
}`

func TestTicketmaster_SearchMapsAndPushesDownFilters(t *testing.T) {
	var seen *http.Request
	srv := serve(t, func(r *http.Request) { seen = r }, http.StatusOK, tmBody)
	p := build(t, "ticketmaster", srv.URL, Deps{})

	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	events, err := p.Search(context.Background(), model.SearchParams{
		Keyword: "jazz", Location: berlin, RadiusKm: 10, From: &from, Category: "music", Limit: 20,
	})
	require.NoError(t, err)

	q := seen.URL.Query()
	assert.Equal(t, "/discovery/v2/events.json", seen.URL.Path)
	assert.Equal(t, "secret", q.Get("apikey"))
	assert.Equal(t, "jazz", q.Get("keyword"))
	assert.Equal(t, "52.520000,13.405000", q.Get("latlong"))
	assert.Equal(t, "10", q.Get("radius"))
	assert.Equal(t, "2026-06-01T00:00:00Z", q.Get("startDateTime"))
	assert.Equal(t, "music", q.Get("classificationName"))
	assert.Equal(t, "20", q.Get("size"))

	require.Len(t, events, 2, "records without title or start date are dropped")
	ev := events[0]
	assert.Equal(t, "ticketmaster:G5v0Z9", ev.ID)
	assert.Equal(t, "ticketmaster", ev.Source)
	assert.Equal(t, "Jazz Night", ev.Title)
	assert.Equal(t, time.Date(2026, 6, 12, 18, 0, 0, 0, time.UTC), ev.Start)
	assert.Equal(t, "Music", ev.Category)
	assert.Equal(t, []string{"Jazz"}, ev.Tags)
	assert.Equal(t, "https://img/big.jpg", ev.ImageURL)
	assert.Len(t, ev.Images, 2)
	require.NotNil(t, ev.Coordinates)
	assert.InDelta(t, 52.52, ev.Coordinates.Lat, 1e-9)
	assert.Equal(t, "Blue Note", ev.Venue.Name)
	assert.Equal(t, &model.PriceRange{Min: 25, Max: 60, Currency: "EUR"}, ev.Price)
	assert.Equal(t, "Live Nation", ev.Organizer.Name)
	assert.Len(t, ev.Tickets, 1)

	tba := events[1]
	assert.True(t, tba.TimeTBA)
	assert.Equal(t, model.PlaceholderImage, tba.ImageURL)
	assert.Nil(t, tba.Coordinates)
}

func TestEventbrite_Search(t *testing.T) {
	body := `{"events": [{
	  "id": "eb1",
	  "name": {"text": "Jazz Nite"},
	  "description": {"text": "Live jazz with the house trio."},
	  "url": "https://eb.example/e/eb1",
	  "start": {"utc": "2026-06-12T18:00:00Z"},
	  "end": {"utc": "2026-06-12T21:00:00Z"},
	  "is_free": false,
	  "logo": {"url": "https://img/eb-crop.jpg", "original": {"url": "https://img/eb.jpg"}},
	  "venue": {"name": "The Blue Note", "address": {"address_1": "Main St 1", "city": "Berlin", "latitude": "52.5201", "longitude": "13.4049"}},
	  "organizer": {"name": "Blue Note Club", "logo": {"url": "https://img/org.png"}},
	  "category": {"name": "Music"},
	  "ticket_availability": {"minimum_ticket_price": {"currency": "EUR", "major_value": "20.00"}, "maximum_ticket_price": {"currency": "EUR", "major_value": "35.00"}}
	}, {"id": "eb2", "name": {"text": "No start"}, "start": {}}]}`
	var auth string
	srv := serve(t, func(r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/events/search/", r.URL.Path)
		assert.Equal(t, "25km", r.URL.Query().Get("location.within"))
	}, http.StatusOK, body)
	p := build(t, "eventbrite", srv.URL, Deps{})

	events, err := p.Search(context.Background(), model.SearchParams{Location: berlin, RadiusKm: 25})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "eventbrite:eb1", ev.ID)
	assert.Equal(t, "https://img/eb.jpg", ev.ImageURL)
	assert.Equal(t, []string{"https://img/eb.jpg", "https://img/eb-crop.jpg"}, ev.Images)
	assert.Equal(t, "https://img/org.png", ev.Organizer.AvatarURL)
	require.NotNil(t, ev.End)
	assert.Equal(t, &model.PriceRange{Min: 20, Max: 35, Currency: "EUR"}, ev.Price)
}

func TestPredictHQ_Search(t *testing.T) {
	body := `{"count": 1, "results": [{
	  "id": "phq1",
	  "title": "Berlin Jazz Festival",
	  "category": "festivals",
	  "labels": ["music", "jazz"],
	  "start": "2026-06-12T18:00:00Z",
	  "end": "2026-06-14T23:00:00Z",
	  "location": [13.405, 52.52],
	  "country": "DE",
	  "entities": [{"name": "Haus der Berliner Festspiele", "type": "venue", "formatted_address": "Schaperstr. 24, Berlin"}]
	}]}`
	srv := serve(t, func(r *http.Request) {
		assert.Equal(t, "/v1/events/", r.URL.Path)
		assert.Equal(t, "10km@52.520000,13.405000", r.URL.Query().Get("within"))
	}, http.StatusOK, body)
	p := build(t, "predicthq", srv.URL, Deps{})

	events, err := p.Search(context.Background(), model.SearchParams{Location: berlin, RadiusKm: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	require.NotNil(t, ev.Coordinates)
	assert.Equal(t, model.Coordinates{Lat: 52.52, Lng: 13.405}, *ev.Coordinates, "location is [lon, lat]")
	assert.Equal(t, "Haus der Berliner Festspiele", ev.Venue.Name)
	assert.Equal(t, "DE", ev.Venue.Country)
}

func TestRapidAPI_SearchFoldsPlaceIntoQuery(t *testing.T) {
	body := `{"status": "OK", "data": [{
	  "event_id": "rt1",
	  "name": "Jazz Night at Blue Note",
	  "link": "https://rt.example/rt1",
	  "start_time": "2026-06-12 20:00:00",
	  "start_time_utc": "2026-06-12 18:00:00",
	  "thumbnail": "https://img/rt.jpg",
	  "ticket_links": [{"source": "Ticketmaster", "link": "https://tm.example/x"}, {"source": "x", "link": ""}],
	  "venue": {"name": "Blue Note", "full_address": "Main St 1, Berlin", "latitude": 52.52, "longitude": 13.405, "subtype": "jazz_club"}
	}, {"event_id": "rt2", "name": "Broken", "start_time": "soon"}]}`
	var host, query string
	srv := serve(t, func(r *http.Request) {
		host = r.Header.Get("X-RapidAPI-Host")
		query = r.URL.Query().Get("query")
	}, http.StatusOK, body)
	p := build(t, "rapidapi", srv.URL, Deps{})

	assert.Equal(t, Capabilities{Keyword: true}, p.Capabilities(model.SearchParams{Category: "music"}))
	events, err := p.Search(context.Background(), model.SearchParams{Keyword: "jazz", Place: "Berlin"})
	require.NoError(t, err)
	assert.Equal(t, defaultRapidAPIHost, host)
	assert.Equal(t, "jazz in Berlin", query)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2026, 6, 12, 18, 0, 0, 0, time.UTC), events[0].Start)
	assert.Len(t, events[0].Tickets, 1)
	assert.Equal(t, "jazz_club", events[0].Category)
}

func TestSearch_ErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		header    map[string]string
		class     ErrorClass
		retryable bool
	}{
		{"auth", http.StatusUnauthorized, `{"fault":"invalid key"}`, nil, ClassAuth, false},
		{"rate limited", http.StatusTooManyRequests, ``, map[string]string{"Retry-After": "30"}, ClassRateLimited, false},
		{"unavailable", http.StatusBadGateway, `oops`, nil, ClassUnavailable, true},
		{"gateway timeout", http.StatusGatewayTimeout, ``, nil, ClassTimeout, true},
		{"bad request", http.StatusBadRequest, `bad`, nil, ClassBadRequest, false},
		{"malformed", http.StatusOK, `{"_embedded": [`, nil, ClassMalformed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			events, err := build(t, "ticketmaster", srv.URL, Deps{}).Search(context.Background(), model.SearchParams{})
			assert.Nil(t, events)
			pe, ok := AsProviderError(err)
			require.True(t, ok, "got %T", err)
			assert.Equal(t, tc.class, pe.Class)
			assert.Equal(t, tc.retryable, pe.Retryable())
			if tc.class == ClassRateLimited {
				assert.Equal(t, 30*time.Second, pe.RetryAfter)
			}
		})
	}
}

func TestSearch_TimeoutAndNetworkErrors(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := build(t, "eventbrite", srv.URL, Deps{}).Search(ctx, model.SearchParams{})
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, ClassTimeout, pe.Class)

	_, err = build(t, "eventbrite", "http://127.0.0.1:1", Deps{}).Search(context.Background(), model.SearchParams{})
	pe, ok = AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, ClassNetwork, pe.Class)
	assert.True(t, pe.Retryable())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, time.Minute, parseRetryAfter(now.Add(time.Minute).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("-3", now))
	assert.Zero(t, parseRetryAfter("soon", now))
}

type countingResolver struct {
	calls atomic.Int32
	fail  bool
}

func (r *countingResolver) Resolve(context.Context, string, string) (model.Coordinates, error) {
	r.calls.Add(1)
	if r.fail {
		return model.Coordinates{}, errors.New("lookup failed")
	}
	return model.Coordinates{Lat: 40.7, Lng: -74}, nil
}

type staticProvider struct {
	events []model.Event
}

func (s *staticProvider) ID() string                                   { return "static" }
func (s *staticProvider) Capabilities(model.SearchParams) Capabilities { return Capabilities{} }
func (s *staticProvider) Search(context.Context, model.SearchParams) ([]model.Event, error) {
	out := make([]model.Event, len(s.events))
	copy(out, s.events)
	return out, nil
}

func TestWithGeocoding_BackfillsUpToLimit(t *testing.T) {
	inner := &staticProvider{events: []model.Event{
		{ID: "a", Venue: model.Venue{Name: "A", Address: "1 Road"}},
		{ID: "b", Venue: model.Venue{Address: "2 Road"}},
		{ID: "c", Coordinates: &model.Coordinates{Lat: 1, Lng: 1}},
		{ID: "d"},
		{ID: "e", Venue: model.Venue{City: "Springfield"}},
	}}
	r := &countingResolver{}
	p := WithGeocoding(inner, r, 2, zaptest.NewLogger(t))
	assert.Equal(t, "static", p.ID())

	events, err := p.Search(context.Background(), model.SearchParams{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), r.calls.Load())
	assert.NotNil(t, events[0].Coordinates)
	assert.NotNil(t, events[1].Coordinates)
	assert.Equal(t, 1.0, events[2].Coordinates.Lat, "existing coordinates untouched")
	assert.Nil(t, events[3].Coordinates, "nothing to look up")
	assert.Nil(t, events[4].Coordinates, "lookup budget spent")
}

func TestWithGeocoding_FailureIsNotFatal(t *testing.T) {
	inner := &staticProvider{events: []model.Event{{ID: "a", Venue: model.Venue{Address: "1 Road"}}}}
	p := WithGeocoding(inner, &countingResolver{fail: true}, 5, zaptest.NewLogger(t))
	events, err := p.Search(context.Background(), model.SearchParams{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Coordinates)
}

func TestNewFromConfig_DecoratorsUseUpstreamVocabulary(t *testing.T) {
	srv := serve(t, nil, http.StatusOK, tmBody)
	engine := postprocess.New(config.CategoriesConfig{})
	p := build(t, "ticketmaster", srv.URL, Deps{Categories: engine, Geocoder: &countingResolver{}})

	events, err := p.Search(context.Background(), model.SearchParams{})
	require.NoError(t, err)
	assert.Equal(t, "music", events[0].Category)
	assert.Equal(t, "other", events[1].Category)
	assert.Equal(t, Capabilities{Keyword: true, Category: true, DateRange: true, Geo: true},
		p.Capabilities(model.SearchParams{Category: "music"}))
}

func TestCapabilities_CategoryOnlyWhenMapped(t *testing.T) {
	cases := []struct {
		typ      string
		category string
		want     bool
	}{
		{"ticketmaster", "comedy", true},
		{"ticketmaster", "food", false},
		{"ticketmaster", "nightlife", false},
		{"eventbrite", "festival", true},
		{"eventbrite", "comedy", false},
		{"predicthq", "conference", true},
		{"predicthq", "comedy", false},
		{"predicthq", "family", false},
		{"predicthq", "", false},
		{"rapidapi", "music", false},
	}
	for _, tc := range cases {
		t.Run(tc.typ+"/"+tc.category, func(t *testing.T) {
			p := build(t, tc.typ, "http://127.0.0.1:1", Deps{})
			assert.Equal(t, tc.want, p.Capabilities(model.SearchParams{Category: tc.category}).Category)
		})
	}
}

func TestPredictHQ_UnmappedCategoryIsNotSentUpstream(t *testing.T) {
	var query url.Values
	srv := serve(t, func(r *http.Request) { query = r.URL.Query() }, http.StatusOK, `{"count": 0, "results": []}`)
	p := build(t, "predicthq", srv.URL, Deps{})

	_, err := p.Search(context.Background(), model.SearchParams{Category: "comedy", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, query.Get("category"))
	assert.False(t, p.Capabilities(model.SearchParams{Category: "comedy"}).Category)

	_, err = p.Search(context.Background(), model.SearchParams{Category: "festival", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "festivals", query.Get("category"))
}

func TestParseLocalTime(t *testing.T) {
	cases := []struct {
		tz   string
		want time.Time
	}{
		{"America/New_York", time.Date(2026, 6, 13, 0, 0, 0, 0, time.UTC)},
		{"Europe/Berlin", time.Date(2026, 6, 12, 18, 0, 0, 0, time.UTC)},
		{"", time.Date(2026, 6, 12, 20, 0, 0, 0, time.UTC)},
		{"Not/AZone", time.Date(2026, 6, 12, 20, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseLocalTime("2026-06-12T20:00:00", tc.tz)
		require.NoError(t, err, tc.tz)
		assert.True(t, tc.want.Equal(got), "%s: got %s", tc.tz, got)
	}

	got, err := parseLocalTime("2026-06-12T18:00:00Z", "America/New_York")
	require.NoError(t, err)
	assert.True(t, time.Date(2026, 6, 12, 18, 0, 0, 0, time.UTC).Equal(got), "explicit zones win")
}

func TestTicketmaster_LocalTimeUsesEventTimezone(t *testing.T) {
	var raw tmEvent
	require.NoError(t, json.Unmarshal([]byte(`{"id": "T9", "name": "Late Set",
	  "dates": {"timezone": "America/New_York", "start": {"localDate": "2026-06-12", "localTime": "23:30:00"}}}`), &raw))
	ev, ok := mapTicketmasterEvent("ticketmaster", raw)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 6, 13, 3, 30, 0, 0, time.UTC), ev.Start)
	assert.False(t, ev.TimeTBA)
}

func TestRapidAPI_LocalStartUsesVenueTimezone(t *testing.T) {
	var raw rtEvent
	require.NoError(t, json.Unmarshal([]byte(`{"event_id": "rt9", "name": "Late Set",
	  "start_time": "2026-06-12 23:30:00", "venue": {"name": "Blue Note", "timezone": "America/New_York"}}`), &raw))
	ev, ok := mapRapidAPIEvent("rapidapi", raw)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 6, 13, 3, 30, 0, 0, time.UTC), ev.Start)
}

func TestNewFromConfig_UnknownType(t *testing.T) {
	_, err := NewFromConfig(config.ProviderConfig{Type: "meetup"}, Deps{})
	assert.ErrorIs(t, err, ErrUnknownType)
}
