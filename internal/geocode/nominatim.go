package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/json"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/util"
)

// Nominatim docs: https://nominatim.org/release-docs/latest/api/Search/
// Endpoint used: /search?q=<text>&format=jsonv2&limit=1
// The public instance allows one request per second and requires a real User-Agent.

type NominatimOptions struct {
	BaseURL   string
	UserAgent string
	Email     string
	Timeout   time.Duration
	// RatePerSecond paces outbound lookups, default 1
	RatePerSecond float64
}

type Nominatim struct {
	baseURL string
	email   string
	client  *http.Client
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

func NewNominatim(opts NominatimOptions) *Nominatim {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 1
	}
	return &Nominatim{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		email:   opts.Email,
		client: util.NewHTTPClient(util.ClientOptions{
			Timeout:       opts.Timeout,
			UserAgent:     opts.UserAgent,
			Headers:       map[string]string{"Accept": "application/json"},
			RatePerSecond: opts.RatePerSecond,
			Burst:         1,
		}),
	}
}

func (n *Nominatim) Name() string { return "nominatim:" + n.baseURL }

// Resolve tries "venue, address" first and the bare address second.
func (n *Nominatim) Resolve(ctx context.Context, address, venueHint string) (model.Coordinates, error) {
	address = strings.TrimSpace(address)
	venueHint = strings.TrimSpace(venueHint)
	queries := make([]string, 0, 2)
	if venueHint != "" && address != "" {
		queries = append(queries, venueHint+", "+address)
	}
	if address != "" {
		queries = append(queries, address)
	} else if venueHint != "" {
		queries = append(queries, venueHint)
	}
	for _, q := range queries {
		c, err := n.search(ctx, q)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.Coordinates{}, err
		}
	}
	return model.Coordinates{}, ErrNotFound
}

func (n *Nominatim) search(ctx context.Context, text string) (model.Coordinates, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")
	if n.email != "" {
		q.Set("email", n.email)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return model.Coordinates{}, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return model.Coordinates{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return model.Coordinates{}, fmt.Errorf("nominatim: rate limited (%d)", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return model.Coordinates{}, fmt.Errorf("nominatim: http %d", resp.StatusCode)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return model.Coordinates{}, fmt.Errorf("nominatim: decode: %w", err)
	}
	if len(places) == 0 {
		return model.Coordinates{}, ErrNotFound
	}
	lat, err1 := strconv.ParseFloat(places[0].Lat, 64)
	lng, err2 := strconv.ParseFloat(places[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return model.Coordinates{}, fmt.Errorf("nominatim: bad coordinates %q,%q", places[0].Lat, places[0].Lon)
	}
	c := model.Coordinates{Lat: lat, Lng: lng}
	if !c.Valid() {
		return model.Coordinates{}, ErrNotFound
	}
	return c, nil
}
