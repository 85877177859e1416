// Package provider adapts third-party event listing APIs to the canonical event model.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/config"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/geocode"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/postprocess"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/util"
)

// Capabilities lists the filters an upstream applies itself for one search.
// Filters it cannot push down are applied after deduplication.
type Capabilities struct {
	Keyword   bool
	Category  bool
	DateRange bool
	Geo       bool
}

type Provider interface {
	ID() string
	Capabilities(sp model.SearchParams) Capabilities
	// Search returns canonical events or a *ProviderError, never both.
	Search(ctx context.Context, p model.SearchParams) ([]model.Event, error)
}

// Deps are shared services handed to every adapter.
type Deps struct {
	Log        *zap.Logger
	Geocoder   geocode.Resolver    // nil disables coordinate backfill
	Categories *postprocess.Engine // nil keeps raw categories
	MaxLookups int                 // geocode lookups per response
	Client     func(util.ClientOptions) *http.Client
}

// NewFromConfig builds the adapter for c.Type and wraps it with the decorators
// the deps enable.
func NewFromConfig(c config.ProviderConfig, deps Deps) (Provider, error) {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Client == nil {
		deps.Client = util.NewHTTPClient
	}
	base := baseOptions{
		id:       c.ID,
		baseURL:  strings.TrimRight(c.BaseURL, "/"),
		apiKey:   strings.TrimSpace(c.APIKey),
		host:     c.Host,
		pageSize: c.PageSize,
		client: deps.Client(util.ClientOptions{
			Timeout:       c.HTTP.Timeout,
			UserAgent:     c.HTTP.UserAgent,
			RatePerSecond: c.RatePerSecond,
			Burst:         c.Burst,
		}),
	}
	if base.id == "" {
		base.id = c.Type
	}

	var p Provider
	switch c.Type {
	case "ticketmaster":
		p = NewTicketmaster(base)
	case "eventbrite":
		p = NewEventbrite(base)
	case "predicthq":
		p = NewPredictHQ(base)
	case "rapidapi":
		p = NewRapidAPI(base)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, c.Type)
	}

	if deps.Geocoder != nil {
		p = WithGeocoding(p, deps.Geocoder, deps.MaxLookups, deps.Log)
	}
	if deps.Categories != nil {
		p = WithCategories(p, deps.Categories)
	}
	return p, nil
}

type baseOptions struct {
	id       string
	baseURL  string
	apiKey   string
	host     string
	pageSize int
	client   *http.Client
}

type geocoding struct {
	Provider
	resolver   geocode.Resolver
	maxLookups int
	log        *zap.Logger
}

// WithGeocoding backfills missing coordinates from venue addresses.
// Lookup failures leave the event without coordinates.
func WithGeocoding(p Provider, r geocode.Resolver, maxLookups int, log *zap.Logger) Provider {
	if maxLookups <= 0 {
		maxLookups = 10
	}
	return &geocoding{Provider: p, resolver: r, maxLookups: maxLookups, log: log.With(zap.String("provider", p.ID()))}
}

func (g *geocoding) Search(ctx context.Context, sp model.SearchParams) ([]model.Event, error) {
	events, err := g.Provider.Search(ctx, sp)
	if err != nil {
		return nil, err
	}
	lookups := 0
	for i := range events {
		ev := &events[i]
		if ev.Coordinates != nil {
			continue
		}
		addr := ev.Venue.FullAddress()
		if addr == "" || lookups >= g.maxLookups {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		lookups++
		c, err := g.resolver.Resolve(ctx, addr, ev.Venue.Name)
		if err != nil || !c.Valid() {
			g.log.Debug("geocode backfill failed", zap.String("event", ev.ID), zap.Error(err))
			continue
		}
		ev.Coordinates = &c
	}
	return events, nil
}

type categorized struct {
	Provider
	engine *postprocess.Engine
	kind   string
}

// WithCategories canonicalises event categories through engine.
func WithCategories(p Provider, engine *postprocess.Engine) Provider {
	return &categorized{Provider: p, engine: engine, kind: kindOf(p)}
}

func (c *categorized) Search(ctx context.Context, sp model.SearchParams) ([]model.Event, error) {
	events, err := c.Provider.Search(ctx, sp)
	if err != nil {
		return nil, err
	}
	return c.engine.Apply(c.kind, events), nil
}

// kindOf returns the upstream type behind any decorators.
func kindOf(p Provider) string {
	for {
		switch v := p.(type) {
		case *geocoding:
			p = v.Provider
		case *categorized:
			p = v.Provider
		case interface{ Kind() string }:
			return v.Kind()
		default:
			return p.ID()
		}
	}
}
