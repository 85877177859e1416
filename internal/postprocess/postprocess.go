// Package postprocess canonicalises provider categories with map and keyword rules.
package postprocess

import (
	"strings"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/config"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

// Canonical category tags.
var Canonical = []string{
	"music", "sports", "arts", "comedy", "film", "food", "family",
	"community", "conference", "festival", "nightlife", "other",
}

// builtin maps cover the upstream vocabularies the bundled adapters emit.
// Config rules take precedence.
var builtin = map[string]map[string]string{
	"ticketmaster": {
		"music": "music", "sports": "sports", "arts & theatre": "arts", "film": "film",
		"miscellaneous": "other", "comedy": "comedy", "family": "family",
	},
	"eventbrite": {
		"music": "music", "sports & fitness": "sports", "performing & visual arts": "arts",
		"film, media & entertainment": "film", "food & drink": "food", "family & education": "family",
		"community & culture": "community", "business & professional": "conference",
		"science & technology": "conference", "seasonal & holiday": "festival", "nightlife": "nightlife",
	},
	"predicthq": {
		"concerts": "music", "sports": "sports", "performing-arts": "arts", "festivals": "festival",
		"community": "community", "conferences": "conference", "expos": "conference",
	},
	"rapidapi": {
		"concert": "music", "concerts": "music", "music": "music", "sports": "sports", "theater": "arts",
		"comedy": "comedy", "festival": "festival", "nightlife": "nightlife", "food": "food",
	},
}

type keywordRule struct {
	words    []string
	category string
}

type Engine struct {
	maps      map[string]map[string]string // provider type -> lower(raw) -> canonical; "" = any provider
	keywords  []keywordRule
	fallback  string
	canonical map[string]bool
}

func New(cfg config.CategoriesConfig) *Engine {
	e := &Engine{
		maps:      map[string]map[string]string{},
		fallback:  strings.ToLower(strings.TrimSpace(cfg.Fallback)),
		canonical: map[string]bool{},
	}
	if e.fallback == "" {
		e.fallback = "other"
	}
	for _, c := range Canonical {
		e.canonical[c] = true
	}
	for provider, m := range builtin {
		for raw, canon := range m {
			e.put(provider, raw, canon)
		}
	}
	for _, mr := range cfg.Maps {
		for raw, canon := range mr.Mapping {
			e.put(strings.ToLower(mr.Provider), raw, canon)
		}
	}
	for _, kr := range cfg.Keywords {
		cat := strings.ToLower(strings.TrimSpace(kr.Category))
		if cat == "" {
			continue
		}
		words := make([]string, 0, len(kr.When))
		for _, w := range kr.When {
			if s := strings.ToLower(strings.TrimSpace(w)); s != "" {
				words = append(words, s)
			}
		}
		if len(words) > 0 {
			e.keywords = append(e.keywords, keywordRule{words: words, category: cat})
			e.canonical[cat] = true
		}
	}
	return e
}

func (e *Engine) put(provider, raw, canon string) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	canon = strings.ToLower(strings.TrimSpace(canon))
	if raw == "" || canon == "" {
		return
	}
	m, ok := e.maps[provider]
	if !ok {
		m = map[string]string{}
		e.maps[provider] = m
	}
	m[raw] = canon
	e.canonical[canon] = true
}

// Canonicalize returns the canonical tag for a raw category emitted by provider.
// Keyword rules run over title and description when the raw value is unknown.
func (e *Engine) Canonicalize(provider, raw, title, description string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key != "" {
		if c, ok := e.maps[strings.ToLower(provider)][key]; ok {
			return c
		}
		if c, ok := e.maps[""][key]; ok {
			return c
		}
		if e.canonical[key] {
			return key
		}
	}

	titleLC := strings.ToLower(title)
	descLC := strings.ToLower(description)
	for _, kr := range e.keywords {
		for _, w := range kr.words {
			if strings.Contains(titleLC, w) || strings.Contains(descLC, w) {
				return kr.category
			}
		}
	}
	return e.fallback
}

// Apply canonicalises the category of every event. The raw provider value is
// kept as a tag so nothing is lost.
func (e *Engine) Apply(provider string, events []model.Event) []model.Event {
	for i := range events {
		ev := &events[i]
		raw := strings.TrimSpace(ev.Category)
		ev.Category = e.Canonicalize(provider, raw, ev.Title, ev.Description)
		if raw != "" && !strings.EqualFold(raw, ev.Category) && !hasTag(ev.Tags, raw) {
			ev.Tags = append(ev.Tags, raw)
		}
	}
	return events
}

func hasTag(tags []string, t string) bool {
	for _, x := range tags {
		if strings.EqualFold(x, t) {
			return true
		}
	}
	return false
}
