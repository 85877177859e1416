package dedup

import (
	"strings"
	"unicode/utf8"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

// Quality point values.
const (
	PointsImage          = 20
	PointsMultipleImages = 10
	PointsDescription    = 15 // > 100 chars
	PointsLongDesc       = 10 // > 300 chars, on top of PointsDescription
	PointsVenueName      = 15
	PointsVenueAddress   = 10
	PointsCoordinates    = 10
	PointsTickets        = 15
	PointsPrice          = 5
	PointsOrganizer      = 10
	PointsAvatar         = 5
)

// Quality scores the completeness of an event plus the trust bonus of its source.
func Quality(ev *model.Event, trust map[string]int) int {
	q := 0
	if ev.HasImage() {
		q += PointsImage
		if ev.ImageCount() > 1 {
			q += PointsMultipleImages
		}
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(ev.Description)); n > 100 {
		q += PointsDescription
		if n > 300 {
			q += PointsLongDesc
		}
	}
	if strings.TrimSpace(ev.Venue.Name) != "" {
		q += PointsVenueName
	}
	if strings.TrimSpace(ev.Venue.Address) != "" {
		q += PointsVenueAddress
	}
	if ev.Coordinates != nil && ev.Coordinates.Valid() {
		q += PointsCoordinates
	}
	for _, t := range ev.Tickets {
		if t.URL != "" {
			q += PointsTickets
			break
		}
	}
	if !ev.Price.Free() {
		q += PointsPrice
	}
	if strings.TrimSpace(ev.Organizer.Name) != "" {
		q += PointsOrganizer
	}
	if ev.Organizer.AvatarURL != "" {
		q += PointsAvatar
	}
	return q + trust[ev.Source]
}
