package dedup

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

// Sub-score weights. They sum to 1.
const (
	WeightTitle    = 0.40
	WeightVenue    = 0.25
	WeightDate     = 0.15
	WeightTime     = 0.10
	WeightLocation = 0.10
)

// Score is the similarity of two events. Every field is in [0,1].
type Score struct {
	Title    float64
	Venue    float64
	Date     float64
	Time     float64
	Location float64
	Overall  float64
}

// Similarity compares two events. It is symmetric.
func Similarity(a, b *model.Event) Score {
	s := Score{
		Title:    TextSimilarity(a.Title, b.Title),
		Venue:    TextSimilarity(a.Venue.Name, b.Venue.Name),
		Date:     DateSimilarity(a.Start, b.Start),
		Time:     TimeSimilarity(a, b),
		Location: LocationSimilarity(a.Coordinates, b.Coordinates),
	}
	s.Overall = s.Title*WeightTitle + s.Venue*WeightVenue + s.Date*WeightDate +
		s.Time*WeightTime + s.Location*WeightLocation
	return s
}

// TextSimilarity is 1 - levenshtein/maxlen over normalized text.
// Empty on both sides is a vacuous match, empty on one side scores 0.
func TextSimilarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	switch {
	case na == "" && nb == "":
		return 1
	case na == "" || nb == "":
		return 0
	case na == nb:
		return 1
	}
	maxLen := utf8.RuneCountInString(na)
	if l := utf8.RuneCountInString(nb); l > maxLen {
		maxLen = l
	}
	d := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(d)/float64(maxLen)
}

// DateSimilarity decays with the calendar-day offset of the two starts (UTC).
func DateSimilarity(a, b time.Time) float64 {
	if a.IsZero() && b.IsZero() {
		return 1
	}
	if a.IsZero() || b.IsZero() {
		return 0
	}
	days := dayNumber(a) - dayNumber(b)
	if days < 0 {
		days = -days
	}
	switch {
	case days == 0:
		return 1
	case days == 1:
		return 0.8
	case days == 2:
		return 0.6
	case days <= 7:
		return 0.4
	}
	return 0
}

func dayNumber(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// TimeSimilarity decays with the difference in time of day. An event whose
// time is TBA has no time; two TBA events match vacuously.
func TimeSimilarity(a, b *model.Event) float64 {
	if a.TimeTBA && b.TimeTBA {
		return 1
	}
	if a.TimeTBA || b.TimeTBA {
		return 0
	}
	ma, mb := minuteOfDay(a.Start), minuteOfDay(b.Start)
	diff := ma - mb
	if diff < 0 {
		diff = -diff
	}
	if wrap := 24*60 - diff; wrap < diff {
		diff = wrap
	}
	switch {
	case diff == 0:
		return 1
	case diff <= 30:
		return 0.8
	case diff <= 60:
		return 0.6
	case diff <= 120:
		return 0.4
	}
	return 0
}

func minuteOfDay(t time.Time) int {
	t = t.UTC()
	return t.Hour()*60 + t.Minute()
}

// LocationSimilarity decays with great-circle distance.
func LocationSimilarity(a, b *model.Coordinates) float64 {
	if a == nil && b == nil {
		return 1
	}
	if a == nil || b == nil {
		return 0
	}
	km := HaversineKm(*a, *b)
	switch {
	case km < 0.1:
		return 1
	case km < 1:
		return 0.8
	case km < 5:
		return 0.6
	case km < 10:
		return 0.4
	}
	return 0
}

const earthRadiusKm = 6371.0088

// HaversineKm is the great-circle distance between two points.
func HaversineKm(a, b model.Coordinates) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
