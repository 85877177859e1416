package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/json"
	"github.com/bestfriendai/NEWEVENTS-sub007/internal/model"
)

const maxBody = 8 << 20

// getJSON performs req and decodes a 2xx body into out. Every failure comes
// back as a *ProviderError.
func getJSON(ctx context.Context, client *http.Client, provider, rawURL string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &ProviderError{Provider: provider, Class: ClassBadRequest, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return transportError(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return statusError(provider, resp, string(b), time.Now())
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		if ctx.Err() != nil {
			return transportError(provider, ctx.Err())
		}
		return &ProviderError{Provider: provider, Class: ClassMalformed, Status: resp.StatusCode, Err: err}
	}
	return nil
}

// firstNonEmpty returns the first non-blank value, trimmed.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// parseTimeFlexible parses RFC3339, epoch seconds and a few common layouts.
// Layouts without a zone are read as UTC.
func parseTimeFlexible(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if len(s) >= 10 {
		if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(sec, 0).UTC(), nil
		}
	}
	for _, layout := range append(localLayouts, "2006-01-02") {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time: %s", s)
}

var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04"}

// parseLocalTime reads a zone-less wall-clock time in the IANA zone tz and
// returns the UTC instant. Unknown or empty zones fall back to parseTimeFlexible.
func parseLocalTime(s, tz string) (time.Time, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(tz))
	if tz == "" || err != nil {
		return parseTimeFlexible(s)
	}
	s = strings.TrimSpace(s)
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return parseTimeFlexible(s)
}

// flexFloat decodes numbers sent either as JSON numbers or numeric strings.
// Anything unparsable is treated as absent.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	f.v, f.ok = v, true
	return nil
}

func coordinates(lat, lng flexFloat) *model.Coordinates {
	if !lat.ok || !lng.ok {
		return nil
	}
	return model.NewCoordinates(lat.v, lng.v)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// mapped reports whether cat has an upstream equivalent in table.
func mapped(table map[string]string, cat string) bool {
	_, ok := table[cat]
	return ok
}

// pageOf converts an offset into a zero-based page for page-numbered APIs.
func pageOf(offset, size int) int {
	if size <= 0 {
		return 0
	}
	return offset / size
}

func fetchSize(limit, pageSize int) int {
	if limit > 0 && (pageSize <= 0 || limit < pageSize) {
		return limit
	}
	if pageSize > 0 {
		return pageSize
	}
	return 50
}
