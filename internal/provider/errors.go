package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorClass groups provider failures by what the orchestrator can do about them.
type ErrorClass string

const (
	ClassAuth        ErrorClass = "auth"
	ClassRateLimited ErrorClass = "rate_limited"
	ClassTimeout     ErrorClass = "timeout"
	ClassUnavailable ErrorClass = "unavailable"
	ClassMalformed   ErrorClass = "malformed"
	ClassBadRequest  ErrorClass = "bad_request"
	ClassNetwork     ErrorClass = "network"
)

var ErrUnknownType = errors.New("unknown provider type")

// ProviderError is the only error type adapters return from Search.
type ProviderError struct {
	Provider   string
	Class      ErrorClass
	Status     int           // HTTP status, 0 when no response was received
	RetryAfter time.Duration // upstream hint, 0 when absent
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (http %d): %v", e.Provider, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func (e *ProviderError) Retryable() bool {
	switch e.Class {
	case ClassNetwork, ClassUnavailable, ClassTimeout:
		return true
	}
	return false
}

// AsProviderError extracts a *ProviderError from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	ok := errors.As(err, &pe)
	return pe, ok
}

// transportError classifies a failure that produced no response.
func transportError(provider string, err error) *ProviderError {
	class := ClassNetwork
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		class = ClassTimeout
	}
	return &ProviderError{Provider: provider, Class: class, Err: err}
}

// statusError classifies a non-2xx response. body is a short excerpt for the message.
func statusError(provider string, resp *http.Response, body string, now time.Time) *ProviderError {
	pe := &ProviderError{Provider: provider, Status: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		pe.Class = ClassAuth
	case resp.StatusCode == http.StatusTooManyRequests:
		pe.Class = ClassRateLimited
		pe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), now)
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		pe.Class = ClassTimeout
	case resp.StatusCode >= 500:
		pe.Class = ClassUnavailable
		pe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), now)
	default:
		pe.Class = ClassBadRequest
	}
	msg := strings.TrimSpace(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	pe.Err = errors.New(msg)
	return pe
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
