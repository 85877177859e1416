package util

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ClientOptions configures the outbound client shared by adapters.
type ClientOptions struct {
	Timeout       time.Duration
	UserAgent     string
	Headers       map[string]string // injected on every request unless already set
	RatePerSecond float64           // 0 disables pacing
	Burst         int
}

// NewHTTPClient returns a client with a tuned transport, header injection and optional pacing.
// Requests are bound to their context, so cancelling the context aborts the connection.
func NewHTTPClient(opts ClientOptions) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	var rt http.RoundTripper = tr
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		rt = &pacedTransport{next: rt, limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)}
	}
	headers := make(map[string]string, len(opts.Headers)+1)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	if opts.UserAgent != "" {
		headers["User-Agent"] = opts.UserAgent
	}
	if len(headers) > 0 {
		rt = &headerTransport{next: rt, headers: headers}
	}
	return &http.Client{Timeout: opts.Timeout, Transport: rt}
}

type headerTransport struct {
	next    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not mutate the caller's request
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.next.RoundTrip(r)
}

type pacedTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func (t *pacedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
