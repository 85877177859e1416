package ratelimit

import (
	"errors"
	"sync"
	"time"

	cb "github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/metrics"
)

// ErrOpen is returned while a provider's breaker refuses calls.
var ErrOpen = errors.New("ratelimit: circuit open")

type BreakerOptions struct {
	Failures int           // consecutive failures that open the breaker, 0 disables
	Cooldown time.Duration // open -> half-open
	Metrics  *metrics.Metrics
}

// Breakers holds one circuit breaker per provider.
type Breakers struct {
	opts BreakerOptions
	log  *zap.Logger
	mu   sync.Mutex
	m    map[string]*cb.CircuitBreaker
}

func NewBreakers(opts BreakerOptions, log *zap.Logger) *Breakers {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 30 * time.Second
	}
	return &Breakers{opts: opts, log: log.With(zap.String("module", "breaker")), m: map[string]*cb.CircuitBreaker{}}
}

func (b *Breakers) get(id string) *cb.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if br, ok := b.m[id]; ok {
		return br
	}
	failures := uint32(b.opts.Failures)
	br := cb.NewCircuitBreaker(cb.Settings{
		Name:        id,
		MaxRequests: 1,
		Timeout:     b.opts.Cooldown,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// only transient upstream failures count against the breaker
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var r Retryable
			return !errors.As(err, &r) || !r.Retryable()
		},
		OnStateChange: func(name string, from, to cb.State) {
			b.log.Warn("circuit breaker state change", zap.String("provider", name),
				zap.String("from", from.String()), zap.String("to", to.String()))
			b.opts.Metrics.BreakerState(name, int(to))
		},
	})
	b.m[id] = br
	return br
}

// Execute runs fn through the provider's breaker. ErrOpen is returned without
// calling fn while the breaker is open.
func (b *Breakers) Execute(id string, fn func() error) error {
	if b == nil || b.opts.Failures <= 0 {
		return fn()
	}
	_, err := b.get(id).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, cb.ErrOpenState) || errors.Is(err, cb.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State reports the breaker state name for a provider.
func (b *Breakers) State(id string) string {
	if b == nil || b.opts.Failures <= 0 {
		return cb.StateClosed.String()
	}
	return b.get(id).State().String()
}
