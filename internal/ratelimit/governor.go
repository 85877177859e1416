// Package ratelimit guards outbound provider calls: fixed-window request budgets,
// retry scheduling and per-provider circuit breakers.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDenied is returned by Await when the budget does not reopen before the wait ceiling.
var ErrDenied = errors.New("ratelimit: budget exhausted")

// Budget is the state of one provider's window.
type Budget struct {
	WindowStart time.Time
	Count       int
	Max         int
	BlockedTill time.Time // upstream-imposed pause (Retry-After)
}

type budget struct {
	mu sync.Mutex
	Budget
}

type GovernorOptions struct {
	Window      time.Duration
	MaxRequests int            // default per window
	Overrides   map[string]int // provider id -> max per window
	WaitCeiling time.Duration  // 0 denies without waiting
	Now         func() time.Time
}

// Governor tracks one budget per provider. Budgets are independent: a burst on
// one provider never blocks another.
type Governor struct {
	opts    GovernorOptions
	budgets sync.Map // provider id -> *budget
}

func NewGovernor(opts GovernorOptions) *Governor {
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = 60
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Governor{opts: opts}
}

func (g *Governor) budgetFor(id string) *budget {
	if b, ok := g.budgets.Load(id); ok {
		return b.(*budget)
	}
	max := g.opts.MaxRequests
	if m, ok := g.opts.Overrides[id]; ok && m > 0 {
		max = m
	}
	b, _ := g.budgets.LoadOrStore(id, &budget{Budget: Budget{WindowStart: g.opts.Now(), Max: max}})
	return b.(*budget)
}

// Admit consumes one unit of the provider's budget if available. It never blocks.
func (g *Governor) Admit(id string) bool {
	ok, _ := g.admit(id)
	return ok
}

// admit returns whether the call is allowed and, if not, how long until it could be.
func (g *Governor) admit(id string) (bool, time.Duration) {
	b := g.budgetFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := g.opts.Now()
	if now.Before(b.BlockedTill) {
		return false, b.BlockedTill.Sub(now)
	}
	if !now.Before(b.WindowStart.Add(g.opts.Window)) {
		b.WindowStart = now
		b.Count = 0
	}
	if b.Count >= b.Max {
		return false, b.WindowStart.Add(g.opts.Window).Sub(now)
	}
	b.Count++
	return true, 0
}

// Await blocks until the provider's budget admits a call, the wait ceiling is
// exceeded (ErrDenied) or ctx ends.
func (g *Governor) Await(ctx context.Context, id string) error {
	var waited time.Duration
	for {
		ok, wait := g.admit(id)
		if ok {
			return nil
		}
		if waited+wait > g.opts.WaitCeiling {
			return ErrDenied
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		waited += wait
	}
}

// Block pauses a provider until the given time, e.g. after an upstream Retry-After.
func (g *Governor) Block(id string, until time.Time) {
	b := g.budgetFor(id)
	b.mu.Lock()
	if until.After(b.BlockedTill) {
		b.BlockedTill = until
	}
	b.mu.Unlock()
}

// RetryAfter reports how long until the provider admits another call.
func (g *Governor) RetryAfter(id string) time.Duration {
	b := g.budgetFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := g.opts.Now()
	if now.Before(b.BlockedTill) {
		return b.BlockedTill.Sub(now)
	}
	end := b.WindowStart.Add(g.opts.Window)
	if b.Count < b.Max || !now.Before(end) {
		return 0
	}
	return end.Sub(now)
}

// Remaining reports how many calls the provider may still make in the current window.
func (g *Governor) Remaining(id string) int {
	b := g.budgetFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !g.opts.Now().Before(b.WindowStart.Add(g.opts.Window)) {
		return b.Max
	}
	return b.Max - b.Count
}

// Snapshot copies every known budget.
func (g *Governor) Snapshot() map[string]Budget {
	out := map[string]Budget{}
	g.budgets.Range(func(k, v any) bool {
		b := v.(*budget)
		b.mu.Lock()
		out[k.(string)] = b.Budget
		b.mu.Unlock()
		return true
	})
	return out
}
