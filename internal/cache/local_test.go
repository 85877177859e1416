package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func entryAt(clk *fakeClock, key string, ttl time.Duration) Entry {
	now := clk.Now()
	return Entry{Key: key, Payload: []byte(key), CreatedAt: now, ExpiresAt: now.Add(ttl)}
}

func TestLocal_ExpiryPurgesEntry(t *testing.T) {
	clk := newFakeClock()
	l := NewLocal(8, clk.Now)
	l.Set(entryAt(clk, "a", time.Second))

	clk.Advance(500 * time.Millisecond)
	e, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("a"), e.Payload)

	clk.Advance(time.Second)
	_, ok = l.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len(), "expired read removes the entry")
}

func TestLocal_EvictsLeastRecentlyUsed(t *testing.T) {
	clk := newFakeClock()
	l := NewLocal(2, clk.Now)
	l.Set(entryAt(clk, "a", time.Minute))
	l.Set(entryAt(clk, "b", time.Minute))

	_, ok := l.Get("a") // a becomes most recent
	require.True(t, ok)
	l.Set(entryAt(clk, "c", time.Minute))

	_, ok = l.Get("b")
	assert.False(t, ok)
	_, ok = l.Get("a")
	assert.True(t, ok)
	_, ok = l.Get("c")
	assert.True(t, ok)
}

func TestLocal_DeletePrefix(t *testing.T) {
	clk := newFakeClock()
	l := NewLocal(16, clk.Now)
	for _, k := range []string{"p:provider:tm:1", "p:provider:tm:2", "p:provider:eb:1", "p:merged:x"} {
		l.Set(entryAt(clk, k, time.Minute))
	}

	n := l.DeletePrefix("p:provider:tm:")
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, l.Len())

	l.Clear()
	assert.Equal(t, 0, l.Len())
}

func TestLocal_ConcurrentAccess(t *testing.T) {
	clk := newFakeClock()
	l := NewLocal(64, clk.Now)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				k := string(rune('a' + (i+j)%26))
				l.Set(entryAt(clk, k, time.Minute))
				l.Get(k)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, l.Len(), 26)
}

func TestKeyBuilder(t *testing.T) {
	kb := NewKeyBuilder("EventAgg:")
	assert.Equal(t, "eventagg:provider:ticketmaster:abc", kb.Key("Provider", "ticketmaster", "abc"))
	assert.Equal(t, "eventagg:merged:", kb.Namespace("merged"))

	bare := NewKeyBuilder("")
	assert.Equal(t, "geocode:x", bare.Key("geocode", "x"))
}
