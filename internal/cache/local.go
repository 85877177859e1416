package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// Local is a bounded, TTL-aware LRU held in process memory.
type Local struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List               // most-recent at front
	items map[string]*list.Element // key -> element holding an Entry
	now   func() time.Time
}

// NewLocal creates a local tier holding at most maxKeys entries.
func NewLocal(maxKeys int, now func() time.Time) *Local {
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	if now == nil {
		now = time.Now
	}
	return &Local{cap: maxKeys, ll: list.New(), items: make(map[string]*list.Element, maxKeys), now: now}
}

// Get returns a live entry. Expired entries are purged and reported as missing.
func (l *Local) Get(key string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.items[key]
	if !ok {
		return Entry{}, false
	}
	en := el.Value.(Entry)
	if en.Expired(l.now()) {
		l.ll.Remove(el)
		delete(l.items, key)
		return Entry{}, false
	}
	l.ll.MoveToFront(el)
	return en, true
}

// Set stores or replaces an entry and evicts from the tail when over capacity.
func (l *Local) Set(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[e.Key]; ok {
		el.Value = e
		l.ll.MoveToFront(el)
	} else {
		l.items[e.Key] = l.ll.PushFront(e)
	}
	for l.ll.Len() > l.cap {
		l.removeElement(l.ll.Back())
	}
	// soft cleanup of expired entries at the tail
	now := l.now()
	for t := l.ll.Back(); t != nil && t.Value.(Entry).Expired(now); t = l.ll.Back() {
		l.removeElement(t)
	}
}

// Delete removes one key.
func (l *Local) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.items[key]; ok {
		l.removeElement(el)
	}
}

// DeletePrefix removes every key starting with prefix and returns how many were removed.
func (l *Local) DeletePrefix(prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, el := range l.items {
		if strings.HasPrefix(k, prefix) {
			l.removeElement(el)
			n++
		}
	}
	return n
}

// Clear drops everything.
func (l *Local) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ll.Init()
	l.items = make(map[string]*list.Element, l.cap)
}

// Len reports the number of held entries, including not yet purged stale ones.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}

func (l *Local) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	l.ll.Remove(el)
	delete(l.items, el.Value.(Entry).Key)
}
