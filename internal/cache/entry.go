package cache

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMiss is returned by a Store when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Error wraps a backend failure. Callers treat it as a miss.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("cache %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Entry is one cached value with its absolute expiry.
type Entry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is stale at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Remaining is the lifetime left at now, never negative.
func (e Entry) Remaining(now time.Time) time.Duration {
	if d := e.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// KeyBuilder namespaces keys as <prefix>:<namespace>:<part>:<part>...
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder returns a builder for the given prefix.
func NewKeyBuilder(prefix string) KeyBuilder {
	return KeyBuilder{prefix: strings.ToLower(strings.Trim(prefix, ":"))}
}

// Key builds a namespaced key.
func (kb KeyBuilder) Key(namespace string, parts ...string) string {
	all := make([]string, 0, len(parts)+2)
	if kb.prefix != "" {
		all = append(all, kb.prefix)
	}
	all = append(all, strings.ToLower(namespace))
	all = append(all, parts...)
	return strings.Join(all, ":")
}

// Namespace returns the prefix every key of namespace starts with.
func (kb KeyBuilder) Namespace(namespace string) string {
	return kb.Key(namespace) + ":"
}
