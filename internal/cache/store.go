package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bestfriendai/NEWEVENTS-sub007/internal/config"
)

// Store is the durable tier. Implementations delegate concurrency control to
// their backend; concurrent Set calls on one key are last-write-wins.
type Store interface {
	Name() string
	// Get returns ErrMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (Entry, error)
	Set(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// NopStore is a durable tier that stores nothing.
type NopStore struct{}

func (NopStore) Name() string                                      { return "none" }
func (NopStore) Get(context.Context, string) (Entry, error)        { return Entry{}, ErrMiss }
func (NopStore) Set(context.Context, Entry) error                  { return nil }
func (NopStore) Delete(context.Context, string) error              { return nil }
func (NopStore) DeletePrefix(context.Context, string) (int, error) { return 0, nil }
func (NopStore) Close() error                                      { return nil }

// OpenStore builds the durable tier selected by cfg.Durable.
func OpenStore(cfg config.CacheConfig, log *zap.Logger) (Store, error) {
	switch cfg.Durable {
	case "", "none":
		return NopStore{}, nil
	case "redis":
		s, err := NewRedisStore(cfg.Redis, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := OpenSQLiteStore(cfg.SQLite.Path, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Durable)
	}
}
