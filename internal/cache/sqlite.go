package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so lexicographic order matches chronological order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps entries in a local SQLite file (WAL mode).
type SQLiteStore struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// OpenSQLiteStore opens or creates the database at path and runs migrations.
func OpenSQLiteStore(path string, log *zap.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", url.PathEscape(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache database: %w", err)
	}
	db.SetMaxOpenConns(4)

	s := &SQLiteStore{db: db, log: log.With(zap.String("module", "cache.sqlite")), now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create cache_entries table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	var (
		payload            []byte
		created, expiresAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, created_at, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&payload, &created, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, &Error{Op: "get", Key: key, Err: err}
	}
	e := Entry{Key: key, Payload: payload}
	if e.CreatedAt, err = time.Parse(timeFormat, created); err != nil {
		return Entry{}, &Error{Op: "decode", Key: key, Err: err}
	}
	if e.ExpiresAt, err = time.Parse(timeFormat, expiresAt); err != nil {
		return Entry{}, &Error{Op: "decode", Key: key, Err: err}
	}
	if e.Expired(s.now()) {
		if err := s.Delete(ctx, key); err != nil {
			s.log.Debug("purge expired entry", zap.String("key", key), zap.Error(err))
		}
		return Entry{}, ErrMiss
	}
	return e, nil
}

func (s *SQLiteStore) Set(ctx context.Context, e Entry) error {
	if e.Expired(s.now()) {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		e.Key, e.Payload, e.CreatedAt.UTC().Format(timeFormat), e.ExpiresAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return &Error{Op: "set", Key: e.Key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

func (s *SQLiteStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	// substr avoids LIKE wildcard escaping
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE substr(key, 1, length(?)) = ?`, prefix, prefix)
	if err != nil {
		return 0, &Error{Op: "delete_prefix", Key: prefix, Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().UTC().Format(timeFormat))
	if err != nil {
		return 0, &Error{Op: "purge", Err: err}
	}
	return res.RowsAffected()
}

// RunPurge sweeps expired rows every interval until ctx is done.
func (s *SQLiteStore) RunPurge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				s.log.Warn("purge expired cache entries", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Debug("purged expired cache entries", zap.Int64("rows", n))
			}
		}
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
