package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSQLiteStore_SetGetOverwrite(t *testing.T) {
	clk := newFakeClock()
	s := openTestSQLite(t, clk)
	ctx := context.Background()

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, s.Set(ctx, entryAt(clk, "k", time.Minute)))
	e := entryAt(clk, "k", 2*time.Minute)
	e.Payload = []byte("second")
	require.NoError(t, s.Set(ctx, e), "last write wins")

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got.Payload)
	assert.True(t, got.ExpiresAt.Equal(e.ExpiresAt))
}

func TestSQLiteStore_ExpiredReadPurges(t *testing.T) {
	clk := newFakeClock()
	s := openTestSQLite(t, clk)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, entryAt(clk, "k", time.Second)))
	clk.Advance(2 * time.Second)

	_, err := s.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n))
	assert.Zero(t, n)
}

func TestSQLiteStore_PurgeExpired(t *testing.T) {
	clk := newFakeClock()
	s := openTestSQLite(t, clk)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, entryAt(clk, "short-1", time.Second)))
	require.NoError(t, s.Set(ctx, entryAt(clk, "short-2", time.Second)))
	require.NoError(t, s.Set(ctx, entryAt(clk, "long", time.Hour)))
	clk.Advance(time.Minute)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = s.Get(ctx, "long")
	assert.NoError(t, err)
}

func TestSQLiteStore_DeletePrefixTreatsWildcardsLiterally(t *testing.T) {
	clk := newFakeClock()
	s := openTestSQLite(t, clk)
	ctx := context.Background()

	for _, k := range []string{"a:p_1:x", "a:p_1:y", "a:pX1:z"} {
		require.NoError(t, s.Set(ctx, entryAt(clk, k, time.Minute)))
	}
	n, err := s.DeletePrefix(ctx, "a:p_1:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Get(ctx, "a:pX1:z")
	assert.NoError(t, err)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	clk := newFakeClock()
	path := filepath.Join(t.TempDir(), "cache.sqlite")
	ctx := context.Background()

	s, err := OpenSQLiteStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	s.now = clk.Now
	require.NoError(t, s.Set(ctx, entryAt(clk, "k", time.Hour)))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer s.Close()
	s.now = clk.Now
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), got.Payload)
}
