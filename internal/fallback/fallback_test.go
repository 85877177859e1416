package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestFirst_UsesFirstSuccess(t *testing.T) {
	calls := 0
	v, out, err := First(context.Background(),
		Func("primary", func(context.Context) (int, error) { calls++; return 0, errBoom }),
		Func("secondary", func(context.Context) (int, error) { calls++; return 7, nil }),
		Func("never", func(context.Context) (int, error) { calls++; return 9, nil }),
	)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, "secondary", out.Step)
	assert.Equal(t, 1, out.Index)
	assert.Len(t, out.Failed, 1)
	assert.Equal(t, 2, calls)
}

func TestFirst_DefaultValue(t *testing.T) {
	v, out, err := First(context.Background(),
		Func("a", func(context.Context) (string, error) { return "", errBoom }),
		Value("default", "fallback"),
	)
	require.NoError(t, err)
	assert.Equal(t, "fallback", v)
	assert.Equal(t, "default", out.Step)
}

func TestFirst_Exhausted(t *testing.T) {
	_, out, err := First(context.Background(),
		Func("a", func(context.Context) (int, error) { return 0, errBoom }),
		Func("b", func(context.Context) (int, error) { return 0, errBoom }),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, -1, out.Index)
	assert.Len(t, out.Failed, 2)
}

func TestFirst_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, _, err := First(ctx, Func("a", func(context.Context) (int, error) { called = true; return 1, nil }))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
