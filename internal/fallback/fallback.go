// Package fallback implements an ordered "try A, then B, then default" chain.
package fallback

import (
	"context"
	"errors"
	"fmt"
)

// ErrExhausted is returned when every step failed.
var ErrExhausted = errors.New("fallback: all steps failed")

// Step is one candidate in a chain.
type Step[T any] struct {
	Name string
	Fn   func(ctx context.Context) (T, error)
}

// Func builds a step from a function.
func Func[T any](name string, fn func(ctx context.Context) (T, error)) Step[T] {
	return Step[T]{Name: name, Fn: fn}
}

// Value builds a step that always yields v; use it as the terminal default.
func Value[T any](name string, v T) Step[T] {
	return Step[T]{Name: name, Fn: func(context.Context) (T, error) { return v, nil }}
}

// Outcome reports which step produced the value and which ones failed before it.
type Outcome struct {
	Step   string
	Index  int
	Failed []error
}

// First runs steps in order and returns the first success.
// A cancelled context stops the chain. When all steps fail the returned error
// wraps ErrExhausted and every step error.
func First[T any](ctx context.Context, steps ...Step[T]) (T, Outcome, error) {
	var zero T
	out := Outcome{Index: -1}
	for i, s := range steps {
		if err := ctx.Err(); err != nil {
			out.Failed = append(out.Failed, err)
			return zero, out, errors.Join(append([]error{ErrExhausted}, out.Failed...)...)
		}
		if s.Fn == nil {
			continue
		}
		v, err := s.Fn(ctx)
		if err == nil {
			out.Step, out.Index = s.Name, i
			return v, out, nil
		}
		out.Failed = append(out.Failed, fmt.Errorf("%s: %w", s.Name, err))
	}
	return zero, out, errors.Join(append([]error{ErrExhausted}, out.Failed...)...)
}
