package sheetsync

import (
	"context"
	"time"
)

// WithTimeout runs op with a deadline of d and returns its value, or fallback
// when op fails, panics or does not finish in time. A late result is discarded.
func WithTimeout[T any](ctx context.Context, d time.Duration, fallback T, op func(context.Context) (T, error)) T {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if recover() != nil {
				done <- result{value: fallback, err: context.Canceled}
			}
		}()
		v, err := op(ctx)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fallback
		}
		return r.value
	case <-ctx.Done():
		return fallback
	}
}
