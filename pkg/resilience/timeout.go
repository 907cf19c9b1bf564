package resilience

import (
	"context"
	"time"

	agerr "github.com/synthagora/agora/pkg/errors"
)

// WithTimeout executes fn with a deadline of d. A zero d means no deadline.
// Exceeding d yields a recoverable CodeTimeout error; cancellation of ctx
// itself is returned unchanged.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	_, err := CallWithTimeout(ctx, d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// CallWithTimeout is WithTimeout for functions returning a value. fn keeps
// running in the background if it ignores its context.
func CallWithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(tctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, timeoutError(d, tctx.Err())
	case res := <-done:
		// fn may have returned the deadline error itself.
		if res.err != nil && ctx.Err() == nil && tctx.Err() == context.DeadlineExceeded {
			return zero, timeoutError(d, res.err)
		}
		return res.value, res.err
	}
}

func timeoutError(d time.Duration, cause error) error {
	return agerr.New(agerr.CodeTimeout, "operation exceeded timeout", cause).
		WithContext("timeout", d.String()).
		WithRecoverable(true)
}
