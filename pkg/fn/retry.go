package fn

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryOpts configures Retry. Retryable, when set, decides whether an error
// is worth another attempt; context errors never are.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
	Retryable   func(error) bool
}

// Retry calls f until it succeeds or MaxAttempts is reached, doubling the
// wait between attempts up to MaxWait.
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	var result Result[T]
	wait := opts.InitialWait
	attempts := max(opts.MaxAttempts, 1)

	for attempt := 0; attempt < attempts; attempt++ {
		result = f(ctx)
		if result.IsOk() || attempt == attempts-1 || !retryable(opts, result.err) {
			return result
		}

		sleep := wait
		if opts.Jitter {
			sleep = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if opts.MaxWait > 0 && sleep > opts.MaxWait {
			sleep = opts.MaxWait
		}
		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(sleep):
		}

		wait *= 2
		if opts.MaxWait > 0 && wait > opts.MaxWait {
			wait = opts.MaxWait
		}
	}
	return result
}

func retryable(opts RetryOpts, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if opts.Retryable != nil {
		return opts.Retryable(err)
	}
	return true
}
