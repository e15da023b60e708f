// Package poll waits for an external operation to reach a terminal state.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrTimeout = errors.New("timed out waiting for terminal state")

// CheckFunc reports the current value and whether it is terminal.
type CheckFunc[T any] func(ctx context.Context) (T, bool, error)

// CancelFunc is invoked once when the wait times out.
type CancelFunc func(ctx context.Context) error

type Options struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Await polls check every Interval until it reports a terminal state, returns
// an error, or Timeout elapses. On timeout cancel (if non-nil) runs with a
// fresh context and the last observed value is returned with ErrTimeout.
func Await[T any](ctx context.Context, opts Options, check CheckFunc[T], cancel CancelFunc) (T, error) {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	tick := time.NewTicker(opts.Interval)
	defer tick.Stop()

	var last T
	for {
		v, done, err := check(ctx)
		if err != nil {
			return v, err
		}
		last = v
		if done {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-deadline.C:
			if cancel != nil {
				cctx, stop := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				cerr := cancel(cctx)
				stop()
				if cerr != nil {
					return last, fmt.Errorf("%w (cancel failed: %v)", ErrTimeout, cerr)
				}
			}
			return last, ErrTimeout
		case <-tick.C:
		}
	}
}
