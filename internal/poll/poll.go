// Package poll provides the one waiting primitive every browser step uses:
// check a condition at a fixed interval until it holds or a deadline passes.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Until when the deadline passes first.
var ErrTimeout = errors.New("poll: condition not met before deadline")

// Condition reports whether the wait is over. A non-nil error aborts the
// wait and is returned as is.
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond immediately and then every interval until it returns
// true, returns an error, ctx is done, or timeout elapses. A non-positive
// timeout evaluates cond exactly once.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Value polls fn until it yields ok=true and returns the value it produced.
func Value[T any](ctx context.Context, interval, timeout time.Duration, fn func(ctx context.Context) (T, bool)) (T, error) {
	var out T
	err := Until(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		v, ok := fn(ctx)
		if ok {
			out = v
		}
		return ok, nil
	})
	return out, err
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
