// Package poll waits for conditions that have no event to subscribe to:
// page JSON appearing, a primed range arriving, rendered text settling, an
// editor surface mounting.
package poll

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var ErrTimeout = errors.New("condition not met before deadline")

// Options bounds a wait. A zero Timeout and zero MaxAttempts wait until ctx
// is done.
type Options struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
}

// Condition reports whether the wait is over. A non-nil error aborts the wait.
type Condition func(ctx context.Context) (bool, error)

// Until checks cond immediately and then once per Interval. It returns nil
// once cond holds, ErrTimeout when the bound is exhausted, or the context
// error if ctx ends first.
func Until(ctx context.Context, opts Options, cond Condition) error {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		done, err := cond(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return ErrTimeout
		}

		select {
		case <-ticker.C:
		case <-deadline:
			return ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stable waits until measure returns the same non-zero value on two
// consecutive checks, then returns that value. If the bound runs out, the
// last observed value is returned along with ErrTimeout.
func Stable(ctx context.Context, opts Options, measure func(ctx context.Context) (int, error)) (int, error) {
	last := -1
	err := Until(ctx, opts, func(ctx context.Context) (bool, error) {
		n, err := measure(ctx)
		if err != nil {
			return false, err
		}
		settled := n > 0 && n == last
		last = n
		return settled, nil
	})
	if last < 0 {
		last = 0
	}
	return last, err
}
