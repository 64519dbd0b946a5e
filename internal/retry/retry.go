// Package retry runs an operation with capped exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Opts configures retry behavior.
type Opts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Jitter      bool
}

// Default provides sensible retry defaults.
var Default = Opts{
	MaxAttempts: 3,
	InitialWait: time.Second,
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// Do calls f until it succeeds, returns an error retryable rejects, attempts run out or ctx
// is done. The last error from f is returned. A nil retryable retries every error.
func Do(ctx context.Context, opts Opts, retryable func(error) bool, f func(context.Context) error) error {
	var err error
	attempts := max(opts.MaxAttempts, 1)

	for attempt := 1; attempt <= attempts; attempt++ {
		if err = f(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		sleepDur := opts.Delay(attempt)
		if opts.Jitter {
			sleepDur = time.Duration(float64(sleepDur) * (0.5 + rand.Float64()))
			if opts.MaxWait > 0 && sleepDur > opts.MaxWait {
				sleepDur = opts.MaxWait
			}
		}

		timer := time.NewTimer(sleepDur)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// Delay returns the un-jittered wait after the given 1-based attempt:
// InitialWait * 2^(attempt-1), capped at MaxWait.
func (o Opts) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := o.InitialWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if o.MaxWait > 0 && wait >= o.MaxWait {
			return o.MaxWait
		}
	}
	if o.MaxWait > 0 && wait > o.MaxWait {
		return o.MaxWait
	}
	return wait
}
