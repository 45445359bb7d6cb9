// Package retry runs an operation again with exponential backoff when it
// fails with a retryable error.
package retry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dashjay/obspath/pkg/obserr"
)

// SleepFunc computes the next sleep from the last one and the attempt index.
type SleepFunc func(current time.Duration, attempt int) time.Duration

// Doubling is the default growth: every retry waits twice as long.
func Doubling(current time.Duration, _ int) time.Duration {
	return current * 2
}

type Policy struct {
	// Retries is how many times a failed call is repeated; the operation
	// runs at most Retries+1 times.
	Retries      int
	InitialSleep time.Duration
	Sleep        SleepFunc
	Retryable    func(error) bool
	// Sleeper waits between attempts. Tests replace it to avoid real sleeps.
	Sleeper func(ctx context.Context, d time.Duration) error
	// Op names the operation in log lines.
	Op string
}

// OnKinds matches normalized errors of the given kinds.
func OnKinds(kinds ...obserr.Kind) func(error) bool {
	return func(err error) bool {
		return obserr.Is(err, kinds...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Do calls fn until it succeeds, fails with a non retryable error or the
// retries are exhausted. The error of the last attempt is returned unchanged.
func Do(ctx context.Context, p Policy, fn func() error) error {
	_, err := DoValue(ctx, p, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func DoValue[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	sleepFn := p.Sleep
	if sleepFn == nil {
		sleepFn = Doubling
	}
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = sleepContext
	}
	wait := p.InitialSleep
	for attempt := 0; attempt < p.Retries; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return v, err
		}
		logrus.WithField("op", p.Op).
			WithField("attempt", attempt+1).
			WithField("sleep", wait).
			WithError(err).Warnln("retrying after error")
		if serr := sleeper(ctx, wait); serr != nil {
			return v, err
		}
		wait = sleepFn(wait, attempt)
	}
	return fn()
}
