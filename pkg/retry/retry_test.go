package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dashjay/obspath/pkg/obserr"
	"github.com/dashjay/obspath/pkg/retry"
)

type recorder struct {
	sleeps []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func flaky(failures int, err error) (func() (string, error), *int) {
	calls := 0
	return func() (string, error) {
		calls++
		if calls <= failures {
			return "", err
		}
		return "ok", nil
	}, &calls
}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	rec := &recorder{}
	fn, calls := flaky(2, obserr.New(obserr.KindUnavailable, "503", nil))
	v, err := retry.DoValue(context.Background(), retry.Policy{
		Retries:      2,
		InitialSleep: time.Second,
		Retryable:    retry.OnKinds(obserr.KindUnavailable),
		Sleeper:      rec.sleep,
	}, fn)
	assert.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.sleeps)
}

func TestRetryExhausted(t *testing.T) {
	rec := &recorder{}
	want := obserr.New(obserr.KindUnavailable, "503", nil)
	fn, calls := flaky(2, want)
	_, err := retry.DoValue(context.Background(), retry.Policy{
		Retries:   1,
		Retryable: retry.OnKinds(obserr.KindUnavailable),
		Sleeper:   rec.sleep,
	}, fn)
	assert.Same(t, want, err)
	assert.Equal(t, 2, *calls)
}

func TestRetrySkipsUnmatchedErrors(t *testing.T) {
	fn, calls := flaky(5, obserr.New(obserr.KindNotFound, "404", nil))
	_, err := retry.DoValue(context.Background(), retry.Policy{
		Retries:   3,
		Retryable: retry.OnKinds(obserr.KindUnavailable, obserr.KindConditionNotMet),
		Sleeper:   (&recorder{}).sleep,
	}, fn)
	assert.True(t, obserr.IsNotFound(err))
	assert.Equal(t, 1, *calls)
}

func TestRetryCustomSleepFunc(t *testing.T) {
	rec := &recorder{}
	fn, _ := flaky(3, obserr.New(obserr.KindConditionNotMet, "short", nil))
	err := retry.Do(context.Background(), retry.Policy{
		Retries:      3,
		InitialSleep: time.Millisecond,
		Sleep: func(current time.Duration, attempt int) time.Duration {
			return current + time.Duration(attempt+1)*time.Millisecond
		},
		Retryable: retry.OnKinds(obserr.KindConditionNotMet),
		Sleeper:   rec.sleep,
	}, func() error {
		_, err := fn()
		return err
	})
	assert.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}, rec.sleeps)
}

func TestRetryZeroRetriesCallsOnce(t *testing.T) {
	fn, calls := flaky(1, errors.New("boom"))
	_, err := retry.DoValue(context.Background(), retry.Policy{}, fn)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, *calls)
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fn, calls := flaky(3, obserr.New(obserr.KindUnavailable, "503", nil))
	_, err := retry.DoValue(ctx, retry.Policy{
		Retries:      3,
		InitialSleep: time.Hour,
		Retryable:    retry.OnKinds(obserr.KindUnavailable),
	}, fn)
	assert.True(t, obserr.Is(err, obserr.KindUnavailable))
	assert.Equal(t, 1, *calls)
}
