package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gcolon75/valine-orchestrator/internal/retry"
)

func TestDelayDoubles(t *testing.T) {
	base := 3 * time.Second
	assert.Equal(t, 3*time.Second, retry.Delay(base, 0))
	assert.Equal(t, 6*time.Second, retry.Delay(base, 1))
	assert.Equal(t, 12*time.Second, retry.Delay(base, 2))
	assert.Equal(t, base, retry.Delay(base, -1))
}

func TestDoStopsOnSuccess(t *testing.T) {
	calls := 0
	err := retry.Do(context.Background(), 2, time.Second, noSleep(t, nil), always, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoExhaustsBudget(t *testing.T) {
	var slept []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	calls := 0
	wantErr := errors.New("still failing")
	err := retry.Do(context.Background(), 2, time.Second, sleep, always, func() error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls, "one initial attempt plus two retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestDoNonRetriableReturnsImmediately(t *testing.T) {
	calls := 0
	wantErr := errors.New("fatal")
	err := retry.Do(context.Background(), 2, time.Second, noSleep(t, nil), never, func() error {
		calls++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls)
}

func TestDoRespectsContextDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retry.Do(ctx, 2, time.Second, retry.Sleep, always, func() error {
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func always(error) bool { return true }
func never(error) bool  { return false }

func noSleep(t *testing.T, err error) retry.SleepFunc {
	t.Helper()
	return func(context.Context, time.Duration) error { return err }
}
