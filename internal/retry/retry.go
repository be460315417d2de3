// Package retry implements the outbound-call retry discipline shared by all
// external API callers: a bounded number of attempts with exponential
// backoff from a base delay.
package retry

import (
	"context"
	"time"
)

// Delay is the pure backoff schedule: base doubled per completed attempt.
// Delay(base, 0) == base, Delay(base, 1) == 2*base, and so on. Negative
// attempts are treated as zero.
func Delay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// SleepFunc abstracts the inter-attempt wait so tests run without real
// timers. It must honour context cancellation.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Do executes fn, retrying up to maxRetries additional times while
// retriable(err) holds. Backoff between attempts follows Delay. The last
// error is returned when the budget is exhausted.
func Do(ctx context.Context, maxRetries int, base time.Duration, sleep SleepFunc, retriable func(error) bool, fn func() error) error {
	if sleep == nil {
		sleep = Sleep
	}
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil || !retriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		if serr := sleep(ctx, Delay(base, attempt)); serr != nil {
			return serr
		}
	}
	return err
}
