package delivery

import (
	"context"
	"math"
	"time"
)

// Backoff computes exponential waits: Initial * Multiplier^(n-1), capped at Max.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Interval returns the wait before retry n, where n=1 is the wait after the
// first failed attempt. A zero Max leaves the interval uncapped.
func (b Backoff) Interval(n int) time.Duration {
	if n < 1 || b.Initial <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial) * math.Pow(mult, float64(n-1))
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// WaitFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type WaitFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the default WaitFunc.
func SleepContext(ctx context.Context, d time.Duration) error {
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
