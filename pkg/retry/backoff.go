package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"klarnaparser/pkg/config"
)

// BackoffStrategy yields the pause after a failed attempt (1-based)
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the pause by Factor per attempt up to Max, then
// spreads it by ±Jitter (a fraction of the pause).
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultExponentialBackoff matches the retry section defaults
func DefaultExponentialBackoff() *ExponentialBackoff {
	return backoffFrom(config.RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
	})
}

func backoffFrom(rc config.RetryConfig) *ExponentialBackoff {
	return &ExponentialBackoff{
		Initial: rc.InitialBackoff,
		Max:     rc.MaxBackoff,
		Factor:  rc.Multiplier,
		Jitter:  0.1,
	}
}

func (b *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 || b.Initial <= 0 {
		return 0
	}

	factor := max(b.Factor, 1)
	pause := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		pause *= factor
		if b.Max > 0 && pause >= float64(b.Max) {
			break
		}
	}
	if b.Max > 0 {
		pause = min(pause, float64(b.Max))
	}

	if b.Jitter > 0 {
		pause *= 1 + b.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(max(pause, 0))
}

// ConstantBackoff pauses for Delay between every attempt
type ConstantBackoff struct {
	Delay time.Duration
}

func (c *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return c.Delay
}

// Wait sleeps for delay or until ctx is done, whichever comes first
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poll calls op every interval until it returns true, an error, or the
// timeout elapses. A zero timeout calls op exactly once.
func Poll(ctx context.Context, interval, timeout time.Duration, op func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := op()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if timeout <= 0 || time.Now().Add(interval).After(deadline) {
			return context.DeadlineExceeded
		}
		if err := Wait(ctx, interval); err != nil {
			return err
		}
	}
}
