package queue

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy is a bounded exponential backoff: attempt n waits
// Base * 2^(n-1), capped at Max. There is no jitter so delays are
// predictable in tests and in the jobs table.
type RetryPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// NewRetryPolicy applies defaults (2s base, 5m cap, 5 attempts) to zero
// values.
func NewRetryPolicy(base, max time.Duration, maxAttempts int) RetryPolicy {
	if base <= 0 {
		base = 2 * time.Second
	}
	if max <= 0 {
		max = 5 * time.Minute
	}
	if max < base {
		max = base
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return RetryPolicy{Base: base, Max: max, MaxAttempts: maxAttempts}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.MaxInterval = p.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Delay returns the wait before the given attempt is retried. attempt is
// 1-based; values below 1 are treated as 1.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	b := p.backOff()
	d := b.NextBackOff()
	for i := 1; i < attempt && d < p.Max; i++ {
		d = b.NextBackOff()
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Schedule lists the delays for every retry the policy allows, i.e. the
// waits after attempts 1 through MaxAttempts-1.
func (p RetryPolicy) Schedule() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	b := p.backOff()
	for i := 1; i < p.MaxAttempts; i++ {
		d := b.NextBackOff()
		if d > p.Max {
			d = p.Max
		}
		out = append(out, d)
	}
	return out
}
