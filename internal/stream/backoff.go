package stream

import (
	"context"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 30 * time.Second
)

// Backoff yields min(base*2^(n-1), max) for the nth consecutive failure.
// It is owned by a single connection loop and is not safe for concurrent use.
type Backoff struct {
	base     time.Duration
	max      time.Duration
	failures int
}

func NewBackoff(base, max time.Duration) *Backoff {
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	if max < base {
		max = base
	}
	return &Backoff{base: base, max: max}
}

// Next returns the delay for the current failure and advances the policy.
func (b *Backoff) Next() time.Duration {
	delay := retryablehttp.DefaultBackoff(b.base, b.max, b.failures, nil)
	if delay < b.max {
		b.failures++
	}
	return delay
}

// Reset returns the policy to its base delay after a successful connect.
func (b *Backoff) Reset() {
	b.failures = 0
}

func waitForBackoff(ctx context.Context, delay time.Duration) error {
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
