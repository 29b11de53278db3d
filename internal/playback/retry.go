package playback

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultRetryAttempts    = 3
	defaultRetryBaseBackoff = 120 * time.Millisecond
	defaultRetryMaxBackoff  = 800 * time.Millisecond
)

type retryPolicy struct {
	attempts    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger
}

// do runs call until it succeeds, fails with a non-transient error, or the
// attempts are used up.
func (p retryPolicy) do(ctx context.Context, operation string, call func() error) error {
	attempts := p.attempts
	if attempts <= 0 {
		attempts = 1
	}
	base := p.baseBackoff
	if base < 0 {
		base = 0
	}
	max := p.maxBackoff
	if max < base {
		max = base
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= attempts || !isTransientNetworkError(err) {
			break
		}

		delay := retryablehttp.DefaultBackoff(base, max, attempt-1, nil)
		p.logger.Warn(
			"playback_retry",
			slog.String("operation", operation),
			slog.Int("attempt", attempt+1),
			slog.Int("attempts", attempts),
			slog.Int64("backoff_ms", delay.Milliseconds()),
			slog.String("error", err.Error()),
		)
		if waitErr := waitForBackoff(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
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

var transientPatterns = []string{
	"timeout",
	"temporar",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"network is unreachable",
	"no route to host",
}

func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
