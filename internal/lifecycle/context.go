// Package lifecycle binds process termination signals to a context.
package lifecycle

import (
	"context"
	"os/signal"
)

// NotifyContext returns a context cancelled on the first termination signal.
func NotifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, TerminationSignals()...)
}
