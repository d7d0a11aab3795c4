package signals

import (
	"context"
	"os/signal"
)

// NotifyContext returns a copy of parent that is cancelled on the first
// shutdown signal. Call stop to release the signal handler.
func NotifyContext(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, ShutdownSignals()...)
}
