package backoff

import (
	"context"
	"time"
)

// Backoff is a strategy for delaying retries of a failing operation.
type Backoff interface {
	// Backoff blocks for a duration based on the number of attempts, or until
	// the context is cancelled, whichever comes first.
	Backoff(ctx context.Context, attempts int)

	// BackoffDuration returns the duration that Backoff would block for.
	BackoffDuration(attempts int) time.Duration
}
