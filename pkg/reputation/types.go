package reputation

import (
	"context"
)

// Store is the read/write contract of the external reputation collaborator.
// The core only consumes scores for trust checks and selection scoring, and
// applies deltas after execution outcomes. The scoring model itself lives
// outside this repository.
type Store interface {
	// GetScore returns the identity's score within the given context
	// (typically a federation scope, or empty for the global context).
	GetScore(ctx context.Context, identity string, scoreContext string) (float64, error)

	// ApplyEvent adjusts the identity's score by delta within the given
	// context.
	ApplyEvent(ctx context.Context, identity string, scoreContext string, delta float64) error
}
