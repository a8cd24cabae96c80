package orchestrator

import (
	"context"

	"github.com/coopmesh-project/coopmesh/pkg/models"
)

// SubmitRequest asks the lifecycle manager to admit a new job.
type SubmitRequest struct {
	// Submitter is the identity requesting the work. Its mana is held for
	// the job's maximum cost until settlement or expiry.
	Submitter string

	// ManifestRef is the content reference of the work description.
	ManifestRef string

	// MaxCostMana is the most the submitter is willing to pay.
	MaxCostMana uint64

	// Scope constrains the job to a federation namespace. Empty means
	// unscoped.
	Scope string
}

type SubmitResponse struct {
	JobID string
}

// RetryRequest carries the context for a retry decision after an assignment
// went unacknowledged or an execution failed.
type RetryRequest struct {
	JobID      string
	RetryCount int
	RetryLimit int
	Reason     models.ReasonCode
}

// RetryStrategy decides whether a job should re-enter bidding.
type RetryStrategy interface {
	ShouldRetry(ctx context.Context, request RetryRequest) bool
}

// RetryStrategyFunc is a helper function that implements RetryStrategy
type RetryStrategyFunc func(ctx context.Context, request RetryRequest) bool

func (f RetryStrategyFunc) ShouldRetry(ctx context.Context, request RetryRequest) bool {
	return f(ctx, request)
}

// Verifier checks an execution receipt's signature against the reporting
// executor's identity before the receipt is accepted.
type Verifier interface {
	Verify(ctx context.Context, receipt models.ExecutionReceipt) error
}
