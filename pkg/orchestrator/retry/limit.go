package retry

import (
	"context"

	"github.com/coopmesh-project/coopmesh/pkg/orchestrator"
)

// LimitStrategy allows a retry while the job's retry count is below its
// retry limit.
type LimitStrategy struct{}

func NewLimitStrategy() *LimitStrategy {
	return &LimitStrategy{}
}

func (s *LimitStrategy) ShouldRetry(ctx context.Context, request orchestrator.RetryRequest) bool {
	return request.RetryCount < request.RetryLimit
}

// compile-time interface checks
var _ orchestrator.RetryStrategy = (*LimitStrategy)(nil)
