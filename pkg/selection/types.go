package selection

import (
	"context"
	"errors"
	"fmt"

	"github.com/coopmesh-project/coopmesh/pkg/lib/math"
	"github.com/coopmesh-project/coopmesh/pkg/lib/validate"
	"github.com/coopmesh-project/coopmesh/pkg/trust"
)

// weightTolerance bounds the float drift allowed when checking that weights
// sum to one.
const weightTolerance = 1e-9

// Weights are the scoring weights for the three bid dimensions. They must be
// non-negative and sum to one.
type Weights struct {
	Cost       float64 `json:"Cost"`
	Reputation float64 `json:"Reputation"`
	Latency    float64 `json:"Latency"`
}

func (w Weights) Validate() error {
	err := errors.Join(
		validate.IsGreaterOrEqualToZero(w.Cost, "cost weight cannot be negative"),
		validate.IsGreaterOrEqualToZero(w.Reputation, "reputation weight cannot be negative"),
		validate.IsGreaterOrEqualToZero(w.Latency, "latency weight cannot be negative"),
	)
	if sum := w.Cost + w.Reputation + w.Latency; math.Abs(sum-1) > weightTolerance {
		err = errors.Join(err, fmt.Errorf("selection weights must sum to 1, got %f", sum))
	}
	return err
}

// Authorizer is the slice of the trust policy gate used to re-validate the
// winning bidder before assignment.
type Authorizer interface {
	Authorize(ctx context.Context, identity string, scopeID string, action trust.Action) trust.Decision
}

// HoldChecker is the slice of the mana ledger used to re-check that the
// submitter's commitment is still open.
type HoldChecker interface {
	HoldActive(jobID string) bool
}

// ErrNoEligibleBid is returned when the candidate set is empty or every
// candidate was excluded during re-validation.
type ErrNoEligibleBid struct {
	JobID    string
	Excluded int
}

func (e ErrNoEligibleBid) Error() string {
	if e.Excluded > 0 {
		return fmt.Sprintf("no eligible bid for job %s: %d candidate(s) excluded on re-validation", e.JobID, e.Excluded)
	}
	return fmt.Sprintf("no eligible bid for job %s", e.JobID)
}

// ErrHoldReleased is returned when the submitter's mana commitment is no
// longer open at selection time, so no executor can be paid.
type ErrHoldReleased struct {
	JobID string
}

func (e ErrHoldReleased) Error() string {
	return fmt.Sprintf("mana commitment for job %s is no longer held", e.JobID)
}
