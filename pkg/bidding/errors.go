package bidding

import (
	"errors"
	"fmt"

	"github.com/coopmesh-project/coopmesh/pkg/models"
)

var (
	// ErrNoSession is returned when no bidding session is open for the job.
	ErrNoSession = errors.New("no open bidding session for job")

	// ErrAlreadyOpen is returned when a session is already open for the job.
	ErrAlreadyOpen = errors.New("bidding session already open for job")

	// ErrAlreadyClosed is returned when closing a session twice.
	ErrAlreadyClosed = errors.New("bidding session already closed")
)

// RejectionError is a bid-level rejection. Rejections are logged and dropped,
// never surfaced as a job failure, and each carries the reason code that
// makes the discarded bid attributable for audit.
type RejectionError struct {
	ReasonCode models.ReasonCode
	Details    string
}

func (e RejectionError) Error() string {
	return fmt.Sprintf("bid rejected (%s): %s", e.ReasonCode, e.Details)
}

func NewMalformedBid(err error) RejectionError {
	return RejectionError{
		ReasonCode: models.ReasonMalformedBid,
		Details:    err.Error(),
	}
}

func NewDeadlineExpired(jobID string) RejectionError {
	return RejectionError{
		ReasonCode: models.ReasonDeadlineExpired,
		Details:    fmt.Sprintf("bidding deadline for job %s has passed", jobID),
	}
}

func NewOverBudget(price, maxCost uint64) RejectionError {
	return RejectionError{
		ReasonCode: models.ReasonOverBudget,
		Details:    fmt.Sprintf("bid price %d exceeds job max cost %d", price, maxCost),
	}
}

func NewNotAuthorized(details string) RejectionError {
	return RejectionError{
		ReasonCode: models.ReasonNotAuthorized,
		Details:    details,
	}
}
