package orchestrator

import (
	"fmt"

	"github.com/coopmesh-project/coopmesh/pkg/models"
)

// ErrNotRunning is returned when a request arrives before Start or after
// Stop.
type ErrNotRunning struct{}

func NewErrNotRunning() ErrNotRunning {
	return ErrNotRunning{}
}

func (e ErrNotRunning) Error() string {
	return "lifecycle manager is not running"
}

// ErrSubmissionRejected is returned when a submission is denied before a job
// record is created, by policy or by funding.
type ErrSubmissionRejected struct {
	Reason  models.ReasonCode
	Details string
}

func NewErrSubmissionRejected(reason models.ReasonCode, details string) ErrSubmissionRejected {
	return ErrSubmissionRejected{Reason: reason, Details: details}
}

func (e ErrSubmissionRejected) Error() string {
	return fmt.Sprintf("submission rejected (%s): %s", e.Reason, e.Details)
}

// ErrNotSubmitter is returned when anyone but the submitter attempts to
// cancel a job.
type ErrNotSubmitter struct {
	JobID     string
	Requester string
}

func NewErrNotSubmitter(jobID string, requester string) ErrNotSubmitter {
	return ErrNotSubmitter{JobID: jobID, Requester: requester}
}

func (e ErrNotSubmitter) Error() string {
	return fmt.Sprintf("%s is not the submitter of job %s", e.Requester, e.JobID)
}

// ErrCannotCancel is returned when a job is past the point of cancellation.
type ErrCannotCancel struct {
	JobID string
	State models.JobStateType
}

func NewErrCannotCancel(jobID string, state models.JobStateType) ErrCannotCancel {
	return ErrCannotCancel{JobID: jobID, State: state}
}

func (e ErrCannotCancel) Error() string {
	return fmt.Sprintf("job %s cannot be cancelled in state %s", e.JobID, e.State)
}
