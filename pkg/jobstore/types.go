package jobstore

import (
	"context"

	"github.com/coopmesh-project/coopmesh/pkg/models"
)

type JobQuery struct {
	Submitter string `json:"submitter"`
	Scope     string `json:"scope"`
	Limit     uint32 `json:"limit"`
	ReturnAll bool   `json:"return_all"`
}

// A Store persists jobs, their lifecycle transitions and the append-only
// event log that records them.
type Store interface {
	// CreateJob persists a new job. The job must be in the Submitted state.
	CreateJob(ctx context.Context, job models.Job) error

	// GetJob returns a job, identified by the id parameter, or an error if
	// it does not exist.
	GetJob(ctx context.Context, id string) (models.Job, error)

	// GetJobs retrieves the jobs matching the query.
	GetJobs(ctx context.Context, query JobQuery) ([]models.Job, error)

	// GetInProgressJobs retrieves all jobs that have not yet reached a
	// terminal state.
	GetInProgressJobs(ctx context.Context) ([]models.Job, error)

	// UpdateJob transitions a job to a new state, applying any additional
	// field changes atomically, guarded by the request's condition. A
	// successful update bumps the job version, stamps the modification time
	// and appends a transition event to the job's event log.
	UpdateJob(ctx context.Context, request UpdateJobRequest) error

	// AddEvent appends an event to a job's log without changing its state.
	AddEvent(ctx context.Context, event models.JobEvent) error

	// GetEvents returns a job's event log in append order.
	GetEvents(ctx context.Context, jobID string) ([]models.JobEvent, error)

	// Close releases any resources held by the store.
	Close(ctx context.Context) error
}

type UpdateJobRequest struct {
	JobID     string
	Condition UpdateJobCondition
	NewState  models.JobStateType
	Reason    models.ReasonCode
	Details   string
	// Update, when set, mutates the job's non-state fields within the same
	// guarded write as the transition.
	Update func(job *models.Job)
}

type UpdateJobCondition struct {
	ExpectedState    models.JobStateType
	UnexpectedStates []models.JobStateType
	ExpectedVersion  uint64
}

// Validate checks if the condition matches the given job
func (condition UpdateJobCondition) Validate(job models.Job) error {
	if !condition.ExpectedState.IsUndefined() && condition.ExpectedState != job.State {
		return NewErrInvalidJobState(job.ID, job.State, condition.ExpectedState)
	}
	if condition.ExpectedVersion != 0 && condition.ExpectedVersion != job.Version {
		return NewErrInvalidJobVersion(job.ID, job.Version, condition.ExpectedVersion)
	}
	for _, s := range condition.UnexpectedStates {
		if s == job.State {
			return NewErrInvalidJobState(job.ID, job.State, models.JobStateUndefined)
		}
	}
	return nil
}
