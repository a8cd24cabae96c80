package jobstore

import (
	"fmt"

	"github.com/coopmesh-project/coopmesh/pkg/models"
)

// ErrJobNotFound is returned when the job is not found
type ErrJobNotFound struct {
	JobID string
}

func NewErrJobNotFound(id string) ErrJobNotFound {
	return ErrJobNotFound{JobID: id}
}

func (e ErrJobNotFound) Error() string {
	return "job not found: " + e.JobID
}

// ErrJobAlreadyExists is returned when a job already exists
type ErrJobAlreadyExists struct {
	JobID string
}

func NewErrJobAlreadyExists(id string) ErrJobAlreadyExists {
	return ErrJobAlreadyExists{JobID: id}
}

func (e ErrJobAlreadyExists) Error() string {
	return "job already exists: " + e.JobID
}

// ErrInvalidJobState is returned when a job is in an unexpected state.
type ErrInvalidJobState struct {
	JobID    string
	Actual   models.JobStateType
	Expected models.JobStateType
}

func NewErrInvalidJobState(id string, actual models.JobStateType, expected models.JobStateType) ErrInvalidJobState {
	return ErrInvalidJobState{JobID: id, Actual: actual, Expected: expected}
}

func (e ErrInvalidJobState) Error() string {
	if e.Expected.IsUndefined() {
		return "job " + e.JobID + " is in unexpected state " + e.Actual.String()
	}
	return "job " + e.JobID + " is in state " + e.Actual.String() + " but expected " + e.Expected.String()
}

// ErrInvalidJobVersion is returned when a job has an invalid version.
type ErrInvalidJobVersion struct {
	JobID    string
	Actual   uint64
	Expected uint64
}

func NewErrInvalidJobVersion(id string, actual uint64, expected uint64) ErrInvalidJobVersion {
	return ErrInvalidJobVersion{JobID: id, Actual: actual, Expected: expected}
}

func (e ErrInvalidJobVersion) Error() string {
	return fmt.Sprintf("job %s has version %d but expected %d", e.JobID, e.Actual, e.Expected)
}

// ErrJobAlreadyTerminal is returned when a job is already in a terminal state
// and cannot be updated.
type ErrJobAlreadyTerminal struct {
	JobID    string
	Actual   models.JobStateType
	NewState models.JobStateType
}

func NewErrJobAlreadyTerminal(id string, actual models.JobStateType, newState models.JobStateType) ErrJobAlreadyTerminal {
	return ErrJobAlreadyTerminal{JobID: id, Actual: actual, NewState: newState}
}

func (e ErrJobAlreadyTerminal) Error() string {
	return fmt.Sprintf("job %s is in terminal state %s and cannot transition to %s",
		e.JobID, e.Actual.String(), e.NewState.String())
}

// ErrInvalidTransition is returned when a requested transition is not
// permitted by the lifecycle state machine.
type ErrInvalidTransition struct {
	JobID string
	From  models.JobStateType
	To    models.JobStateType
}

func NewErrInvalidTransition(id string, from models.JobStateType, to models.JobStateType) ErrInvalidTransition {
	return ErrInvalidTransition{JobID: id, From: from, To: to}
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("job %s cannot transition from %s to %s", e.JobID, e.From.String(), e.To.String())
}
