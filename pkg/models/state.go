package models

import (
	"fmt"
)

// JobStateType is the state of a job in its lifecycle. Transitions are
// monotonic: a job never moves backwards except for the explicit retry edge
// from JobStateFailed back to JobStateBidding.
type JobStateType int

const (
	JobStateUndefined JobStateType = iota // must be first

	// Job record created after a successful trust check and mana debit.
	JobStateSubmitted

	// A bidding session is open and collecting bids until the deadline.
	JobStateBidding

	// A winning bid has been selected and the executor notified.
	JobStateAssigned

	// The assigned executor acknowledged and started execution.
	JobStateExecuting

	// The executor reported a successful execution receipt.
	JobStateCompleted

	// The executor reported a failed execution receipt.
	JobStateFailed

	// The execution receipt has been anchored. Terminal.
	JobStateAnchored

	// No eligible bids arrived, or retries were exhausted. Terminal.
	JobStateExpired

	// The submission was denied by policy or funding before a job record
	// was created. Terminal.
	JobStateRejected

	// The submitter cancelled the job before assignment. Terminal.
	JobStateCancelled
)

var jobStateNames = map[JobStateType]string{
	JobStateUndefined: "Undefined",
	JobStateSubmitted: "Submitted",
	JobStateBidding:   "Bidding",
	JobStateAssigned:  "Assigned",
	JobStateExecuting: "Executing",
	JobStateCompleted: "Completed",
	JobStateFailed:    "Failed",
	JobStateAnchored:  "Anchored",
	JobStateExpired:   "Expired",
	JobStateRejected:  "Rejected",
	JobStateCancelled: "Cancelled",
}

// validTransitions encodes the lifecycle state machine. Failed may re-enter
// Bidding up to the job's retry limit, which is enforced by the lifecycle
// manager rather than here.
var validTransitions = map[JobStateType][]JobStateType{
	JobStateSubmitted: {JobStateBidding, JobStateCancelled},
	JobStateBidding:   {JobStateAssigned, JobStateExpired, JobStateCancelled},
	JobStateAssigned:  {JobStateExecuting, JobStateBidding, JobStateExpired},
	JobStateExecuting: {JobStateCompleted, JobStateFailed},
	JobStateCompleted: {JobStateAnchored},
	JobStateFailed:    {JobStateBidding, JobStateExpired, JobStateAnchored},
}

func (s JobStateType) String() string {
	if name, ok := jobStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Undefined(%d)", int(s))
}

// IsUndefined returns true if the job state is undefined
func (s JobStateType) IsUndefined() bool {
	return s == JobStateUndefined
}

// IsTerminal returns true if the given state signals the end of the lifecycle
// of the job and no further change in state can be expected.
func (s JobStateType) IsTerminal() bool {
	switch s {
	case JobStateAnchored, JobStateExpired, JobStateRejected, JobStateCancelled:
		return true
	default:
		return false
	}
}

// IsValidTransition returns true if the transition from one state to another
// is permitted by the lifecycle state machine.
func IsValidTransition(from, to JobStateType) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s JobStateType) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *JobStateType) UnmarshalText(text []byte) error {
	name := string(text)
	for typ, typName := range jobStateNames {
		if typName == name {
			*s = typ
			return nil
		}
	}
	*s = JobStateUndefined
	return nil
}
