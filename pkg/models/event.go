package models

import (
	"fmt"
	"time"
)

// JobEvent is an append-only record of a single job state transition.
// Replaying a job's events in order rebuilds its state, and every discarded
// bid or retried transition remains attributable to a reason code.
type JobEvent struct {
	JobID     string       `json:"JobID"`
	From      JobStateType `json:"From"`
	To        JobStateType `json:"To"`
	Reason    ReasonCode   `json:"Reason,omitempty"`
	Details   string       `json:"Details,omitempty"`
	EventTime time.Time    `json:"EventTime"`
}

func (e JobEvent) String() string {
	return fmt.Sprintf("<JobEvent %s: %s -> %s (%s)>", e.JobID, e.From, e.To, e.Reason)
}
