package models

import (
	"time"
)

// Wire messages exchanged over the peer transport. Delivery is at-least-once
// and unordered: duplicate BidMessages are deduplicated by the bid collector,
// and duplicate ReceiptMessages by the lifecycle manager's idempotent
// terminal transition.

// JobAnnouncement advertises an open job to potential executors.
type JobAnnouncement struct {
	JobID       string    `json:"JobID"`
	Scope       string    `json:"Scope,omitempty"`
	ManifestRef string    `json:"ManifestRef"`
	MaxCostMana uint64    `json:"MaxCostMana"`
	Deadline    time.Time `json:"Deadline"`
}

// BidMessage carries an executor's offer for an announced job.
type BidMessage struct {
	JobID            string        `json:"JobID"`
	Bidder           string        `json:"Bidder"`
	PriceMana        uint64        `json:"PriceMana"`
	EstimatedLatency time.Duration `json:"EstimatedLatency"`
	MembershipProof  []byte        `json:"MembershipProof,omitempty"`
	Signature        []byte        `json:"Signature,omitempty"`
}

// AssignmentNotice informs the winning bidder it was selected.
type AssignmentNotice struct {
	JobID    string `json:"JobID"`
	Executor string `json:"Executor"`
}

// ExecutionStartedMessage acknowledges an assignment and moves the job to
// executing before the acknowledgement window elapses.
type ExecutionStartedMessage struct {
	JobID    string `json:"JobID"`
	Executor string `json:"Executor"`
}

// ReceiptMessage delivers a signed execution receipt for a job.
type ReceiptMessage struct {
	JobID   string           `json:"JobID"`
	Receipt ExecutionReceipt `json:"Receipt"`
}
