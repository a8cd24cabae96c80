package models

import (
	"errors"
	"time"

	"github.com/coopmesh-project/coopmesh/pkg/lib/validate"
)

// Job represents a unit of requested work tracked through the lifecycle state
// machine. A Job record only exists after the submitter passed the trust
// policy gate and its mana commitment was debited.
type Job struct {
	// ID is the unique identifier of the job.
	ID string `json:"ID"`

	// Submitter is the identity that requested the work and whose mana is
	// committed for it.
	Submitter string `json:"Submitter"`

	// ManifestRef is an opaque content identifier for the work description,
	// owned by the external storage collaborator.
	ManifestRef string `json:"ManifestRef"`

	// MaxCostMana is the maximum price the submitter is willing to pay. The
	// full amount is held at submission and settled once a receipt arrives.
	MaxCostMana uint64 `json:"MaxCostMana"`

	// Scope is the federation namespace the job is constrained to. Empty
	// means unscoped: membership checks are bypassed but baseline trust
	// still applies.
	Scope string `json:"Scope,omitempty"`

	// State is the current lifecycle state.
	State JobStateType `json:"State"`

	// StateReason attributes the latest transition to a reason code.
	StateReason ReasonCode `json:"StateReason,omitempty"`

	// BidDeadline is when the current bidding session closes.
	BidDeadline time.Time `json:"BidDeadline"`

	// Executor is the identity of the winning bidder, set on assignment.
	Executor string `json:"Executor,omitempty"`

	// AgreedPriceMana is the winning bid price, set on assignment.
	AgreedPriceMana uint64 `json:"AgreedPriceMana,omitempty"`

	// ExcludedExecutors are bidders excluded from later rounds after an
	// unresponsive assignment or a failed execution.
	ExcludedExecutors []string `json:"ExcludedExecutors,omitempty"`

	// RetryCount is the number of times the job re-entered bidding.
	RetryCount int `json:"RetryCount"`

	// RetryLimit bounds RetryCount.
	RetryLimit int `json:"RetryLimit"`

	// ResultRef is the content reference of the execution result, set when
	// a success receipt arrives.
	ResultRef string `json:"ResultRef,omitempty"`

	// AnchorRef is the content address of the anchored receipt.
	AnchorRef string `json:"AnchorRef,omitempty"`

	// Receipt is the verified execution receipt, persisted at completion so
	// anchoring can resume after a transient failure or a restart.
	Receipt *ExecutionReceipt `json:"Receipt,omitempty"`

	// Version is incremented on every update, used for optimistic writes.
	Version uint64 `json:"Version"`

	CreateTime time.Time `json:"CreateTime"`
	ModifyTime time.Time `json:"ModifyTime"`
}

// Validate returns an error if the job is not well formed.
func (j *Job) Validate() error {
	return errors.Join(
		validate.NotBlank(j.ID, "job ID cannot be blank"),
		validate.NotBlank(j.Submitter, "job submitter cannot be blank"),
		validate.NotBlank(j.ManifestRef, "job manifest reference cannot be blank"),
		validate.IsGreaterThanZero(j.MaxCostMana, "job max cost must be positive"),
		validate.IsGreaterOrEqualToZero(j.RetryLimit, "job retry limit cannot be negative"),
	)
}

// IsTerminal returns true if the job reached a state from which it will
// never transition again.
func (j *Job) IsTerminal() bool {
	return j.State.IsTerminal()
}

// RetriesRemaining returns true if the job may re-enter bidding.
func (j *Job) RetriesRemaining() bool {
	return j.RetryCount < j.RetryLimit
}

// IsExcluded returns true if the identity was excluded from bidding on this
// job by an earlier round.
func (j *Job) IsExcluded(identity string) bool {
	for _, excluded := range j.ExcludedExecutors {
		if excluded == identity {
			return true
		}
	}
	return false
}

// Copy returns a deep copy of the job.
func (j *Job) Copy() *Job {
	if j == nil {
		return nil
	}
	nj := new(Job)
	*nj = *j
	nj.ExcludedExecutors = append([]string(nil), j.ExcludedExecutors...)
	nj.Receipt = j.Receipt.Copy()
	return nj
}
