package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/coopmesh-project/coopmesh/pkg/lib/validate"
)

// ReceiptOutcome is the reported outcome of an execution.
type ReceiptOutcome string

const (
	ReceiptOutcomeSuccess ReceiptOutcome = "Success"
	ReceiptOutcomeFailure ReceiptOutcome = "Failure"
)

// UsageMetrics captures the resources consumed by an execution, reported by
// the executor as part of its receipt.
type UsageMetrics struct {
	CPUUnits    uint64        `json:"CPUUnits,omitempty"`
	MemoryBytes uint64        `json:"MemoryBytes,omitempty"`
	WallTime    time.Duration `json:"WallTime,omitempty"`
}

// ExecutionReceipt is a signed proof that a job ran and its outcome. The
// receipt body is immutable once signed; the anchor reference is the only
// field set afterwards, once the receipt is written to the anchor store.
type ExecutionReceipt struct {
	// JobID is the job the receipt is for. The receipt holds the job
	// identifier rather than a live reference to avoid a reference cycle
	// between job, receipt and anchor.
	JobID string `json:"JobID"`

	// Executor is the identity that ran the job.
	Executor string `json:"Executor"`

	// Outcome is success or failure.
	Outcome ReceiptOutcome `json:"Outcome"`

	// FailureReason attributes a failed outcome to a cause.
	FailureReason string `json:"FailureReason,omitempty"`

	// ResultRef is the content reference of the result on success.
	ResultRef string `json:"ResultRef,omitempty"`

	// Usage reports the resources consumed.
	Usage UsageMetrics `json:"Usage,omitempty"`

	// Signature is the executor's signature over the receipt body.
	Signature []byte `json:"Signature,omitempty"`

	// AnchorRef is the content address of the receipt in the anchor store,
	// set after anchoring. Excluded from the signed body.
	AnchorRef string `json:"AnchorRef,omitempty"`
}

// Validate returns an error if the receipt is not well formed.
func (r *ExecutionReceipt) Validate() error {
	err := errors.Join(
		validate.NotBlank(r.JobID, "receipt job ID cannot be blank"),
		validate.NotBlank(r.Executor, "receipt executor cannot be blank"),
	)
	if r.Outcome != ReceiptOutcomeSuccess && r.Outcome != ReceiptOutcomeFailure {
		err = errors.Join(err, errors.New("receipt outcome must be success or failure"))
	}
	return err
}

// Copy returns a deep copy of the receipt.
func (r *ExecutionReceipt) Copy() *ExecutionReceipt {
	if r == nil {
		return nil
	}
	nr := new(ExecutionReceipt)
	*nr = *r
	nr.Signature = append([]byte(nil), r.Signature...)
	return nr
}

// Succeeded returns true for a success outcome.
func (r *ExecutionReceipt) Succeeded() bool {
	return r.Outcome == ReceiptOutcomeSuccess
}

// Body returns the canonical bytes of the receipt body: the signed and
// anchored content. Signature and anchor reference are excluded so that
// re-anchoring the same receipt yields the same content address.
func (r *ExecutionReceipt) Body() ([]byte, error) {
	body := *r
	body.Signature = nil
	body.AnchorRef = ""
	return json.Marshal(body)
}
