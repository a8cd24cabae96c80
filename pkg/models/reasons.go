package models

// ReasonCode attributes a discarded bid, a retried transition or a terminal
// job outcome to a specific cause for audit purposes. No error is silently
// swallowed: every internal decision is surfaced through one of these codes.
type ReasonCode string

const (
	// ReasonRejected is a policy or funding denial at submission time.
	ReasonRejected ReasonCode = "Rejected"

	// ReasonMalformedBid marks a bid dropped because it failed structural
	// validation before any policy check.
	ReasonMalformedBid ReasonCode = "MalformedBid"

	// ReasonDeadlineExpired marks a bid that arrived after the bidding deadline.
	ReasonDeadlineExpired ReasonCode = "DeadlineExpired"

	// ReasonOverBudget marks a bid whose price exceeds the job's max cost.
	ReasonOverBudget ReasonCode = "OverBudget"

	// ReasonNotAuthorized marks a bid whose bidder failed the trust policy gate.
	ReasonNotAuthorized ReasonCode = "NotAuthorized"

	// ReasonNoEligibleBid marks a bidding round that produced no usable bid.
	ReasonNoEligibleBid ReasonCode = "NoEligibleBid"

	// ReasonExecutionFailure marks an execution reported as failed by the executor.
	ReasonExecutionFailure ReasonCode = "ExecutionFailure"

	// ReasonAnchorFailure marks a transient failure to anchor a receipt.
	ReasonAnchorFailure ReasonCode = "AnchorFailure"

	// ReasonRetriesExhausted marks a job that failed and has no retries left.
	ReasonRetriesExhausted ReasonCode = "RetriesExhausted"

	// ReasonAckTimeout marks an assigned executor that never started executing.
	ReasonAckTimeout ReasonCode = "AckTimeout"

	// ReasonCancelled marks a job cancelled by its submitter.
	ReasonCancelled ReasonCode = "CancelledBySubmitter"
)
