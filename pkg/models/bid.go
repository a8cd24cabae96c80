package models

import (
	"errors"
	"time"

	"github.com/coopmesh-project/coopmesh/pkg/lib/validate"
)

// Bid is an executor's time-bounded offer to perform a job at a given price
// and latency. Bids are held only while a bidding session is open: the
// winning bid is copied into the job assignment and losing bids are dropped.
type Bid struct {
	// JobID is the job the bid is for.
	JobID string `json:"JobID"`

	// Bidder is the identity offering to execute the job.
	Bidder string `json:"Bidder"`

	// PriceMana is the offered price. Must not exceed the job's max cost.
	PriceMana uint64 `json:"PriceMana"`

	// EstimatedLatency is the bidder's declared time to deliver a result.
	EstimatedLatency time.Duration `json:"EstimatedLatency"`

	// ReceivedAt is when the bid was received by the collector, used for
	// deterministic tie-breaking.
	ReceivedAt time.Time `json:"ReceivedAt"`

	// MembershipProof is an opaque proof of scope membership, verified by
	// the trust policy gate.
	MembershipProof []byte `json:"MembershipProof,omitempty"`
}

// Validate returns an error if the bid is not well formed.
func (b *Bid) Validate() error {
	return errors.Join(
		validate.NotBlank(b.JobID, "bid job ID cannot be blank"),
		validate.NotBlank(b.Bidder, "bidder identity cannot be blank"),
		validate.IsGreaterThanZero(b.PriceMana, "bid price must be positive"),
		validate.IsGreaterOrEqualToZero(b.EstimatedLatency, "bid latency cannot be negative"),
	)
}

// Better reports whether this bid should replace another bid from the same
// bidder for the same job: the lowest price wins, and price ties keep the
// earliest bid.
func (b *Bid) Better(other Bid) bool {
	if b.PriceMana != other.PriceMana {
		return b.PriceMana < other.PriceMana
	}
	return b.ReceivedAt.Before(other.ReceivedAt)
}
