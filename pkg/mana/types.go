package mana

import (
	"fmt"
	"time"
)

// Ledger is the per-identity mana balance with regeneration. Mana is
// non-transferable: it is debited to admit work requests, credited back on
// refunds or regeneration ticks, and credited to executors at settlement.
type Ledger interface {
	// Debit removes amount from the identity's balance. All-or-nothing: it
	// fails atomically with ErrInsufficientBalance if the balance is lower
	// than amount, leaving the balance unchanged.
	Debit(identity string, amount uint64) error

	// Credit adds amount to the identity's balance, capped at capacity.
	Credit(identity string, amount uint64) error

	// Balance returns the identity's current balance.
	Balance(identity string) uint64

	// Regenerate applies elapsed-time-proportional credit up to capacity for
	// every known account. Idempotent under repeated calls with monotonically
	// increasing now: no interval is ever credited twice.
	Regenerate(now time.Time)

	// Hold debits amount from the identity and records an open commitment
	// keyed by job ID, to be released or settled exactly once.
	Hold(jobID string, identity string, amount uint64) error

	// Release refunds the full held amount back to the holder. Idempotent:
	// releasing an unknown or already closed hold is a no-op.
	Release(jobID string) error

	// Settle closes the hold by crediting price to the executor and
	// refunding the remainder to the holder. Idempotent like Release.
	Settle(jobID string, executor string, price uint64) error

	// HoldActive returns true while the job's commitment is still open.
	HoldActive(jobID string) bool
}

// ErrInsufficientBalance is returned when a debit exceeds the available
// balance. The ledger never retries; the caller decides how to proceed.
type ErrInsufficientBalance struct {
	Identity string
	Amount   uint64
	Balance  uint64
}

func NewErrInsufficientBalance(identity string, amount, balance uint64) ErrInsufficientBalance {
	return ErrInsufficientBalance{Identity: identity, Amount: amount, Balance: balance}
}

func (e ErrInsufficientBalance) Error() string {
	return fmt.Sprintf("insufficient mana balance for %q: requested %d, available %d",
		e.Identity, e.Amount, e.Balance)
}

// ErrOverSettlement is returned when a settlement price exceeds the held
// commitment.
type ErrOverSettlement struct {
	JobID string
	Held  uint64
	Price uint64
}

func (e ErrOverSettlement) Error() string {
	return fmt.Sprintf("settlement price %d exceeds held commitment %d for job %s",
		e.Price, e.Held, e.JobID)
}

// EventKind labels a single ledger mutation in the append-only event log.
type EventKind string

const (
	EventDebit      EventKind = "debit"
	EventCredit     EventKind = "credit"
	EventRegenerate EventKind = "regenerate"
	EventHold       EventKind = "hold"
	EventRelease    EventKind = "release"
	EventSettle     EventKind = "settle"
)

// Event records one balance mutation. Replaying all events in order rebuilds
// every account balance.
type Event struct {
	Kind      EventKind `json:"Kind"`
	Identity  string    `json:"Identity"`
	JobID     string    `json:"JobID,omitempty"`
	Amount    uint64    `json:"Amount"`
	EventTime time.Time `json:"EventTime"`
}
