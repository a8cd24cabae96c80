package trust

import (
	"fmt"
)

// Action is a scoped, state-changing action kind gated by trust policy.
type Action string

const (
	ActionSubmit Action = "submit"
	ActionBid    Action = "bid"
	ActionAnchor Action = "anchor"
)

// DenialReason attributes a policy denial to a specific cause.
type DenialReason string

const (
	// DenialNotAMember means the identity is not a member of the scope and
	// no cross-scope permission was granted for the action.
	DenialNotAMember DenialReason = "NotAMember"

	// DenialInsufficientTrust means the identity's trust level is below the
	// minimum required for the action.
	DenialInsufficientTrust DenialReason = "InsufficientTrust"
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  DenialReason
	Details string
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with the given reason.
func Deny(reason DenialReason, format string, args ...any) Decision {
	return Decision{
		Allowed: false,
		Reason:  reason,
		Details: fmt.Sprintf(format, args...),
	}
}

// Scope is a federation namespace with its membership set and per-action
// trust requirements. Scopes are read-only snapshots to this core: updates
// originate from the external governance collaborator and are swapped in
// atomically between evaluations.
type Scope struct {
	// ID is the scope's namespace identifier.
	ID string

	// Members is the set of member identities.
	Members map[string]struct{}

	// MinTrustLevel is the minimum trust level required per action kind.
	// Actions absent from the map require no minimum beyond membership.
	MinTrustLevel map[Action]float64

	// CrossScope grants non-members permission for the listed action kinds.
	CrossScope map[Action]bool
}

// IsMember returns true if the identity is a member of the scope.
func (s *Scope) IsMember(identity string) bool {
	_, ok := s.Members[identity]
	return ok
}

// Snapshot is an immutable view of all scopes current at some point in time.
// In-flight evaluations always see a consistent, possibly stale, snapshot.
type Snapshot struct {
	Scopes map[string]*Scope
}

// Scope returns the scope with the given ID, or nil if unknown.
func (s *Snapshot) Scope(id string) *Scope {
	if s == nil {
		return nil
	}
	return s.Scopes[id]
}
