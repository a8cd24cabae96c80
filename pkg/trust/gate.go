package trust

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/coopmesh-project/coopmesh/pkg/reputation"
)

type GateParams struct {
	// Reputation supplies the trust level consulted against the per-action
	// minimums.
	Reputation reputation.Store

	// BaselineTrustLevel is the minimum trust level required per action for
	// unscoped jobs, preventing unauthenticated spam. Actions absent from
	// the map require no minimum.
	BaselineTrustLevel map[Action]float64
}

// Gate evaluates whether an identity may perform a scoped action given the
// current membership snapshot. Evaluation is a pure function of its inputs
// and the snapshot current at call time: no side effects, safe to call
// concurrently and repeatedly.
type Gate struct {
	reputation reputation.Store
	baseline   map[Action]float64
	snapshot   atomic.Pointer[Snapshot]
}

func NewGate(params GateParams) *Gate {
	g := &Gate{
		reputation: params.Reputation,
		baseline:   params.BaselineTrustLevel,
	}
	g.snapshot.Store(&Snapshot{})
	return g
}

// SetSnapshot atomically swaps in a new membership snapshot. Called by the
// external governance collaborator on membership changes; never mutates the
// previous snapshot, so in-flight evaluations keep a consistent view.
func (g *Gate) SetSnapshot(snapshot *Snapshot) {
	if snapshot == nil {
		snapshot = &Snapshot{}
	}
	g.snapshot.Store(snapshot)
}

// Authorize decides whether the identity may perform the action within the
// scope. An empty scope ID bypasses membership checks but still requires the
// baseline trust level for the action.
func (g *Gate) Authorize(ctx context.Context, identity string, scopeID string, action Action) Decision {
	snapshot := g.snapshot.Load()

	var minTrust float64
	var hasMinTrust bool

	if scopeID != "" {
		scope := snapshot.Scope(scopeID)
		if scope == nil {
			// an unknown scope has no membership to grant
			return Deny(DenialNotAMember, "scope %q is not known to this federation", scopeID)
		}
		if !scope.IsMember(identity) && !scope.CrossScope[action] {
			return Deny(DenialNotAMember,
				"identity %q is not a member of scope %q and cross-scope %s is not permitted",
				identity, scopeID, action)
		}
		minTrust, hasMinTrust = scope.MinTrustLevel[action]
	}
	if !hasMinTrust {
		minTrust, hasMinTrust = g.baseline[action]
	}
	if !hasMinTrust {
		return Allow()
	}

	trustLevel, err := g.reputation.GetScore(ctx, identity, scopeID)
	if err != nil {
		// fail closed: an unreadable trust level never authorizes an action
		log.Ctx(ctx).Warn().Err(err).Str("Identity", identity).Msg("failed to read trust level")
		return Deny(DenialInsufficientTrust, "trust level for %q could not be read", identity)
	}
	if trustLevel < minTrust {
		return Deny(DenialInsufficientTrust,
			"identity %q has trust level %.2f, below the required %.2f for %s",
			identity, trustLevel, minTrust, action)
	}
	return Allow()
}
