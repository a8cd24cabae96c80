//go:build unit || !integration

package trust

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/coopmesh-project/coopmesh/pkg/logger"
	"github.com/coopmesh-project/coopmesh/pkg/reputation"
)

type GateSuite struct {
	suite.Suite
	reputation *reputation.InMemoryStore
	gate       *Gate
}

func (s *GateSuite) SetupTest() {
	logger.ConfigureTestLogging(s.T())
	s.reputation = reputation.NewInMemoryStore(reputation.WithInitialScore(50))
	s.gate = NewGate(GateParams{
		Reputation: s.reputation,
		BaselineTrustLevel: map[Action]float64{
			ActionSubmit: 10,
			ActionBid:    10,
			ActionAnchor: 10,
		},
	})
	s.gate.SetSnapshot(&Snapshot{
		Scopes: map[string]*Scope{
			"coop-housing": {
				ID:      "coop-housing",
				Members: map[string]struct{}{"alice": {}, "bob": {}},
				MinTrustLevel: map[Action]float64{
					ActionSubmit: 40,
					ActionBid:    40,
				},
				CrossScope: map[Action]bool{ActionAnchor: true},
			},
		},
	})
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) TestMemberAllowed() {
	decision := s.gate.Authorize(context.Background(), "alice", "coop-housing", ActionBid)
	s.True(decision.Allowed)
}

func (s *GateSuite) TestNonMemberDenied() {
	decision := s.gate.Authorize(context.Background(), "mallory", "coop-housing", ActionBid)
	s.False(decision.Allowed)
	s.Equal(DenialNotAMember, decision.Reason)
}

func (s *GateSuite) TestCrossScopeGrant() {
	decision := s.gate.Authorize(context.Background(), "mallory", "coop-housing", ActionAnchor)
	s.True(decision.Allowed)
}

func (s *GateSuite) TestUnknownScopeDenied() {
	decision := s.gate.Authorize(context.Background(), "alice", "coop-fishing", ActionBid)
	s.False(decision.Allowed)
	s.Equal(DenialNotAMember, decision.Reason)
}

func (s *GateSuite) TestInsufficientTrust() {
	s.reputation.SetScore("bob", "coop-housing", 30)
	decision := s.gate.Authorize(context.Background(), "bob", "coop-housing", ActionSubmit)
	s.False(decision.Allowed)
	s.Equal(DenialInsufficientTrust, decision.Reason)
}

func (s *GateSuite) TestUnscopedRequiresBaseline() {
	decision := s.gate.Authorize(context.Background(), "carol", "", ActionSubmit)
	s.True(decision.Allowed)

	s.reputation.SetScore("carol", "", 5)
	decision = s.gate.Authorize(context.Background(), "carol", "", ActionSubmit)
	s.False(decision.Allowed)
	s.Equal(DenialInsufficientTrust, decision.Reason)
}

func (s *GateSuite) TestSnapshotSwapVisible() {
	decision := s.gate.Authorize(context.Background(), "mallory", "coop-housing", ActionBid)
	s.False(decision.Allowed)

	s.gate.SetSnapshot(&Snapshot{
		Scopes: map[string]*Scope{
			"coop-housing": {
				ID:      "coop-housing",
				Members: map[string]struct{}{"mallory": {}},
			},
		},
	})
	decision = s.gate.Authorize(context.Background(), "mallory", "coop-housing", ActionBid)
	s.True(decision.Allowed)
}
