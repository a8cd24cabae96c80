package selection

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/coopmesh-project/coopmesh/pkg/lib/math"
	"github.com/coopmesh-project/coopmesh/pkg/models"
	"github.com/coopmesh-project/coopmesh/pkg/reputation"
	"github.com/coopmesh-project/coopmesh/pkg/trust"
)

type SelectorParams struct {
	// Gate re-validates the winner: membership can change between bid
	// submission and selection.
	Gate Authorizer

	// Reputation supplies bidder scores for the reputation dimension.
	Reputation reputation.Store

	// Ledger re-checks the submitter's commitment before assignment.
	Ledger HoldChecker

	// Weights are the scoring weights, summing to one.
	Weights Weights
}

// Selector picks the winning bid by a reproducible multi-factor score:
// price, reputation and declared latency are normalized to [0,1] within the
// candidate set and combined by the configured weights. Lower combined score
// always means more preferred, so the reputation dimension is inverted.
// Selection is deterministic for identical inputs.
type Selector struct {
	gate       Authorizer
	reputation reputation.Store
	ledger     HoldChecker
	weights    Weights
}

func NewSelector(params SelectorParams) (*Selector, error) {
	if err := params.Weights.Validate(); err != nil {
		return nil, err
	}
	return &Selector{
		gate:       params.Gate,
		reputation: params.Reputation,
		ledger:     params.Ledger,
		weights:    params.Weights,
	}, nil
}

type candidate struct {
	bid   models.Bid
	rep   float64
	score float64
}

// Select returns the winning bid, or ErrNoEligibleBid if none survives
// scoring and re-validation.
func (s *Selector) Select(ctx context.Context, job *models.Job, bids []models.Bid) (models.Bid, error) {
	candidates := make([]*candidate, 0, len(bids))
	for _, bid := range bids {
		rep, err := s.reputation.GetScore(ctx, bid.Bidder, job.Scope)
		if err != nil {
			// an unreadable score never blocks selection, it just ranks last
			log.Ctx(ctx).Warn().Err(err).Str("Bidder", bid.Bidder).
				Msg("failed to read bidder reputation, scoring it as zero")
			rep = 0
		}
		candidates = append(candidates, &candidate{bid: bid, rep: rep})
	}

	excluded := 0
	for len(candidates) > 0 {
		s.scoreCandidates(candidates)
		winner := pickBest(candidates)

		// defensive re-check: the submitter's commitment must still be open
		// for the winner to ever be paid
		if !s.ledger.HoldActive(job.ID) {
			return models.Bid{}, ErrHoldReleased{JobID: job.ID}
		}

		// membership could have changed since the bid was accepted
		decision := s.gate.Authorize(ctx, winner.bid.Bidder, job.Scope, trust.ActionBid)
		if !decision.Allowed {
			log.Ctx(ctx).Debug().Str("JobID", job.ID).Str("Bidder", winner.bid.Bidder).
				Str("Details", decision.Details).
				Msg("excluding winning bid that no longer passes the trust gate")
			excluded++
			candidates = lo.Filter(candidates, func(c *candidate, _ int) bool {
				return c != winner
			})
			continue
		}
		return winner.bid, nil
	}
	return models.Bid{}, ErrNoEligibleBid{JobID: job.ID, Excluded: excluded}
}

// scoreCandidates normalizes each dimension to [0,1] relative to the min/max
// across the candidate set and combines them. Price and latency score better
// when lower; reputation scores better when higher and is inverted so the
// lowest combined score is the most preferred.
func (s *Selector) scoreCandidates(candidates []*candidate) {
	prices := lo.Map(candidates, func(c *candidate, _ int) float64 { return float64(c.bid.PriceMana) })
	latencies := lo.Map(candidates, func(c *candidate, _ int) float64 { return float64(c.bid.EstimatedLatency) })
	reps := lo.Map(candidates, func(c *candidate, _ int) float64 { return c.rep })

	minPrice, maxPrice := math.Min(prices...), math.Max(prices...)
	minLatency, maxLatency := math.Min(latencies...), math.Max(latencies...)
	minRep, maxRep := math.Min(reps...), math.Max(reps...)

	for _, c := range candidates {
		c.score = s.weights.Cost*normalize(float64(c.bid.PriceMana), minPrice, maxPrice) +
			s.weights.Reputation*(1-normalize(c.rep, minRep, maxRep)) +
			s.weights.Latency*normalize(float64(c.bid.EstimatedLatency), minLatency, maxLatency)
	}
}

// normalize maps value to [0,1] relative to [min, max]. A degenerate
// dimension where all candidates agree contributes zero.
func normalize(value, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return (value - min) / (max - min)
}

// pickBest returns the candidate with the lowest score, breaking ties by
// higher reputation, then lower price, then earliest bid, then smallest
// bidder identifier, guaranteeing a unique deterministic winner.
func pickBest(candidates []*candidate) *candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if less(c, best) {
			best = c
		}
	}
	return best
}

func less(a, b *candidate) bool {
	if a.score != b.score {
		return a.score < b.score
	}
	if a.rep != b.rep {
		return a.rep > b.rep
	}
	if a.bid.PriceMana != b.bid.PriceMana {
		return a.bid.PriceMana < b.bid.PriceMana
	}
	if !a.bid.ReceivedAt.Equal(b.bid.ReceivedAt) {
		return a.bid.ReceivedAt.Before(b.bid.ReceivedAt)
	}
	return a.bid.Bidder < b.bid.Bidder
}
