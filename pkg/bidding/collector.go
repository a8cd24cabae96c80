package bidding

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"

	"github.com/coopmesh-project/coopmesh/pkg/models"
	"github.com/coopmesh-project/coopmesh/pkg/trust"
)

// Authorizer is the slice of the trust policy gate the collector needs to
// screen bidders.
type Authorizer interface {
	Authorize(ctx context.Context, identity string, scopeID string, action trust.Action) trust.Decision
}

type CollectorParams struct {
	// Gate screens every bidder for the bid action on the job's scope.
	Gate Authorizer

	// Quorum is the number of distinct bidders that allows a session to be
	// closed before its deadline. Zero disables early close.
	Quorum int

	// Clock stamps received bids and checks deadlines.
	Clock clock.Clock
}

// Collector gathers bids for open jobs within their bidding deadline. One
// session is open per job at a time; acceptance is independent per bid, and
// only the best bid per bidder is retained so at-least-once message delivery
// never double-counts a bidder.
type Collector struct {
	gate   Authorizer
	quorum int
	clock  clock.Clock

	sessions map[string]*Session
	mu       sync.RWMutex
}

func NewCollector(params CollectorParams) *Collector {
	c := &Collector{
		gate:     params.Gate,
		quorum:   params.Quorum,
		clock:    params.Clock,
		sessions: make(map[string]*Session),
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	return c
}

// Session collects bids for a single job until it is closed.
type Session struct {
	jobID    string
	scope    string
	maxCost  uint64
	deadline time.Time
	excluded map[string]struct{}

	accepted map[string]models.Bid
	quorum   int
	quorumCh chan struct{}
	signaled bool
	closed   bool
	mu       sync.Mutex
}

// QuorumReached is closed when the configured quorum of distinct bidders has
// been met, allowing the caller to close the session before its deadline.
func (s *Session) QuorumReached() <-chan struct{} {
	return s.quorumCh
}

// Open starts a bidding session for the job. The job's deadline, scope, max
// cost and excluded executors are captured at open time; a job has at most
// one open session.
func (c *Collector) Open(job *models.Job) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.sessions[job.ID]; ok {
		return nil, ErrAlreadyOpen
	}

	excluded := make(map[string]struct{}, len(job.ExcludedExecutors))
	for _, identity := range job.ExcludedExecutors {
		excluded[identity] = struct{}{}
	}

	session := &Session{
		jobID:    job.ID,
		scope:    job.Scope,
		maxCost:  job.MaxCostMana,
		deadline: job.BidDeadline,
		excluded: excluded,
		accepted: make(map[string]models.Bid),
		quorum:   c.quorum,
		quorumCh: make(chan struct{}),
	}
	c.sessions[job.ID] = session
	return session, nil
}

// Submit offers a bid into the job's open session. Rejections are typed with
// a reason code; acceptance of one bid is independent of any other.
func (c *Collector) Submit(ctx context.Context, bid models.Bid) error {
	// bids arrive off the wire; nothing upstream has validated them
	if err := bid.Validate(); err != nil {
		return NewMalformedBid(err)
	}

	c.mu.RLock()
	session, ok := c.sessions[bid.JobID]
	c.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if bid.ReceivedAt.IsZero() {
		bid.ReceivedAt = c.clock.Now()
	}

	// the gate is consulted outside the session lock: evaluation is pure
	// and safe to run concurrently
	decision := c.gate.Authorize(ctx, bid.Bidder, session.scope, trust.ActionBid)

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closed {
		return ErrNoSession
	}
	if c.clock.Now().After(session.deadline) {
		return NewDeadlineExpired(bid.JobID)
	}
	if bid.PriceMana > session.maxCost {
		return NewOverBudget(bid.PriceMana, session.maxCost)
	}
	if _, isExcluded := session.excluded[bid.Bidder]; isExcluded {
		return NewNotAuthorized("bidder was excluded from this job by an earlier round")
	}
	if !decision.Allowed {
		return NewNotAuthorized(decision.Details)
	}

	if existing, ok := session.accepted[bid.Bidder]; ok && !bid.Better(existing) {
		// lowest price wins per bidder, price ties keep the earliest bid
		log.Ctx(ctx).Trace().Str("JobID", bid.JobID).Str("Bidder", bid.Bidder).
			Msg("dropping duplicate bid that does not improve on the retained one")
		return nil
	}
	session.accepted[bid.Bidder] = bid

	if session.quorum > 0 && len(session.accepted) >= session.quorum && !session.signaled {
		session.signaled = true
		close(session.quorumCh)
	}
	return nil
}

// Close ends the job's session and returns the accepted bids ordered by
// price, then receive time, then bidder identity. Called exactly once per
// session, either at the deadline or at quorum, whichever occurs first.
func (c *Collector) Close(jobID string) ([]models.Bid, error) {
	c.mu.Lock()
	session, ok := c.sessions[jobID]
	delete(c.sessions, jobID)
	c.mu.Unlock()
	if !ok {
		return nil, ErrNoSession
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closed {
		return nil, ErrAlreadyClosed
	}
	session.closed = true

	bids := maps.Values(session.accepted)
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].PriceMana != bids[j].PriceMana {
			return bids[i].PriceMana < bids[j].PriceMana
		}
		if !bids[i].ReceivedAt.Equal(bids[j].ReceivedAt) {
			return bids[i].ReceivedAt.Before(bids[j].ReceivedAt)
		}
		return bids[i].Bidder < bids[j].Bidder
	})
	return bids, nil
}
