//go:build unit || !integration

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/suite"

	"github.com/coopmesh-project/coopmesh/pkg/anchor"
	"github.com/coopmesh-project/coopmesh/pkg/bidding"
	"github.com/coopmesh-project/coopmesh/pkg/jobstore"
	"github.com/coopmesh-project/coopmesh/pkg/jobstore/inmemory"
	"github.com/coopmesh-project/coopmesh/pkg/logger"
	"github.com/coopmesh-project/coopmesh/pkg/mana"
	"github.com/coopmesh-project/coopmesh/pkg/models"
	"github.com/coopmesh-project/coopmesh/pkg/reputation"
	"github.com/coopmesh-project/coopmesh/pkg/selection"
	"github.com/coopmesh-project/coopmesh/pkg/transport"
	"github.com/coopmesh-project/coopmesh/pkg/trust"
)

const (
	testScope      = "coop-housing"
	testBidWindow  = 30 * time.Second
	testAckTimeout = 15 * time.Second
)

type publishedMessages[T any] struct {
	mu       sync.Mutex
	messages []T
}

func (p *publishedMessages[T]) publisher() transport.PublisherFunc[T] {
	return func(_ context.Context, message T) error {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.messages = append(p.messages, message)
		return nil
	}
}

func (p *publishedMessages[T]) all() []T {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]T, len(p.messages))
	copy(out, p.messages)
	return out
}

type ManagerSuite struct {
	suite.Suite
	clock         *clock.Mock
	store         *inmemory.InMemoryJobStore
	ledger        *mana.InMemoryLedger
	gate          *trust.Gate
	reputation    *reputation.InMemoryStore
	anchorWriter  *anchor.InMemoryWriter
	announcements *publishedMessages[models.JobAnnouncement]
	assignments   *publishedMessages[models.AssignmentNotice]
	manager       *Manager
	ctx           context.Context
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	logger.ConfigureTestLogging(s.T())
	s.clock = clock.NewMock()
	s.store = inmemory.NewInMemoryJobStore(inmemory.WithClock(s.clock))
	s.ledger = mana.NewInMemoryLedger(mana.InMemoryLedgerParams{
		InitialBalance: 100,
		Capacity:       1000,
	}, mana.WithClock(s.clock))
	s.reputation = reputation.NewInMemoryStore(reputation.WithInitialScore(50))
	s.gate = trust.NewGate(trust.GateParams{Reputation: s.reputation})
	s.gate.SetSnapshot(&trust.Snapshot{
		Scopes: map[string]*trust.Scope{
			testScope: {
				ID: testScope,
				Members: map[string]struct{}{
					"alice":  {},
					"node-a": {},
					"node-b": {},
					"node-c": {},
				},
			},
		},
	})
	s.anchorWriter = anchor.NewInMemoryWriter()
	s.announcements = &publishedMessages[models.JobAnnouncement]{}
	s.assignments = &publishedMessages[models.AssignmentNotice]{}
	s.ctx = context.Background()

	s.manager = s.newManager()
	s.Require().NoError(s.manager.Start(s.ctx))
}

// newManager builds a manager wired to the suite's collaborators. Overrides
// adjust the parameters before construction.
func (s *ManagerSuite) newManager(overrides ...func(*ManagerParams)) *Manager {
	selector, err := selection.NewSelector(selection.SelectorParams{
		Gate:       s.gate,
		Reputation: s.reputation,
		Ledger:     s.ledger,
		Weights:    selection.Weights{Cost: 0.5, Reputation: 0.5},
	})
	s.Require().NoError(err)

	params := ManagerParams{
		NodeID:     "requester",
		Store:      s.store,
		Ledger:     s.ledger,
		Gate:       s.gate,
		Reputation: s.reputation,
		Collector: bidding.NewCollector(bidding.CollectorParams{
			Gate:  s.gate,
			Clock: s.clock,
		}),
		Selector:      selector,
		Anchorer:      NewAnchorer(AnchorerParams{Writer: s.anchorWriter}),
		Announcements: s.announcements.publisher(),
		Assignments:   s.assignments.publisher(),
		BidWindow:     testBidWindow,
		AckTimeout:    testAckTimeout,
		RetryLimit:    1,
		Clock:         s.clock,
	}
	for _, override := range overrides {
		override(&params)
	}
	return NewManager(params)
}

func (s *ManagerSuite) TearDownTest() {
	s.Require().NoError(s.manager.Stop(s.ctx))
}

func (s *ManagerSuite) submit() string {
	response, err := s.manager.Submit(s.ctx, SubmitRequest{
		Submitter:   "alice",
		ManifestRef: "bafy-manifest",
		MaxCostMana: 50,
		Scope:       testScope,
	})
	s.Require().NoError(err)
	return response.JobID
}

func (s *ManagerSuite) bid(jobID, bidder string, price uint64) {
	s.Require().NoError(s.manager.HandleBid(s.ctx, models.BidMessage{
		JobID:     jobID,
		Bidder:    bidder,
		PriceMana: price,
	}))
}

func (s *ManagerSuite) receipt(jobID, executor string, outcome models.ReceiptOutcome) models.ReceiptMessage {
	return models.ReceiptMessage{
		JobID: jobID,
		Receipt: models.ExecutionReceipt{
			JobID:     jobID,
			Executor:  executor,
			Outcome:   outcome,
			ResultRef: "bafy-result",
			Signature: []byte("sig"),
		},
	}
}

// advance moves the mock clock, giving background watchers a moment to arm
// their timers first and to react afterwards.
func (s *ManagerSuite) advance(d time.Duration) {
	time.Sleep(20 * time.Millisecond)
	s.clock.Add(d)
	time.Sleep(20 * time.Millisecond)
}

func (s *ManagerSuite) requireState(jobID string, state models.JobStateType) {
	s.Require().Eventually(func() bool {
		job, err := s.store.GetJob(s.ctx, jobID)
		return err == nil && job.State == state
	}, time.Second, 10*time.Millisecond, "job %s never reached state %s", jobID, state)
}

func (s *ManagerSuite) TestSubmitOpensBidding() {
	jobID := s.submit()
	s.requireState(jobID, models.JobStateBidding)

	// the full maximum cost is held at admission
	s.EqualValues(50, s.ledger.Balance("alice"))
	s.True(s.ledger.HoldActive(jobID))

	announced := s.announcements.all()
	s.Require().Len(announced, 1)
	s.Equal(jobID, announced[0].JobID)
	s.EqualValues(50, announced[0].MaxCostMana)
}

func (s *ManagerSuite) TestSubmitDeniedByGate() {
	_, err := s.manager.Submit(s.ctx, SubmitRequest{
		Submitter:   "mallory",
		ManifestRef: "bafy-manifest",
		MaxCostMana: 50,
		Scope:       testScope,
	})
	s.Require().IsType(ErrSubmissionRejected{}, err)
	s.Equal(models.ReasonNotAuthorized, err.(ErrSubmissionRejected).Reason)

	// denial leaves no record and no hold behind
	jobs, storeErr := s.store.GetJobs(s.ctx, jobstore.JobQuery{ReturnAll: true})
	s.Require().NoError(storeErr)
	s.Empty(jobs)
	s.EqualValues(100, s.ledger.Balance("mallory"))
}

func (s *ManagerSuite) TestSubmitInsufficientMana() {
	_, err := s.manager.Submit(s.ctx, SubmitRequest{
		Submitter:   "alice",
		ManifestRef: "bafy-manifest",
		MaxCostMana: 150,
		Scope:       testScope,
	})
	s.Require().IsType(ErrSubmissionRejected{}, err)
	s.Equal(models.ReasonRejected, err.(ErrSubmissionRejected).Reason)
	s.EqualValues(100, s.ledger.Balance("alice"))
}

func (s *ManagerSuite) TestHappyPath() {
	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.bid(jobID, "node-b", 45)

	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	winner := job.Executor
	s.NotEmpty(winner)

	notices := s.assignments.all()
	s.Require().Len(notices, 1)
	s.Equal(winner, notices[0].Executor)

	s.Require().NoError(s.manager.HandleExecutionStarted(s.ctx, models.ExecutionStartedMessage{
		JobID:    jobID,
		Executor: winner,
	}))
	s.requireState(jobID, models.JobStateExecuting)

	s.Require().NoError(s.manager.HandleReceipt(s.ctx, s.receipt(jobID, winner, models.ReceiptOutcomeSuccess)))
	s.requireState(jobID, models.JobStateAnchored)

	job, err = s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal("bafy-result", job.ResultRef)
	s.NotEmpty(job.AnchorRef)

	// the executor is paid the agreed price and the submitter refunded the
	// difference from the hold
	s.EqualValues(100+job.AgreedPriceMana, s.ledger.Balance(winner))
	s.EqualValues(100-job.AgreedPriceMana, s.ledger.Balance("alice"))
	s.False(s.ledger.HoldActive(jobID))

	score, err := s.reputation.GetScore(s.ctx, winner, testScope)
	s.Require().NoError(err)
	s.EqualValues(51, score)
}

func (s *ManagerSuite) TestNoBidsExpires() {
	jobID := s.submit()
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateExpired)

	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal(models.ReasonNoEligibleBid, job.StateReason)

	// the hold is refunded in full
	s.EqualValues(100, s.ledger.Balance("alice"))
	s.False(s.ledger.HoldActive(jobID))
}

func (s *ManagerSuite) TestAckTimeoutRequeuesAndExcludes() {
	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	// node-a never acknowledges
	s.advance(testAckTimeout)
	s.requireState(jobID, models.JobStateBidding)

	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal(1, job.RetryCount)
	s.Contains(job.ExcludedExecutors, "node-a")
	s.Empty(job.Executor)

	// node-a is shut out of the new round
	s.bid(jobID, "node-a", 30)
	s.bid(jobID, "node-b", 45)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	job, err = s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal("node-b", job.Executor)

	// retries are spent; a second silent assignment expires the job
	s.advance(testAckTimeout)
	s.requireState(jobID, models.JobStateExpired)
	job, err = s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal(models.ReasonAckTimeout, job.StateReason)
	s.EqualValues(100, s.ledger.Balance("alice"))
}

func (s *ManagerSuite) TestFailureRetriesThenExpires() {
	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	s.Require().NoError(s.manager.HandleExecutionStarted(s.ctx, models.ExecutionStartedMessage{
		JobID:    jobID,
		Executor: "node-a",
	}))
	s.Require().NoError(s.manager.HandleReceipt(s.ctx, s.receipt(jobID, "node-a", models.ReceiptOutcomeFailure)))

	// one retry is allowed: back to bidding without node-a
	s.requireState(jobID, models.JobStateBidding)
	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal(1, job.RetryCount)
	s.Contains(job.ExcludedExecutors, "node-a")

	s.bid(jobID, "node-b", 45)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	s.Require().NoError(s.manager.HandleExecutionStarted(s.ctx, models.ExecutionStartedMessage{
		JobID:    jobID,
		Executor: "node-b",
	}))
	s.Require().NoError(s.manager.HandleReceipt(s.ctx, s.receipt(jobID, "node-b", models.ReceiptOutcomeFailure)))

	s.requireState(jobID, models.JobStateExpired)
	job, err = s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal(models.ReasonRetriesExhausted, job.StateReason)

	// no mana was created or destroyed across the whole lifecycle
	s.EqualValues(100, s.ledger.Balance("alice"))
	s.EqualValues(100, s.ledger.Balance("node-a"))
	s.EqualValues(100, s.ledger.Balance("node-b"))

	// both failing executors lost reputation
	for _, executor := range []string{"node-a", "node-b"} {
		score, repErr := s.reputation.GetScore(s.ctx, executor, testScope)
		s.Require().NoError(repErr)
		s.EqualValues(48, score)
	}
}

func (s *ManagerSuite) TestDuplicateReceiptSettlesOnce() {
	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	s.Require().NoError(s.manager.HandleExecutionStarted(s.ctx, models.ExecutionStartedMessage{
		JobID:    jobID,
		Executor: "node-a",
	}))
	receipt := s.receipt(jobID, "node-a", models.ReceiptOutcomeSuccess)
	s.Require().NoError(s.manager.HandleReceipt(s.ctx, receipt))
	s.requireState(jobID, models.JobStateAnchored)

	s.Require().NoError(s.manager.HandleReceipt(s.ctx, receipt))

	s.EqualValues(140, s.ledger.Balance("node-a"))
	s.EqualValues(60, s.ledger.Balance("alice"))
}

func (s *ManagerSuite) TestReceiptOvertakesExecutionStart() {
	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	// the receipt arrives before the execution start on the unordered
	// transport; it still lands
	s.Require().NoError(s.manager.HandleReceipt(s.ctx, s.receipt(jobID, "node-a", models.ReceiptOutcomeSuccess)))
	s.requireState(jobID, models.JobStateAnchored)
}

func (s *ManagerSuite) TestReceiptFromWrongExecutorDropped() {
	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	s.Require().NoError(s.manager.HandleReceipt(s.ctx, s.receipt(jobID, "node-b", models.ReceiptOutcomeSuccess)))

	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal(models.JobStateAssigned, job.State)
	s.EqualValues(100, s.ledger.Balance("node-b"))
}

func (s *ManagerSuite) TestUnsignedReceiptDropped() {
	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	message := s.receipt(jobID, "node-a", models.ReceiptOutcomeSuccess)
	message.Receipt.Signature = nil
	s.Require().NoError(s.manager.HandleReceipt(s.ctx, message))

	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal(models.JobStateAssigned, job.State)
}

func (s *ManagerSuite) TestCancel() {
	jobID := s.submit()
	s.requireState(jobID, models.JobStateBidding)

	err := s.manager.Cancel(s.ctx, jobID, "bob")
	s.Require().IsType(ErrNotSubmitter{}, err)

	s.Require().NoError(s.manager.Cancel(s.ctx, jobID, "alice"))
	s.requireState(jobID, models.JobStateCancelled)
	s.EqualValues(100, s.ledger.Balance("alice"))
	s.False(s.ledger.HoldActive(jobID))

	// the deadline passing afterwards changes nothing
	s.advance(testBidWindow)
	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal(models.JobStateCancelled, job.State)
}

func (s *ManagerSuite) TestCancelAfterAssignmentRefused() {
	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	err := s.manager.Cancel(s.ctx, jobID, "alice")
	s.Require().IsType(ErrCannotCancel{}, err)
}

func (s *ManagerSuite) TestRejectedBidIsAttributable() {
	jobID := s.submit()
	s.bid(jobID, "node-a", 90) // over the 50 max cost
	s.bid(jobID, "node-b", 45)

	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)

	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal("node-b", job.Executor)

	events, err := s.store.GetEvents(s.ctx, jobID)
	s.Require().NoError(err)
	var found bool
	for _, event := range events {
		if event.Reason == models.ReasonOverBudget {
			found = true
		}
	}
	s.True(found, "expected an over-budget rejection event in the job log")
}

func (s *ManagerSuite) TestMalformedBidNeverAssigned() {
	// an unscoped job skips membership checks, so a blank bidder identity
	// must be stopped by bid validation instead
	response, err := s.manager.Submit(s.ctx, SubmitRequest{
		Submitter:   "alice",
		ManifestRef: "bafy-manifest",
		MaxCostMana: 50,
	})
	s.Require().NoError(err)
	jobID := response.JobID

	s.Require().NoError(s.manager.HandleBid(s.ctx, models.BidMessage{
		JobID:     jobID,
		PriceMana: 10,
	}))

	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateExpired)

	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Empty(job.Executor)
	s.Empty(s.assignments.all())

	events, err := s.store.GetEvents(s.ctx, jobID)
	s.Require().NoError(err)
	var found bool
	for _, event := range events {
		if event.Reason == models.ReasonMalformedBid {
			found = true
		}
	}
	s.True(found, "expected a malformed bid rejection event in the job log")
}

// flakyAnchorWriter fails a fixed number of writes before delegating to the
// real writer.
type flakyAnchorWriter struct {
	inner    anchor.Writer
	mu       sync.Mutex
	failures int
}

func (w *flakyAnchorWriter) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures > 0 {
		w.failures--
		return cid.Undef, errors.New("anchor store unavailable")
	}
	return w.inner.Put(ctx, data)
}

func (w *flakyAnchorWriter) Get(ctx context.Context, address cid.Cid) ([]byte, error) {
	return w.inner.Get(ctx, address)
}

func (s *ManagerSuite) TestAnchorRetriedAcrossSweeps() {
	s.Require().NoError(s.manager.Stop(s.ctx))
	writer := &flakyAnchorWriter{inner: s.anchorWriter, failures: 2}
	s.manager = s.newManager(func(p *ManagerParams) {
		p.Anchorer = NewAnchorer(AnchorerParams{Writer: writer})
		p.AnchorRetryInterval = time.Minute
	})
	s.Require().NoError(s.manager.Start(s.ctx))

	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)
	s.Require().NoError(s.manager.HandleReceipt(s.ctx, s.receipt(jobID, "node-a", models.ReceiptOutcomeSuccess)))

	// the write failed, but the receipt is on the record for the sweep
	s.requireState(jobID, models.JobStateCompleted)
	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Require().NotNil(job.Receipt)
	s.Empty(job.AnchorRef)

	// first sweep still fails
	s.advance(time.Minute)
	job, err = s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.Equal(models.JobStateCompleted, job.State)

	// second sweep lands the write
	s.advance(time.Minute)
	s.requireState(jobID, models.JobStateAnchored)
	job, err = s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.NotEmpty(job.AnchorRef)
	s.Equal(job.AnchorRef, job.Receipt.AnchorRef)

	events, err := s.store.GetEvents(s.ctx, jobID)
	s.Require().NoError(err)
	var failures int
	for _, event := range events {
		if event.Reason == models.ReasonAnchorFailure {
			failures++
		}
	}
	s.Equal(2, failures)
}

func (s *ManagerSuite) TestRecoverAnchorsPersistedReceipt() {
	s.Require().NoError(s.manager.Stop(s.ctx))
	writer := &flakyAnchorWriter{inner: s.anchorWriter, failures: 1}
	s.manager = s.newManager(func(p *ManagerParams) {
		p.Anchorer = NewAnchorer(AnchorerParams{Writer: writer})
	})
	s.Require().NoError(s.manager.Start(s.ctx))

	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)
	s.Require().NoError(s.manager.HandleReceipt(s.ctx, s.receipt(jobID, "node-a", models.ReceiptOutcomeSuccess)))
	s.requireState(jobID, models.JobStateCompleted)

	// a restart between completion and anchoring picks the receipt back up
	// from the store
	s.Require().NoError(s.manager.Stop(s.ctx))
	s.manager = s.newManager()
	s.Require().NoError(s.manager.Start(s.ctx))

	s.requireState(jobID, models.JobStateAnchored)
	job, err := s.store.GetJob(s.ctx, jobID)
	s.Require().NoError(err)
	s.NotEmpty(job.AnchorRef)
}

func (s *ManagerSuite) TestEventLogRebuildsLifecycle() {
	jobID := s.submit()
	s.bid(jobID, "node-a", 40)
	s.advance(testBidWindow)
	s.requireState(jobID, models.JobStateAssigned)
	s.Require().NoError(s.manager.HandleExecutionStarted(s.ctx, models.ExecutionStartedMessage{
		JobID:    jobID,
		Executor: "node-a",
	}))
	s.Require().NoError(s.manager.HandleReceipt(s.ctx, s.receipt(jobID, "node-a", models.ReceiptOutcomeSuccess)))
	s.requireState(jobID, models.JobStateAnchored)

	events, err := s.store.GetEvents(s.ctx, jobID)
	s.Require().NoError(err)

	var transitions []models.JobStateType
	for _, event := range events {
		if event.From != event.To {
			transitions = append(transitions, event.To)
		}
	}
	s.Equal([]models.JobStateType{
		models.JobStateSubmitted,
		models.JobStateBidding,
		models.JobStateAssigned,
		models.JobStateExecuting,
		models.JobStateCompleted,
		models.JobStateAnchored,
	}, transitions)
}
