package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/coopmesh-project/coopmesh/pkg/bidding"
	"github.com/coopmesh-project/coopmesh/pkg/jobstore"
	"github.com/coopmesh-project/coopmesh/pkg/mana"
	"github.com/coopmesh-project/coopmesh/pkg/models"
	"github.com/coopmesh-project/coopmesh/pkg/reputation"
	"github.com/coopmesh-project/coopmesh/pkg/selection"
	"github.com/coopmesh-project/coopmesh/pkg/transport"
	"github.com/coopmesh-project/coopmesh/pkg/trust"
	"github.com/coopmesh-project/coopmesh/pkg/util/idgen"
)

// Authorizer is the slice of the trust policy gate the manager needs to
// screen submissions.
type Authorizer interface {
	Authorize(ctx context.Context, identity string, scopeID string, action trust.Action) trust.Decision
}

type ManagerParams struct {
	NodeID        string
	Store         jobstore.Store
	Ledger        mana.Ledger
	Gate          Authorizer
	Reputation    reputation.Store
	Collector     *bidding.Collector
	Selector      *selection.Selector
	Anchorer      *Anchorer
	Announcements transport.Publisher[models.JobAnnouncement]
	Assignments   transport.Publisher[models.AssignmentNotice]
	Verifier      Verifier
	RetryStrategy RetryStrategy

	// BidWindow is how long each bidding round stays open.
	BidWindow time.Duration

	// AckTimeout is how long an assigned executor has to acknowledge.
	AckTimeout time.Duration

	// RetryLimit is stamped on every new job.
	RetryLimit int

	// RegenerationInterval is how often mana regeneration is applied. Zero
	// disables the regeneration loop.
	RegenerationInterval time.Duration

	// AnchorRetryInterval is how often completed jobs whose receipt never
	// anchored are swept and retried. Zero disables the sweep.
	AnchorRetryInterval time.Duration

	// ReputationSuccessDelta is credited to an executor on a verified
	// success receipt, and ReputationFailureDelta applied on a failure
	// receipt or an unacknowledged assignment.
	ReputationSuccessDelta float64
	ReputationFailureDelta float64

	Clock clock.Clock
}

// Manager drives jobs through their lifecycle: admission, bidding,
// assignment, execution tracking, settlement and anchoring. All transitions
// go through the job store, which enforces the state machine and appends to
// the per-job event log; the manager holds a per-job mutex so concurrent
// messages for the same job serialize.
type Manager struct {
	nodeID        string
	store         jobstore.Store
	ledger        mana.Ledger
	gate          Authorizer
	reputation    reputation.Store
	collector     *bidding.Collector
	selector      *selection.Selector
	anchorer      *Anchorer
	announcements transport.Publisher[models.JobAnnouncement]
	assignments   transport.Publisher[models.AssignmentNotice]
	verifier      Verifier
	retryStrategy RetryStrategy

	bidWindow      time.Duration
	ackTimeout     time.Duration
	retryLimit     int
	regenInterval  time.Duration
	anchorInterval time.Duration
	successDelta   float64
	failureDelta   float64
	clock          clock.Clock

	running  *atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	jobLocks  map[string]*sync.Mutex
	ackTimers map[string]*clock.Timer
	cancels   map[string]chan struct{}
}

func NewManager(params ManagerParams) *Manager {
	m := &Manager{
		nodeID:         params.NodeID,
		store:          params.Store,
		ledger:         params.Ledger,
		gate:           params.Gate,
		reputation:     params.Reputation,
		collector:      params.Collector,
		selector:       params.Selector,
		anchorer:       params.Anchorer,
		announcements:  params.Announcements,
		assignments:    params.Assignments,
		verifier:       params.Verifier,
		retryStrategy:  params.RetryStrategy,
		bidWindow:      params.BidWindow,
		ackTimeout:     params.AckTimeout,
		retryLimit:     params.RetryLimit,
		regenInterval:  params.RegenerationInterval,
		anchorInterval: params.AnchorRetryInterval,
		successDelta:   params.ReputationSuccessDelta,
		failureDelta:   params.ReputationFailureDelta,
		clock:          params.Clock,
		running:        atomic.NewBool(false),
		stopCh:         make(chan struct{}),
		jobLocks:       make(map[string]*sync.Mutex),
		ackTimers:      make(map[string]*clock.Timer),
		cancels:        make(map[string]chan struct{}),
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.verifier == nil {
		m.verifier = NewPresenceVerifier()
	}
	if m.retryStrategy == nil {
		m.retryStrategy = RetryStrategyFunc(func(_ context.Context, request RetryRequest) bool {
			return request.RetryCount < request.RetryLimit
		})
	}
	if m.successDelta == 0 {
		m.successDelta = 1
	}
	if m.failureDelta == 0 {
		m.failureDelta = -2
	}
	return m
}

// Start recovers in-progress jobs from the store and begins serving
// requests.
func (m *Manager) Start(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("lifecycle manager already started")
	}
	if m.regenInterval > 0 {
		m.wg.Add(1)
		go m.regenerationLoop()
	}
	if m.anchorInterval > 0 {
		m.wg.Add(1)
		go m.anchorRetryLoop()
	}
	return m.recover(ctx)
}

// Stop drains the background loops. Safe to call more than once.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		m.running.Store(false)
		close(m.stopCh)

		m.mu.Lock()
		for id, timer := range m.ackTimers {
			timer.Stop()
			delete(m.ackTimers, id)
		}
		m.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit admits a new job: the submitter must pass the trust gate for the
// submit action on the requested scope, and its mana balance must cover the
// maximum cost, which is held until settlement or expiry. A denial leaves no
// job record behind.
func (m *Manager) Submit(ctx context.Context, request SubmitRequest) (SubmitResponse, error) {
	if !m.running.Load() {
		return SubmitResponse{}, NewErrNotRunning()
	}

	decision := m.gate.Authorize(ctx, request.Submitter, request.Scope, trust.ActionSubmit)
	if !decision.Allowed {
		return SubmitResponse{}, NewErrSubmissionRejected(models.ReasonNotAuthorized, decision.Details)
	}

	jobID := idgen.NewJobID()
	if err := m.ledger.Hold(jobID, request.Submitter, request.MaxCostMana); err != nil {
		return SubmitResponse{}, NewErrSubmissionRejected(models.ReasonRejected, err.Error())
	}

	job := models.Job{
		ID:          jobID,
		Submitter:   request.Submitter,
		ManifestRef: request.ManifestRef,
		MaxCostMana: request.MaxCostMana,
		Scope:       request.Scope,
		RetryLimit:  m.retryLimit,
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		m.releaseHold(ctx, jobID)
		return SubmitResponse{}, err
	}

	log.Ctx(ctx).Info().Str("JobID", idgen.ShortID(jobID)).Str("Submitter", request.Submitter).
		Uint64("MaxCostMana", request.MaxCostMana).Msg("job submitted")

	lock := m.lockJob(jobID)
	defer lock.Unlock()
	if err := m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
		JobID:    jobID,
		NewState: models.JobStateBidding,
		Update: func(j *models.Job) {
			j.BidDeadline = m.clock.Now().Add(m.bidWindow).UTC()
		},
	}); err != nil {
		return SubmitResponse{}, err
	}
	if err := m.startBiddingRound(ctx, jobID); err != nil {
		return SubmitResponse{}, err
	}
	return SubmitResponse{JobID: jobID}, nil
}

// Cancel withdraws a job before assignment and refunds the full hold. Only
// the submitter may cancel.
func (m *Manager) Cancel(ctx context.Context, jobID string, requester string) error {
	if !m.running.Load() {
		return NewErrNotRunning()
	}

	lock := m.lockJob(jobID)
	defer lock.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Submitter != requester {
		return NewErrNotSubmitter(jobID, requester)
	}
	if job.State != models.JobStateSubmitted && job.State != models.JobStateBidding {
		return NewErrCannotCancel(jobID, job.State)
	}

	if err = m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
		JobID:    jobID,
		NewState: models.JobStateCancelled,
		Reason:   models.ReasonCancelled,
	}); err != nil {
		return err
	}
	m.releaseHold(ctx, jobID)
	m.signalCancel(jobID)
	log.Ctx(ctx).Info().Str("JobID", idgen.ShortID(jobID)).Msg("job cancelled by submitter")
	return nil
}

// GetJob returns the current job record.
func (m *Manager) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// GetHistory returns the job's event log in append order.
func (m *Manager) GetHistory(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	return m.store.GetEvents(ctx, jobID)
}

// HandleBid feeds an incoming bid into the job's open session. Rejections
// are recorded on the job's event log and dropped; they never fail the job
// or the transport subscription.
func (m *Manager) HandleBid(ctx context.Context, message models.BidMessage) error {
	if !m.running.Load() {
		return nil
	}

	bid := models.Bid{
		JobID:            message.JobID,
		Bidder:           message.Bidder,
		PriceMana:        message.PriceMana,
		EstimatedLatency: message.EstimatedLatency,
		MembershipProof:  message.MembershipProof,
	}
	err := m.collector.Submit(ctx, bid)
	if err == nil {
		return nil
	}

	var rejection bidding.RejectionError
	if errors.As(err, &rejection) {
		log.Ctx(ctx).Debug().Str("JobID", idgen.ShortID(message.JobID)).Str("Bidder", message.Bidder).
			Str("Reason", string(rejection.ReasonCode)).Msg("bid rejected")
		if addErr := m.store.AddEvent(ctx, models.JobEvent{
			JobID:   message.JobID,
			From:    models.JobStateBidding,
			To:      models.JobStateBidding,
			Reason:  rejection.ReasonCode,
			Details: "bid from " + message.Bidder + " rejected: " + rejection.Details,
		}); addErr != nil {
			log.Ctx(ctx).Debug().Err(addErr).Msg("failed to record bid rejection")
		}
		return nil
	}
	if errors.Is(err, bidding.ErrNoSession) {
		log.Ctx(ctx).Trace().Str("JobID", idgen.ShortID(message.JobID)).
			Msg("dropping bid for job with no open session")
		return nil
	}
	return err
}

// HandleExecutionStarted acknowledges an assignment before the timeout.
func (m *Manager) HandleExecutionStarted(ctx context.Context, message models.ExecutionStartedMessage) error {
	if !m.running.Load() {
		return nil
	}

	lock := m.lockJob(message.JobID)
	defer lock.Unlock()

	job, err := m.store.GetJob(ctx, message.JobID)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("dropping execution start for unknown job")
		return nil
	}
	if job.State != models.JobStateAssigned || job.Executor != message.Executor {
		log.Ctx(ctx).Debug().Str("JobID", idgen.ShortID(message.JobID)).Str("Executor", message.Executor).
			Str("State", job.State.String()).Msg("dropping unexpected execution start")
		return nil
	}

	m.stopAckTimer(message.JobID)
	return m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
		JobID:     message.JobID,
		Condition: jobstore.UpdateJobCondition{ExpectedState: models.JobStateAssigned},
		NewState:  models.JobStateExecuting,
	})
}

// HandleReceipt processes a signed execution receipt. Receipts are verified
// against the assigned executor, settled at the agreed price on success, and
// anchored either way. Duplicate deliveries of the same receipt are no-ops:
// the first terminal transition wins.
func (m *Manager) HandleReceipt(ctx context.Context, message models.ReceiptMessage) error {
	if !m.running.Load() {
		return nil
	}

	receipt := message.Receipt
	if err := receipt.Validate(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("dropping malformed receipt")
		return nil
	}

	lock := m.lockJob(receipt.JobID)
	defer lock.Unlock()

	job, err := m.store.GetJob(ctx, receipt.JobID)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("dropping receipt for unknown job")
		return nil
	}
	if job.IsTerminal() || job.State == models.JobStateCompleted || job.State == models.JobStateFailed {
		log.Ctx(ctx).Trace().Str("JobID", idgen.ShortID(receipt.JobID)).
			Msg("dropping duplicate receipt")
		return nil
	}
	if job.Executor != receipt.Executor {
		log.Ctx(ctx).Warn().Str("JobID", idgen.ShortID(receipt.JobID)).Str("Executor", receipt.Executor).
			Msg("dropping receipt from an executor the job was not assigned to")
		return nil
	}

	// a receipt can overtake the execution start on an unordered transport
	if job.State == models.JobStateAssigned {
		m.stopAckTimer(job.ID)
		if err = m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
			JobID:     job.ID,
			Condition: jobstore.UpdateJobCondition{ExpectedState: models.JobStateAssigned},
			NewState:  models.JobStateExecuting,
		}); err != nil {
			return err
		}
		job.State = models.JobStateExecuting
	}
	if job.State != models.JobStateExecuting {
		log.Ctx(ctx).Debug().Str("JobID", idgen.ShortID(receipt.JobID)).Str("State", job.State.String()).
			Msg("dropping receipt for job not executing")
		return nil
	}

	if err = m.verifier.Verify(ctx, receipt); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("JobID", idgen.ShortID(receipt.JobID)).
			Msg("dropping receipt that failed verification")
		return nil
	}

	if receipt.Succeeded() {
		return m.completeJob(ctx, job, receipt)
	}
	return m.failJob(ctx, job, receipt)
}

func (m *Manager) completeJob(ctx context.Context, job models.Job, receipt models.ExecutionReceipt) error {
	// the receipt is persisted with the job before any anchor attempt, so
	// anchoring can resume after a restart
	if err := m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
		JobID:     job.ID,
		Condition: jobstore.UpdateJobCondition{ExpectedState: models.JobStateExecuting},
		NewState:  models.JobStateCompleted,
		Update: func(j *models.Job) {
			j.ResultRef = receipt.ResultRef
			j.Receipt = receipt.Copy()
		},
	}); err != nil {
		return err
	}

	if err := m.ledger.Settle(job.ID, job.Executor, job.AgreedPriceMana); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("JobID", idgen.ShortID(job.ID)).
			Msg("failed to settle mana for completed job")
	}
	m.applyReputation(ctx, job.Executor, job.Scope, m.successDelta)

	return m.anchorJobLocked(ctx, job.ID)
}

// anchorJobLocked writes the persisted receipt of a completed job to the
// anchor store and finalizes the job. An anchoring failure never fails the
// job: the receipt stays on the record and the sweep retries the write until
// it lands. Caller holds the job lock.
func (m *Manager) anchorJobLocked(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != models.JobStateCompleted || job.Receipt == nil {
		return nil
	}

	address, err := m.anchorer.Anchor(ctx, *job.Receipt)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("JobID", idgen.ShortID(jobID)).
			Msg("receipt left unanchored until the next sweep")
		m.addEventSilently(ctx, models.JobEvent{
			JobID:   jobID,
			From:    models.JobStateCompleted,
			To:      models.JobStateCompleted,
			Reason:  models.ReasonAnchorFailure,
			Details: err.Error(),
		})
		return nil
	}

	return m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
		JobID:     jobID,
		Condition: jobstore.UpdateJobCondition{ExpectedState: models.JobStateCompleted},
		NewState:  models.JobStateAnchored,
		Update: func(j *models.Job) {
			j.AnchorRef = address.String()
			if j.Receipt != nil {
				j.Receipt.AnchorRef = address.String()
			}
		},
	})
}

func (m *Manager) failJob(ctx context.Context, job models.Job, receipt models.ExecutionReceipt) error {
	executor := job.Executor
	if err := m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
		JobID:     job.ID,
		Condition: jobstore.UpdateJobCondition{ExpectedState: models.JobStateExecuting},
		NewState:  models.JobStateFailed,
		Reason:    models.ReasonExecutionFailure,
		Details:   receipt.FailureReason,
	}); err != nil {
		return err
	}
	m.applyReputation(ctx, executor, job.Scope, m.failureDelta)

	// failure receipts are anchored too, so the failure stays auditable
	if address, err := m.anchorer.Anchor(ctx, receipt); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("JobID", idgen.ShortID(job.ID)).
			Msg("failure receipt left unanchored")
	} else {
		m.addEventSilently(ctx, models.JobEvent{
			JobID:   job.ID,
			From:    models.JobStateFailed,
			To:      models.JobStateFailed,
			Details: "failure receipt anchored at " + address.String(),
		})
	}

	request := RetryRequest{
		JobID:      job.ID,
		RetryCount: job.RetryCount,
		RetryLimit: job.RetryLimit,
		Reason:     models.ReasonExecutionFailure,
	}
	if m.retryStrategy.ShouldRetry(ctx, request) {
		return m.requeueJob(ctx, job.ID, models.ReasonExecutionFailure, executor)
	}

	if err := m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
		JobID:    job.ID,
		NewState: models.JobStateExpired,
		Reason:   models.ReasonRetriesExhausted,
	}); err != nil {
		return err
	}
	m.releaseHold(ctx, job.ID)
	return nil
}

// requeueJob sends a job back to bidding for another round, excluding the
// executor that caused the retry.
func (m *Manager) requeueJob(ctx context.Context, jobID string, reason models.ReasonCode, exclude string) error {
	if err := m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
		JobID:    jobID,
		NewState: models.JobStateBidding,
		Reason:   reason,
		Update: func(j *models.Job) {
			j.Executor = ""
			j.AgreedPriceMana = 0
			if !j.IsExcluded(exclude) {
				j.ExcludedExecutors = append(j.ExcludedExecutors, exclude)
			}
			j.RetryCount++
			j.BidDeadline = m.clock.Now().Add(m.bidWindow).UTC()
		},
	}); err != nil {
		return err
	}
	log.Ctx(ctx).Info().Str("JobID", idgen.ShortID(jobID)).Str("Excluded", exclude).
		Str("Reason", string(reason)).Msg("job returned to bidding")
	return m.startBiddingRound(ctx, jobID)
}

// startBiddingRound opens a collection session for a job already in the
// bidding state, announces it and arms the deadline watcher.
func (m *Manager) startBiddingRound(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	session, err := m.collector.Open(&job)
	if err != nil {
		return err
	}

	cancelCh := make(chan struct{})
	m.mu.Lock()
	m.cancels[jobID] = cancelCh
	m.mu.Unlock()

	if err = m.announcements.Publish(ctx, models.JobAnnouncement{
		JobID:       job.ID,
		Scope:       job.Scope,
		ManifestRef: job.ManifestRef,
		MaxCostMana: job.MaxCostMana,
		Deadline:    job.BidDeadline,
	}); err != nil {
		// without an announcement no bids will arrive and the round will
		// expire at the deadline
		log.Ctx(ctx).Error().Err(err).Str("JobID", idgen.ShortID(jobID)).
			Msg("failed to announce job")
	}

	m.wg.Add(1)
	go m.waitForBids(jobID, job.BidDeadline, session, cancelCh)
	return nil
}

func (m *Manager) waitForBids(jobID string, deadline time.Time, session *bidding.Session, cancelCh chan struct{}) {
	defer m.wg.Done()
	ctx := context.Background()

	remaining := deadline.Sub(m.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	timer := m.clock.Timer(remaining)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-session.QuorumReached():
	case <-cancelCh:
		// the session was cancelled underneath us; discard collected bids
		if _, err := m.collector.Close(jobID); err != nil && !errors.Is(err, bidding.ErrNoSession) {
			log.Ctx(ctx).Debug().Err(err).Msg("failed to discard cancelled bidding session")
		}
		return
	case <-m.stopCh:
		return
	}

	m.closeBiddingRound(ctx, jobID)
}

func (m *Manager) closeBiddingRound(ctx context.Context, jobID string) {
	lock := m.lockJob(jobID)
	defer lock.Unlock()
	m.clearCancel(jobID)

	bids, err := m.collector.Close(jobID)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("JobID", idgen.ShortID(jobID)).
			Msg("bidding session already closed")
		return
	}

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil || job.State != models.JobStateBidding {
		return
	}

	if len(bids) == 0 {
		m.expireJob(ctx, job.ID, models.ReasonNoEligibleBid, "no bids arrived before the deadline")
		return
	}

	winner, err := m.selector.Select(ctx, &job, bids)
	if err != nil {
		var noEligible selection.ErrNoEligibleBid
		if errors.As(err, &noEligible) {
			m.expireJob(ctx, job.ID, models.ReasonNoEligibleBid, err.Error())
			return
		}
		log.Ctx(ctx).Warn().Err(err).Str("JobID", idgen.ShortID(jobID)).
			Msg("selection aborted")
		return
	}

	if err = m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
		JobID:     jobID,
		Condition: jobstore.UpdateJobCondition{ExpectedState: models.JobStateBidding},
		NewState:  models.JobStateAssigned,
		Update: func(j *models.Job) {
			j.Executor = winner.Bidder
			j.AgreedPriceMana = winner.PriceMana
		},
	}); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("JobID", idgen.ShortID(jobID)).
			Msg("failed to assign job")
		return
	}
	log.Ctx(ctx).Info().Str("JobID", idgen.ShortID(jobID)).Str("Executor", winner.Bidder).
		Uint64("PriceMana", winner.PriceMana).Msg("job assigned")

	if err = m.assignments.Publish(ctx, models.AssignmentNotice{
		JobID:    jobID,
		Executor: winner.Bidder,
	}); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("JobID", idgen.ShortID(jobID)).
			Msg("failed to publish assignment notice")
	}

	m.armAckTimer(jobID)
}

// handleAckTimeout fires when an assigned executor never acknowledged. The
// executor is excluded and the job re-enters bidding, or expires once its
// retries are spent.
func (m *Manager) handleAckTimeout(jobID string) {
	ctx := context.Background()
	lock := m.lockJob(jobID)
	defer lock.Unlock()

	m.mu.Lock()
	delete(m.ackTimers, jobID)
	m.mu.Unlock()

	job, err := m.store.GetJob(ctx, jobID)
	if err != nil || job.State != models.JobStateAssigned {
		return
	}
	log.Ctx(ctx).Warn().Str("JobID", idgen.ShortID(jobID)).Str("Executor", job.Executor).
		Msg("assignment was not acknowledged in time")
	m.applyReputation(ctx, job.Executor, job.Scope, m.failureDelta)

	request := RetryRequest{
		JobID:      jobID,
		RetryCount: job.RetryCount,
		RetryLimit: job.RetryLimit,
		Reason:     models.ReasonAckTimeout,
	}
	if m.retryStrategy.ShouldRetry(ctx, request) {
		if err = m.requeueJob(ctx, jobID, models.ReasonAckTimeout, job.Executor); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("JobID", idgen.ShortID(jobID)).
				Msg("failed to requeue unacknowledged job")
		}
		return
	}
	m.expireJob(ctx, jobID, models.ReasonAckTimeout, "assignment unacknowledged and retries spent")
}

// expireJob moves a job to the expired terminal state and refunds the full
// hold. The refund is idempotent, so racing expiry paths cannot double pay.
func (m *Manager) expireJob(ctx context.Context, jobID string, reason models.ReasonCode, details string) {
	if err := m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
		JobID:    jobID,
		NewState: models.JobStateExpired,
		Reason:   reason,
		Details:  details,
	}); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("JobID", idgen.ShortID(jobID)).
			Msg("failed to expire job")
		return
	}
	m.releaseHold(ctx, jobID)
	log.Ctx(ctx).Info().Str("JobID", idgen.ShortID(jobID)).Str("Reason", string(reason)).
		Msg("job expired")
}

// recover resumes the lifecycle of jobs found in progress at startup.
func (m *Manager) recover(ctx context.Context) error {
	jobs, err := m.store.GetInProgressJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		switch job.State {
		case models.JobStateSubmitted:
			lock := m.lockJob(job.ID)
			if err := m.store.UpdateJob(ctx, jobstore.UpdateJobRequest{
				JobID:    job.ID,
				NewState: models.JobStateBidding,
				Update: func(j *models.Job) {
					j.BidDeadline = m.clock.Now().Add(m.bidWindow).UTC()
				},
			}); err != nil {
				lock.Unlock()
				return err
			}
			if err := m.startBiddingRound(ctx, job.ID); err != nil {
				lock.Unlock()
				return err
			}
			lock.Unlock()
		case models.JobStateBidding:
			lock := m.lockJob(job.ID)
			err := m.startBiddingRound(ctx, job.ID)
			lock.Unlock()
			if err != nil {
				return err
			}
		case models.JobStateAssigned:
			// grant the executor a fresh acknowledgement window
			m.armAckTimer(job.ID)
		case models.JobStateCompleted:
			// re-drive anchoring from the persisted receipt
			lock := m.lockJob(job.ID)
			err := m.anchorJobLocked(ctx, job.ID)
			lock.Unlock()
			if err != nil {
				return err
			}
		default:
			log.Ctx(ctx).Debug().Str("JobID", idgen.ShortID(job.ID)).Str("State", job.State.String()).
				Msg("leaving in-progress job to the executor")
		}
	}
	return nil
}

func (m *Manager) regenerationLoop() {
	defer m.wg.Done()
	ticker := m.clock.Ticker(m.regenInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.ledger.Regenerate(m.clock.Now())
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) anchorRetryLoop() {
	defer m.wg.Done()
	ticker := m.clock.Ticker(m.anchorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepUnanchored(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// sweepUnanchored retries the anchor write for completed jobs whose receipt
// never landed. Together with the per-write backoff this retries anchoring
// indefinitely without ever failing the job.
func (m *Manager) sweepUnanchored(ctx context.Context) {
	jobs, err := m.store.GetInProgressJobs(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list jobs for anchor sweep")
		return
	}
	for _, job := range jobs {
		if job.State != models.JobStateCompleted || job.Receipt == nil {
			continue
		}
		lock := m.lockJob(job.ID)
		if err := m.anchorJobLocked(ctx, job.ID); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("JobID", idgen.ShortID(job.ID)).
				Msg("anchor sweep failed for job")
		}
		lock.Unlock()
	}
}

func (m *Manager) armAckTimer(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ackTimers[jobID]; ok {
		return
	}
	m.ackTimers[jobID] = m.clock.AfterFunc(m.ackTimeout, func() {
		m.handleAckTimeout(jobID)
	})
}

func (m *Manager) stopAckTimer(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if timer, ok := m.ackTimers[jobID]; ok {
		timer.Stop()
		delete(m.ackTimers, jobID)
	}
}

func (m *Manager) signalCancel(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.cancels[jobID]; ok {
		close(ch)
		delete(m.cancels, jobID)
	}
}

func (m *Manager) clearCancel(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, jobID)
}

func (m *Manager) lockJob(jobID string) *sync.Mutex {
	m.mu.Lock()
	lock, ok := m.jobLocks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		m.jobLocks[jobID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock
}

func (m *Manager) releaseHold(ctx context.Context, jobID string) {
	if err := m.ledger.Release(jobID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("JobID", idgen.ShortID(jobID)).
			Msg("failed to release mana hold")
	}
}

func (m *Manager) applyReputation(ctx context.Context, identity string, scope string, delta float64) {
	if err := m.reputation.ApplyEvent(ctx, identity, scope, delta); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("Identity", identity).
			Msg("failed to apply reputation event")
	}
}

func (m *Manager) addEventSilently(ctx context.Context, event models.JobEvent) {
	if err := m.store.AddEvent(ctx, event); err != nil {
		log.Ctx(ctx).Debug().Err(err).Msgf("failed to record event %s", event.String())
	}
}
