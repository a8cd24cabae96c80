//go:build unit || !integration

package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/suite"

	"github.com/coopmesh-project/coopmesh/pkg/jobstore"
	"github.com/coopmesh-project/coopmesh/pkg/logger"
	"github.com/coopmesh-project/coopmesh/pkg/models"
)

type InMemoryTestSuite struct {
	suite.Suite
	store *InMemoryJobStore
	clock *clock.Mock
	ctx   context.Context
}

func TestInMemoryTestSuite(t *testing.T) {
	suite.Run(t, new(InMemoryTestSuite))
}

func (s *InMemoryTestSuite) SetupTest() {
	logger.ConfigureTestLogging(s.T())
	s.clock = clock.NewMock()
	s.store = NewInMemoryJobStore(WithClock(s.clock))
	s.ctx = context.Background()
}

func (s *InMemoryTestSuite) newJob(id string) models.Job {
	return models.Job{
		ID:          id,
		Submitter:   "alice",
		ManifestRef: "bafy-manifest",
		MaxCostMana: 50,
		Scope:       "coop-housing",
		RetryLimit:  2,
	}
}

func (s *InMemoryTestSuite) transition(id string, to models.JobStateType) error {
	return s.store.UpdateJob(s.ctx, jobstore.UpdateJobRequest{
		JobID:    id,
		NewState: to,
	})
}

func (s *InMemoryTestSuite) TestCreateAndGet() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))

	job, err := s.store.GetJob(s.ctx, "j-1")
	s.Require().NoError(err)
	s.Equal(models.JobStateSubmitted, job.State)
	s.Equal(uint64(1), job.Version)
	s.Equal(s.clock.Now().UTC(), job.CreateTime)
}

func (s *InMemoryTestSuite) TestCreateDuplicate() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))
	err := s.store.CreateJob(s.ctx, s.newJob("j-1"))
	s.Require().IsType(jobstore.ErrJobAlreadyExists{}, err)
}

func (s *InMemoryTestSuite) TestCreateInvalid() {
	job := s.newJob("j-1")
	job.MaxCostMana = 0
	s.Require().Error(s.store.CreateJob(s.ctx, job))
}

func (s *InMemoryTestSuite) TestGetMissing() {
	_, err := s.store.GetJob(s.ctx, "j-missing")
	s.Require().IsType(jobstore.ErrJobNotFound{}, err)
}

func (s *InMemoryTestSuite) TestFullLifecycle() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))

	for _, state := range []models.JobStateType{
		models.JobStateBidding,
		models.JobStateAssigned,
		models.JobStateExecuting,
		models.JobStateCompleted,
		models.JobStateAnchored,
	} {
		s.clock.Add(time.Second)
		s.Require().NoError(s.transition("j-1", state))
	}

	job, err := s.store.GetJob(s.ctx, "j-1")
	s.Require().NoError(err)
	s.Equal(models.JobStateAnchored, job.State)
	s.Equal(uint64(6), job.Version)
	s.True(job.ModifyTime.After(job.CreateTime))
}

func (s *InMemoryTestSuite) TestInvalidTransition() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))
	err := s.transition("j-1", models.JobStateExecuting)
	s.Require().IsType(jobstore.ErrInvalidTransition{}, err)
}

func (s *InMemoryTestSuite) TestTerminalJobCannotBeUpdated() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))
	s.Require().NoError(s.transition("j-1", models.JobStateCancelled))

	err := s.transition("j-1", models.JobStateBidding)
	s.Require().IsType(jobstore.ErrJobAlreadyTerminal{}, err)
}

func (s *InMemoryTestSuite) TestVersionCondition() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))

	err := s.store.UpdateJob(s.ctx, jobstore.UpdateJobRequest{
		JobID:     "j-1",
		Condition: jobstore.UpdateJobCondition{ExpectedVersion: 7},
		NewState:  models.JobStateBidding,
	})
	s.Require().IsType(jobstore.ErrInvalidJobVersion{}, err)

	s.Require().NoError(s.store.UpdateJob(s.ctx, jobstore.UpdateJobRequest{
		JobID:     "j-1",
		Condition: jobstore.UpdateJobCondition{ExpectedVersion: 1},
		NewState:  models.JobStateBidding,
	}))
}

func (s *InMemoryTestSuite) TestStateCondition() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))

	err := s.store.UpdateJob(s.ctx, jobstore.UpdateJobRequest{
		JobID:     "j-1",
		Condition: jobstore.UpdateJobCondition{ExpectedState: models.JobStateBidding},
		NewState:  models.JobStateAssigned,
	})
	s.Require().IsType(jobstore.ErrInvalidJobState{}, err)
}

func (s *InMemoryTestSuite) TestUpdateAppliesFieldChanges() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))
	s.Require().NoError(s.transition("j-1", models.JobStateBidding))

	s.Require().NoError(s.store.UpdateJob(s.ctx, jobstore.UpdateJobRequest{
		JobID:    "j-1",
		NewState: models.JobStateAssigned,
		Update: func(job *models.Job) {
			job.Executor = "node-b"
			job.AgreedPriceMana = 45
		},
	}))

	job, err := s.store.GetJob(s.ctx, "j-1")
	s.Require().NoError(err)
	s.Equal("node-b", job.Executor)
	s.Equal(uint64(45), job.AgreedPriceMana)
}

func (s *InMemoryTestSuite) TestInProgressTracking() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-2")))

	inProgress, err := s.store.GetInProgressJobs(s.ctx)
	s.Require().NoError(err)
	s.Len(inProgress, 2)

	s.Require().NoError(s.transition("j-1", models.JobStateCancelled))
	inProgress, err = s.store.GetInProgressJobs(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(inProgress, 1)
	s.Equal("j-2", inProgress[0].ID)
}

func (s *InMemoryTestSuite) TestEventLog() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))
	s.Require().NoError(s.transition("j-1", models.JobStateBidding))
	s.Require().NoError(s.store.UpdateJob(s.ctx, jobstore.UpdateJobRequest{
		JobID:    "j-1",
		NewState: models.JobStateExpired,
		Reason:   models.ReasonNoEligibleBid,
	}))

	events, err := s.store.GetEvents(s.ctx, "j-1")
	s.Require().NoError(err)
	s.Require().Len(events, 3)
	s.Equal(models.JobStateUndefined, events[0].From)
	s.Equal(models.JobStateSubmitted, events[0].To)
	s.Equal(models.JobStateBidding, events[1].To)
	s.Equal(models.JobStateExpired, events[2].To)
	s.Equal(models.ReasonNoEligibleBid, events[2].Reason)
}

func (s *InMemoryTestSuite) TestAddEvent() {
	s.Require().NoError(s.store.CreateJob(s.ctx, s.newJob("j-1")))
	s.Require().NoError(s.store.AddEvent(s.ctx, models.JobEvent{
		JobID:   "j-1",
		From:    models.JobStateSubmitted,
		To:      models.JobStateSubmitted,
		Details: "bid rejected: over budget",
	}))

	events, err := s.store.GetEvents(s.ctx, "j-1")
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal("bid rejected: over budget", events[1].Details)
	s.Equal(s.clock.Now().UTC(), events[1].EventTime)
}

func (s *InMemoryTestSuite) TestGetJobsFilters() {
	job := s.newJob("j-1")
	s.Require().NoError(s.store.CreateJob(s.ctx, job))

	other := s.newJob("j-2")
	other.Submitter = "bob"
	other.Scope = "coop-energy"
	s.clock.Add(time.Second)
	s.Require().NoError(s.store.CreateJob(s.ctx, other))

	jobs, err := s.store.GetJobs(s.ctx, jobstore.JobQuery{Submitter: "alice"})
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	s.Equal("j-1", jobs[0].ID)

	jobs, err = s.store.GetJobs(s.ctx, jobstore.JobQuery{Scope: "coop-energy"})
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	s.Equal("j-2", jobs[0].ID)

	jobs, err = s.store.GetJobs(s.ctx, jobstore.JobQuery{ReturnAll: true})
	s.Require().NoError(err)
	s.Require().Len(jobs, 2)
	s.Equal("j-1", jobs[0].ID)
}
