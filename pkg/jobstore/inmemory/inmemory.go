package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"golang.org/x/exp/maps"

	"github.com/coopmesh-project/coopmesh/pkg/jobstore"
	"github.com/coopmesh-project/coopmesh/pkg/models"
)

type InMemoryJobStore struct {
	// jobs is a map of job ID to job
	jobs map[string]models.Job
	// events is a map of job ID to the job's append-only event log
	events map[string][]models.JobEvent
	// inProgress is a set of job IDs that have not reached a terminal state
	inProgress map[string]struct{}
	mtx        sync.RWMutex
	clock      clock.Clock
}

type Option func(store *InMemoryJobStore)

func WithClock(clock clock.Clock) Option {
	return func(store *InMemoryJobStore) {
		store.clock = clock
	}
}

func NewInMemoryJobStore(options ...Option) *InMemoryJobStore {
	res := &InMemoryJobStore{
		jobs:       make(map[string]models.Job),
		events:     make(map[string][]models.JobEvent),
		inProgress: make(map[string]struct{}),
		clock:      clock.New(),
	}
	for _, opt := range options {
		opt(res)
	}
	return res
}

func (d *InMemoryJobStore) CreateJob(_ context.Context, job models.Job) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if _, ok := d.jobs[job.ID]; ok {
		return jobstore.NewErrJobAlreadyExists(job.ID)
	}
	if err := job.Validate(); err != nil {
		return err
	}

	now := d.clock.Now().UTC()
	job.State = models.JobStateSubmitted
	job.Version = 1
	job.CreateTime = now
	job.ModifyTime = now

	d.jobs[job.ID] = *job.Copy()
	d.inProgress[job.ID] = struct{}{}
	d.appendEvent(models.JobEvent{
		JobID:     job.ID,
		From:      models.JobStateUndefined,
		To:        models.JobStateSubmitted,
		EventTime: now,
	})
	return nil
}

func (d *InMemoryJobStore) GetJob(_ context.Context, id string) (models.Job, error) {
	d.mtx.RLock()
	defer d.mtx.RUnlock()
	return d.getJob(id)
}

func (d *InMemoryJobStore) getJob(id string) (models.Job, error) {
	j, ok := d.jobs[id]
	if !ok {
		return models.Job{}, jobstore.NewErrJobNotFound(id)
	}
	return *j.Copy(), nil
}

func (d *InMemoryJobStore) GetJobs(_ context.Context, query jobstore.JobQuery) ([]models.Job, error) {
	d.mtx.RLock()
	defer d.mtx.RUnlock()

	var result []models.Job
	for _, j := range maps.Values(d.jobs) {
		if query.Limit > 0 && uint32(len(result)) == query.Limit {
			break
		}
		if !query.ReturnAll {
			if query.Submitter != "" && query.Submitter != j.Submitter {
				continue
			}
			if query.Scope != "" && query.Scope != j.Scope {
				continue
			}
		}
		result = append(result, *j.Copy())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreateTime.Equal(result[j].CreateTime) {
			return result[i].CreateTime.Before(result[j].CreateTime)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (d *InMemoryJobStore) GetInProgressJobs(_ context.Context) ([]models.Job, error) {
	d.mtx.RLock()
	defer d.mtx.RUnlock()

	result := make([]models.Job, 0, len(d.inProgress))
	for id := range d.inProgress {
		if j, ok := d.jobs[id]; ok {
			result = append(result, *j.Copy())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (d *InMemoryJobStore) UpdateJob(_ context.Context, request jobstore.UpdateJobRequest) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	job, ok := d.jobs[request.JobID]
	if !ok {
		return jobstore.NewErrJobNotFound(request.JobID)
	}
	if err := request.Condition.Validate(job); err != nil {
		return err
	}
	if job.IsTerminal() {
		return jobstore.NewErrJobAlreadyTerminal(job.ID, job.State, request.NewState)
	}
	if !models.IsValidTransition(job.State, request.NewState) {
		return jobstore.NewErrInvalidTransition(job.ID, job.State, request.NewState)
	}

	now := d.clock.Now().UTC()
	previous := job.State
	job.State = request.NewState
	job.StateReason = request.Reason
	if request.Update != nil {
		request.Update(&job)
	}
	job.Version++
	job.ModifyTime = now

	d.jobs[job.ID] = *job.Copy()
	if job.IsTerminal() {
		delete(d.inProgress, job.ID)
	}
	d.appendEvent(models.JobEvent{
		JobID:     job.ID,
		From:      previous,
		To:        job.State,
		Reason:    request.Reason,
		Details:   request.Details,
		EventTime: now,
	})
	return nil
}

func (d *InMemoryJobStore) AddEvent(_ context.Context, event models.JobEvent) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	if _, ok := d.jobs[event.JobID]; !ok {
		return jobstore.NewErrJobNotFound(event.JobID)
	}
	if event.EventTime.IsZero() {
		event.EventTime = d.clock.Now().UTC()
	}
	d.appendEvent(event)
	return nil
}

func (d *InMemoryJobStore) GetEvents(_ context.Context, jobID string) ([]models.JobEvent, error) {
	d.mtx.RLock()
	defer d.mtx.RUnlock()

	if _, ok := d.jobs[jobID]; !ok {
		return nil, jobstore.NewErrJobNotFound(jobID)
	}
	events := make([]models.JobEvent, len(d.events[jobID]))
	copy(events, d.events[jobID])
	return events, nil
}

func (d *InMemoryJobStore) appendEvent(event models.JobEvent) {
	d.events[event.JobID] = append(d.events[event.JobID], event)
}

func (d *InMemoryJobStore) Close(_ context.Context) error {
	return nil
}

// compile-time check that the in-memory store implements the Store interface
var _ jobstore.Store = (*InMemoryJobStore)(nil)
