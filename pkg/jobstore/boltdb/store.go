package boltjobstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"

	"github.com/coopmesh-project/coopmesh/pkg/jobstore"
	"github.com/coopmesh-project/coopmesh/pkg/models"
)

const (
	BucketJobs          = "jobs"
	BucketJobEvents     = "events"
	BucketProgressIndex = "idx_inprogress" // job-id -> {}

	DefaultDatabasePermissions = 0600
)

// BoltJobStore is a job store backed by a single bolt database file.
// Data is structured as follows
//
//	bucket jobs     -> key jobID -> Job
//	bucket events
//		bucket jobID -> key []sequence -> JobEvent
//	bucket idx_inprogress -> key jobID -> {}
type BoltJobStore struct {
	database *bolt.DB
	clock    clock.Clock
}

type Option func(store *BoltJobStore)

func WithClock(clock clock.Clock) Option {
	return func(store *BoltJobStore) {
		store.clock = clock
	}
}

func NewBoltJobStore(dbPath string, options ...Option) (*BoltJobStore, error) {
	db, err := bolt.Open(dbPath, DefaultDatabasePermissions, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}

	store := &BoltJobStore{
		database: db,
		clock:    clock.New(),
	}
	for _, opt := range options {
		opt(store)
	}

	// the top level buckets will definitely be required
	err = db.Update(func(tx *bolt.Tx) (err error) {
		for _, name := range []string{BucketJobs, BucketJobEvents, BucketProgressIndex} {
			_, err = tx.CreateBucketIfNotExists([]byte(name))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("DBFile", dbPath).Msg("created bolt-backed job store")
	return store, nil
}

func (b *BoltJobStore) CreateJob(_ context.Context, job models.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}

	return b.database.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(BucketJobs))
		if bkt.Get([]byte(job.ID)) != nil {
			return jobstore.NewErrJobAlreadyExists(job.ID)
		}

		now := b.clock.Now().UTC()
		job.State = models.JobStateSubmitted
		job.Version = 1
		job.CreateTime = now
		job.ModifyTime = now

		if err := putJob(tx, job); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(BucketProgressIndex)).Put([]byte(job.ID), []byte{}); err != nil {
			return err
		}
		return appendEvent(tx, models.JobEvent{
			JobID:     job.ID,
			From:      models.JobStateUndefined,
			To:        models.JobStateSubmitted,
			EventTime: now,
		})
	})
}

func (b *BoltJobStore) GetJob(_ context.Context, id string) (models.Job, error) {
	var job models.Job
	err := b.database.View(func(tx *bolt.Tx) (err error) {
		job, err = getJob(tx, id)
		return
	})
	return job, err
}

func (b *BoltJobStore) GetJobs(_ context.Context, query jobstore.JobQuery) ([]models.Job, error) {
	var jobs []models.Job
	err := b.database.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketJobs)).ForEach(func(_ []byte, v []byte) error {
			if query.Limit > 0 && uint32(len(jobs)) == query.Limit {
				return nil
			}
			var j models.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			if !query.ReturnAll {
				if query.Submitter != "" && query.Submitter != j.Submitter {
					return nil
				}
				if query.Scope != "" && query.Scope != j.Scope {
					return nil
				}
			}
			jobs = append(jobs, j)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreateTime.Equal(jobs[j].CreateTime) {
			return jobs[i].CreateTime.Before(jobs[j].CreateTime)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

func (b *BoltJobStore) GetInProgressJobs(_ context.Context) ([]models.Job, error) {
	var jobs []models.Job
	err := b.database.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(BucketProgressIndex)).ForEach(func(k []byte, _ []byte) error {
			j, err := getJob(tx, string(k))
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}

func (b *BoltJobStore) UpdateJob(_ context.Context, request jobstore.UpdateJobRequest) error {
	return b.database.Update(func(tx *bolt.Tx) error {
		job, err := getJob(tx, request.JobID)
		if err != nil {
			return err
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

		now := b.clock.Now().UTC()
		previous := job.State
		job.State = request.NewState
		job.StateReason = request.Reason
		if request.Update != nil {
			request.Update(&job)
		}
		job.Version++
		job.ModifyTime = now

		if err := putJob(tx, job); err != nil {
			return err
		}
		if job.IsTerminal() {
			if err := tx.Bucket([]byte(BucketProgressIndex)).Delete([]byte(job.ID)); err != nil {
				return err
			}
		}
		return appendEvent(tx, models.JobEvent{
			JobID:     job.ID,
			From:      previous,
			To:        job.State,
			Reason:    request.Reason,
			Details:   request.Details,
			EventTime: now,
		})
	})
}

func (b *BoltJobStore) AddEvent(_ context.Context, event models.JobEvent) error {
	return b.database.Update(func(tx *bolt.Tx) error {
		if _, err := getJob(tx, event.JobID); err != nil {
			return err
		}
		if event.EventTime.IsZero() {
			event.EventTime = b.clock.Now().UTC()
		}
		return appendEvent(tx, event)
	})
}

func (b *BoltJobStore) GetEvents(_ context.Context, jobID string) ([]models.JobEvent, error) {
	var events []models.JobEvent
	err := b.database.View(func(tx *bolt.Tx) error {
		if _, err := getJob(tx, jobID); err != nil {
			return err
		}
		bkt := tx.Bucket([]byte(BucketJobEvents)).Bucket([]byte(jobID))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(_ []byte, v []byte) error {
			var ev models.JobEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, ev)
			return nil
		})
	})
	return events, err
}

func (b *BoltJobStore) Close(_ context.Context) error {
	return b.database.Close()
}

func getJob(tx *bolt.Tx, id string) (models.Job, error) {
	var job models.Job
	data := tx.Bucket([]byte(BucketJobs)).Get([]byte(id))
	if data == nil {
		return job, jobstore.NewErrJobNotFound(id)
	}
	err := json.Unmarshal(data, &job)
	return job, err
}

func putJob(tx *bolt.Tx, job models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return tx.Bucket([]byte(BucketJobs)).Put([]byte(job.ID), data)
}

// appendEvent writes an event under the job's event bucket keyed by a
// monotonic sequence so iteration returns events in append order.
func appendEvent(tx *bolt.Tx, event models.JobEvent) error {
	bkt, err := tx.Bucket([]byte(BucketJobEvents)).CreateBucketIfNotExists([]byte(event.JobID))
	if err != nil {
		return err
	}
	seq, err := bkt.NextSequence()
	if err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return bkt.Put(sequenceKey(seq), data)
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8) //nolint:gomnd
	binary.BigEndian.PutUint64(key, seq)
	return key
}

var _ jobstore.Store = (*BoltJobStore)(nil)
