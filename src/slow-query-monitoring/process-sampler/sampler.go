package processsampler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
	constants "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/constants"
	queries "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/queries"
	utils "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/utils"
)

// State is the sampler lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// RealtimeStore persists finalized slow-query records. Implementations must
// be idempotent on the natural key (pid, instance, db, start).
type RealtimeStore interface {
	FindRealtimeRecord(ctx context.Context, instance, db string, pid int64, start time.Time) (bool, error)
	InsertRealtimeRecord(ctx context.Context, record datamodels.FinalizedQueryRecord) error
}

// Sampler polls one instance's processlist on a fixed interval and feeds each
// snapshot to its lifecycle tracker. Stop is cooperative: the flag is only
// observed between cycles, never mid-query or mid-write.
type Sampler struct {
	instance      string
	db            utils.DataSource
	tracker       *Tracker
	store         RealtimeStore
	interval      time.Duration
	excludedDBs   []string
	excludedUsers []string

	state    atomic.Int32
	stopCh   chan struct{}
	stopOnce sync.Once
	log      *logrus.Entry
}

type Config struct {
	Instance      string
	Interval      time.Duration
	Threshold     int
	ExcludedDBs   []string
	ExcludedUsers []string
}

func NewSampler(cfg Config, db utils.DataSource, store RealtimeStore) *Sampler {
	return &Sampler{
		instance:      cfg.Instance,
		db:            db,
		tracker:       NewTracker(cfg.Instance, cfg.Threshold),
		store:         store,
		interval:      cfg.Interval,
		excludedDBs:   cfg.ExcludedDBs,
		excludedUsers: cfg.ExcludedUsers,
		stopCh:        make(chan struct{}),
		log:           logrus.WithField("instance", cfg.Instance),
	}
}

// Run executes sampling cycles until Stop is called or ctx is cancelled.
// A failed cycle is logged and the loop continues; Run itself only returns
// on shutdown.
func (s *Sampler) Run(ctx context.Context) {
	s.state.Store(int32(StateRunning))
	s.log.Info("Starting slow query monitoring")

	defer func() {
		s.state.Store(int32(StateStopped))
		s.db.Close()
		s.log.Info("Slow query monitoring stopped")
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := s.sampleCycle(ctx); err != nil {
			s.log.WithError(err).Error("Error querying MySQL instance")
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(s.interval):
		}
	}
}

// Stop signals the loop to exit after its in-flight cycle. Safe to call
// multiple times and concurrently with Run.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		close(s.stopCh)
	})
}

// State reports the current lifecycle state.
func (s *Sampler) State() State {
	return State(s.state.Load())
}

func (s *Sampler) sampleCycle(ctx context.Context) error {
	query, args, err := sqlx.In(queries.ProcessList, s.excludedDBs, s.excludedUsers)
	if err != nil {
		return err
	}
	query = s.db.Rebind(query)

	queryCtx, cancel := context.WithTimeout(ctx, constants.QueryTimeoutDuration)
	defer cancel()

	rows, err := utils.CollectRows[datamodels.QuerySnapshotRow](queryCtx, s.db, query, args...)
	if err != nil {
		return err
	}

	for _, record := range s.tracker.Observe(rows) {
		s.persistFinalized(ctx, record)
	}
	return nil
}

// persistFinalized writes one finalized record, guarded by a natural-key
// pre-check so a replayed finalize event cannot produce a duplicate document.
func (s *Sampler) persistFinalized(ctx context.Context, record datamodels.FinalizedQueryRecord) {
	writeCtx, cancel := context.WithTimeout(ctx, constants.PersistTimeoutDuration)
	defer cancel()

	exists, err := s.store.FindRealtimeRecord(writeCtx, record.Instance, record.DB, record.PID, record.Start)
	if err != nil {
		s.log.WithError(err).Error("Failed to check for existing slow query record")
		return
	}
	if exists {
		return
	}

	if err := s.store.InsertRealtimeRecord(writeCtx, record); err != nil {
		s.log.WithError(err).Error("Failed to insert slow query record")
		return
	}

	s.log.WithFields(logrus.Fields{
		"db":             record.DB,
		"pid":            record.PID,
		"execution_time": record.Time,
	}).Info("Inserted slow query record")
}
