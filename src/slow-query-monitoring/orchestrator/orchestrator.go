package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
	processsampler "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/process-sampler"
	utils "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/utils"
)

// Settings carries the per-monitor configuration shared by every instance.
type Settings struct {
	MgmtUser      string
	MgmtPassword  string
	Threshold     int
	Interval      time.Duration
	ExcludedDBs   []string
	ExcludedUsers []string
}

// OpenDataSource is swappable in tests.
type OpenDataSource func(dsn string) (utils.DataSource, error)

// Orchestrator owns the set of running per-instance monitors. It is an
// explicit object handed to its callers, never a package-level registry.
type Orchestrator struct {
	settings Settings
	store    processsampler.RealtimeStore
	openDB   OpenDataSource

	mu       sync.Mutex
	monitors map[string]*monitor
	wg       sync.WaitGroup
	log      *logrus.Entry
}

type monitor struct {
	sampler *processsampler.Sampler
}

func New(settings Settings, store processsampler.RealtimeStore) *Orchestrator {
	return &Orchestrator{
		settings: settings,
		store:    store,
		openDB:   utils.OpenSQLXDB,
		monitors: make(map[string]*monitor),
		log:      logrus.WithField("component", "orchestrator"),
	}
}

// StartAll launches one sampling loop per instance. An instance whose
// connection pool cannot be opened is logged and skipped; the others proceed.
// Instances already running are left untouched.
func (o *Orchestrator) StartAll(ctx context.Context, instances []datamodels.Instance) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	started := 0
	for _, instance := range instances {
		if _, running := o.monitors[instance.Name]; running {
			continue
		}

		dsn := utils.GenerateDSN(o.settings.MgmtUser, o.settings.MgmtPassword, instance.Host, instance.Port, "performance_schema")
		db, err := o.openDB(dsn)
		if err != nil {
			o.log.WithError(err).WithField("instance", instance.Name).Error("Failed to initialize monitor")
			continue
		}

		sampler := processsampler.NewSampler(processsampler.Config{
			Instance:      instance.Name,
			Interval:      o.settings.Interval,
			Threshold:     o.settings.Threshold,
			ExcludedDBs:   o.settings.ExcludedDBs,
			ExcludedUsers: o.settings.ExcludedUsers,
		}, db, o.store)

		m := &monitor{sampler: sampler}
		o.monitors[instance.Name] = m

		o.wg.Add(1)
		go func(name string) {
			defer o.wg.Done()
			sampler.Run(ctx)

			o.mu.Lock()
			delete(o.monitors, name)
			o.mu.Unlock()
		}(instance.Name)
		started++
	}

	if started == 0 && len(instances) > 0 {
		return fmt.Errorf("no monitors could be initialized for %d instances", len(instances))
	}
	o.log.Infof("Started %d of %d instance monitors", started, len(instances))
	return nil
}

// StopAll signals every running sampler and waits for each loop to finish its
// in-flight cycle and exit. Monitors that fail to exit within the grace
// period are reported, one error per instance.
func (o *Orchestrator) StopAll(gracePeriod time.Duration) error {
	o.mu.Lock()
	for name, m := range o.monitors {
		o.log.WithField("instance", name).Info("Stopping monitor")
		m.sampler.Stop()
	}
	o.mu.Unlock()

	allDone := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(allDone)
	}()

	select {
	case <-allDone:
		return nil
	case <-time.After(gracePeriod):
	}

	// Monitors remove themselves on exit, so whatever is left is stuck.
	var errs error
	o.mu.Lock()
	for name := range o.monitors {
		errs = multierr.Append(errs, fmt.Errorf("monitor %s did not stop within %s", name, gracePeriod))
	}
	o.mu.Unlock()
	return errs
}

// Status reports which instances currently have an active monitor task.
func (o *Orchestrator) Status() map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := make(map[string]bool, len(o.monitors))
	for name, m := range o.monitors {
		status[name] = m.sampler.State() == processsampler.StateRunning
	}
	return status
}
