package logdigest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
	cloudwatch "github.com/dba-platform/rds-slowquery-monitor/src/log-digest-collection/cloudwatch"
	progress "github.com/dba-platform/rds-slowquery-monitor/src/progress"
	constants "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/constants"
	timeutils "github.com/dba-platform/rds-slowquery-monitor/src/time-utils"
)

// StreamFetcher pulls raw slow log events for one instance over a time
// window.
type StreamFetcher interface {
	Fetch(ctx context.Context, instance string, window cloudwatch.TimeWindow) ([]datamodels.RawLogEvent, error)
}

// DigestStore is the persistence side of a collection run.
type DigestStore interface {
	UpsertDigest(ctx context.Context, doc datamodels.DigestDocument) error
}

// InstanceLister supplies the set of instances to collect for.
type InstanceLister interface {
	All(ctx context.Context) ([]datamodels.Instance, error)
}

// CollectorConfig tunes one Collector.
type CollectorConfig struct {
	// InstanceChunkSize bounds how many instances are fetched concurrently.
	InstanceChunkSize int
}

func (c CollectorConfig) withDefaults() CollectorConfig {
	if c.InstanceChunkSize <= 0 {
		c.InstanceChunkSize = 5
	}
	return c
}

// Collector runs batch slow-log digest collection: it fetches CloudWatch log
// events per instance, folds them into digests and persists one document per
// (date, instance, digest).
type Collector struct {
	fetcher   StreamFetcher
	store     DigestStore
	instances InstanceLister
	config    CollectorConfig
	display   timeutils.Converter
	log       *logrus.Entry

	now func() time.Time
}

// NewCollector wires a collector. display renders the document created_at
// stamp; everything else the collector stores stays UTC.
func NewCollector(fetcher StreamFetcher, store DigestStore, instances InstanceLister, display timeutils.Converter, config CollectorConfig) *Collector {
	return &Collector{
		fetcher:   fetcher,
		store:     store,
		instances: instances,
		config:    config.withDefaults(),
		display:   display,
		log:       logrus.WithField("component", "digest-collector"),
		now:       time.Now,
	}
}

type dailyDigests struct {
	instance string
	date     string
	records  []datamodels.DigestRecord
}

// CollectRange collects digests for every UTC day in [start, end). The fetch
// phase reports progress from 5 to 80 percent across instances, the persist
// phase from 80 to 100 across per-day saves. A failing instance is logged and
// skipped; its failure does not abort the run.
func (c *Collector) CollectRange(ctx context.Context, start, end time.Time, reporter progress.Reporter) error {
	runID := uuid.NewString()
	log := c.log.WithField("run_id", runID)

	instances, err := c.instances.All(ctx)
	if err != nil {
		reporter.Report(progress.Report{RunID: runID, Status: progress.StatusError, Message: err.Error()})
		return err
	}

	days := daysBetween(start, end)
	if len(days) == 0 {
		return fmt.Errorf("empty collection range %s to %s", start, end)
	}

	reporter.Report(progress.Report{
		RunID:   runID,
		Status:  progress.StatusStarted,
		Percent: progress.Percent(5),
		Message: fmt.Sprintf("Collecting slow query digests for %d instances over %d days", len(instances), len(days)),
	})

	results, fetchErr := c.fetchAll(ctx, runID, instances, days, reporter)
	if ctx.Err() != nil {
		reporter.Report(progress.Report{RunID: runID, Status: progress.StatusError, Message: ctx.Err().Error()})
		return ctx.Err()
	}

	saveErr := c.persistAll(ctx, runID, results, reporter)

	if err := multierr.Combine(fetchErr, saveErr); err != nil {
		reporter.Report(progress.Report{RunID: runID, Status: progress.StatusError, Message: err.Error()})
		return err
	}

	reporter.Report(progress.Report{
		RunID:   runID,
		Status:  progress.StatusCompleted,
		Percent: progress.Percent(100),
		Message: "Slow query digest collection completed",
	})
	log.WithField("instances", len(instances)).Info("Digest collection run finished")
	return nil
}

func (c *Collector) fetchAll(ctx context.Context, runID string, instances []datamodels.Instance, days []time.Time, reporter progress.Reporter) ([]dailyDigests, error) {
	var (
		mu      sync.Mutex
		results []dailyDigests
		errs    error
		done    int
	)

	for chunkStart := 0; chunkStart < len(instances); chunkStart += c.config.InstanceChunkSize {
		if ctx.Err() != nil {
			return results, errs
		}

		chunkEnd := chunkStart + c.config.InstanceChunkSize
		if chunkEnd > len(instances) {
			chunkEnd = len(instances)
		}

		var wg sync.WaitGroup
		for _, instance := range instances[chunkStart:chunkEnd] {
			wg.Add(1)
			go func(instance datamodels.Instance) {
				defer wg.Done()

				daily, err := c.collectInstance(ctx, instance, days)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					c.log.WithError(err).WithField("instance", instance.Name).Error("Skipping instance after collection failure")
					errs = multierr.Append(errs, fmt.Errorf("instance %s: %w", instance.Name, err))
				} else {
					results = append(results, daily...)
				}
				done++
				percent := 5 + 75*float64(done)/float64(len(instances))
				reporter.Report(progress.Report{
					RunID:   runID,
					Status:  progress.StatusInProgress,
					Percent: progress.Percent(percent),
					Message: fmt.Sprintf("Collected %s (%d/%d)", instance.Name, done, len(instances)),
				})
			}(instance)
		}
		wg.Wait()
	}

	return results, errs
}

func (c *Collector) collectInstance(ctx context.Context, instance datamodels.Instance, days []time.Time) ([]dailyDigests, error) {
	var daily []dailyDigests
	for _, day := range days {
		window := cloudwatch.TimeWindow{Start: day, End: day.Add(24 * time.Hour)}
		events, err := c.fetcher.Fetch(ctx, instance.Name, window)
		if err != nil {
			return nil, fmt.Errorf("fetching logs for %s: %w", day.Format(constants.DateFormat), err)
		}
		if len(events) == 0 {
			continue
		}

		records, _ := Aggregate(events)
		if len(records) == 0 {
			continue
		}
		daily = append(daily, dailyDigests{
			instance: instance.Name,
			date:     day.Format(constants.DateFormat),
			records:  records,
		})
	}
	return daily, nil
}

func (c *Collector) persistAll(ctx context.Context, runID string, results []dailyDigests, reporter progress.Reporter) error {
	var errs error
	createdAt := c.display.FormatDisplay(c.now())

	for i, daily := range results {
		for _, record := range daily.records {
			doc := datamodels.DigestDocument{
				Date:         daily.date,
				InstanceID:   daily.instance,
				CreatedAt:    createdAt,
				DigestRecord: record,
			}
			if err := c.store.UpsertDigest(ctx, doc); err != nil {
				// A single bad record must not sink the rest of the
				// day's batch.
				c.log.WithError(err).WithFields(logrus.Fields{
					"instance": daily.instance,
					"date":     daily.date,
					"digest":   record.DigestQuery,
				}).Error("Skipping digest after persistence failure")
				errs = multierr.Append(errs, fmt.Errorf("saving digest for %s/%s: %w", daily.instance, daily.date, err))
				continue
			}
		}

		percent := 80 + 20*float64(i+1)/float64(len(results))
		reporter.Report(progress.Report{
			RunID:   runID,
			Status:  progress.StatusInProgress,
			Percent: progress.Percent(percent),
			Message: fmt.Sprintf("Saved digests for %s on %s", daily.instance, daily.date),
		})
	}
	return errs
}

// daysBetween returns the UTC midnights covering [start, end).
func daysBetween(start, end time.Time) []time.Time {
	start = start.UTC()
	end = end.UTC()

	var days []time.Time
	for day := start.Truncate(24 * time.Hour); day.Before(end); day = day.Add(24 * time.Hour) {
		days = append(days, day)
	}
	return days
}
