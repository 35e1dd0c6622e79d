package processsampler

import (
	"strings"
	"time"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
)

// Tracker reconstructs query lifecycles from successive processlist
// snapshots. A query is tracked once its elapsed time reaches the threshold
// and finalized on the first cycle its pid is absent from the snapshot.
//
// A Tracker is owned exclusively by one sampler loop; Observe is never called
// concurrently.
type Tracker struct {
	instance  string
	threshold int64
	cache     map[int64]*datamodels.TrackedQuery
	now       func() time.Time
}

func NewTracker(instance string, thresholdSeconds int) *Tracker {
	return &Tracker{
		instance:  instance,
		threshold: int64(thresholdSeconds),
		cache:     make(map[int64]*datamodels.TrackedQuery),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Observe folds one snapshot into the cache and returns the records for
// every query that finished since the previous snapshot.
func (t *Tracker) Observe(rows []datamodels.QuerySnapshotRow) []datamodels.FinalizedQueryRecord {
	now := t.now()
	currentPIDs := make(map[int64]struct{}, len(rows))

	for _, row := range rows {
		currentPIDs[row.PID] = struct{}{}
		if row.Elapsed < t.threshold {
			// Below the floor the query is invisible to the tracker. If it
			// never crosses the threshold it is never reported.
			continue
		}
		t.upsert(row, now)
	}

	var finished []datamodels.FinalizedQueryRecord
	for pid, entry := range t.cache {
		if _, alive := currentPIDs[pid]; alive {
			continue
		}
		delete(t.cache, pid)

		record := entry.LastDetails
		record.Time = entry.MaxElapsed
		record.End = now
		finished = append(finished, record)
	}

	return finished
}

func (t *Tracker) upsert(row datamodels.QuerySnapshotRow, now time.Time) {
	entry, exists := t.cache[row.PID]
	if !exists {
		// The true start is unknowable from sampling; now-elapsed is an
		// estimate with error bounded by the polling interval and is fixed
		// at first observation.
		start := time.Unix(now.Add(-time.Duration(row.Elapsed)*time.Second).Unix(), 0).UTC()
		entry = &datamodels.TrackedQuery{
			MaxElapsed: row.Elapsed,
			Start:      start,
		}
		t.cache[row.PID] = entry
	} else if row.Elapsed > entry.MaxElapsed {
		// Running maximum: a downward fluctuation of the reported elapsed
		// time must not reduce the recorded peak.
		entry.MaxElapsed = row.Elapsed
	}

	entry.LastDetails = datamodels.FinalizedQueryRecord{
		Instance: t.instance,
		DB:       row.DB,
		PID:      row.PID,
		User:     row.User,
		Host:     row.Host,
		Time:     row.Elapsed,
		SQLText:  cleanQueryText(row.QueryText),
		Start:    entry.Start,
	}
}

// TrackedCount reports how many pids are currently cached.
func (t *Tracker) TrackedCount() int {
	return len(t.cache)
}

func cleanQueryText(info *string) string {
	if info == nil {
		return ""
	}
	return strings.Join(strings.Fields(*info), " ")
}
