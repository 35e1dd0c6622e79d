package logdigest

import (
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
	slowlogparser "github.com/dba-platform/rds-slowquery-monitor/src/log-digest-collection/slow-log-parser"
	constants "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/constants"
	querynormalizer "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/query-normalizer"
)

// AggregateStats counts what happened to the input events, for logging and
// progress reporting.
type AggregateStats struct {
	TotalEvents   int
	ParsedEntries int
	SkippedUsers  int
	DroppedEvents int
	UniqueDigests int
}

type digestAccumulator struct {
	examples       []string
	exampleSeen    map[string]struct{}
	executionCount int64
	totalTime      float64
	lockTime       float64
	rowsSent       int64
	rowsExamined   int64
	users          map[string]struct{}
	hosts          map[string]struct{}
	firstSeen      time.Time
	lastSeen       time.Time
}

// Aggregate parses raw log events and folds them into per-digest statistics.
// The result is ordered by average query time descending; consumers rely on
// that ordering.
func Aggregate(events []datamodels.RawLogEvent) ([]datamodels.DigestRecord, AggregateStats) {
	stats := AggregateStats{TotalEvents: len(events)}
	accumulators := make(map[string]*digestAccumulator)

	for _, event := range events {
		entries := slowlogparser.Parse(event.Message)
		if len(entries) == 0 {
			stats.DroppedEvents++
			continue
		}

		for _, entry := range entries {
			if isExcludedUser(entry.User) {
				stats.SkippedUsers++
				continue
			}
			stats.ParsedEntries++
			fold(accumulators, entry)
		}
	}

	records := make([]datamodels.DigestRecord, 0, len(accumulators))
	for digest, acc := range accumulators {
		count := float64(acc.executionCount)
		records = append(records, datamodels.DigestRecord{
			DigestQuery:     digest,
			ExampleQueries:  acc.examples,
			ExecutionCount:  acc.executionCount,
			AvgTime:         acc.totalTime / count,
			TotalTime:       acc.totalTime,
			AvgLockTime:     acc.lockTime / count,
			AvgRowsSent:     float64(acc.rowsSent) / count,
			AvgRowsExamined: float64(acc.rowsExamined) / count,
			Users:           sortedKeys(acc.users),
			Hosts:           sortedKeys(acc.hosts),
			FirstSeen:       acc.firstSeen.Format(time.RFC3339),
			LastSeen:        acc.lastSeen.Format(time.RFC3339),
		})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].AvgTime > records[j].AvgTime })

	stats.UniqueDigests = len(records)
	logrus.WithFields(logrus.Fields{
		"total":   stats.TotalEvents,
		"parsed":  stats.ParsedEntries,
		"skipped": stats.SkippedUsers,
		"dropped": stats.DroppedEvents,
		"digests": stats.UniqueDigests,
	}).Info("Aggregated slow query log events")

	return records, stats
}

func fold(accumulators map[string]*digestAccumulator, entry datamodels.ParsedSlowLogEntry) {
	// Drop the statement terminator so digests line up with the realtime
	// side, which samples from the processlist without one.
	queryText := strings.TrimSuffix(strings.TrimSpace(entry.QueryText), ";")
	digest := querynormalizer.Normalize(queryText)

	acc, exists := accumulators[digest]
	if !exists {
		acc = &digestAccumulator{
			exampleSeen: make(map[string]struct{}),
			users:       make(map[string]struct{}),
			hosts:       make(map[string]struct{}),
		}
		accumulators[digest] = acc
	}

	acc.executionCount++
	acc.totalTime += entry.QueryTime
	acc.lockTime += entry.LockTime
	acc.rowsSent += entry.RowsSent
	acc.rowsExamined += entry.RowsExamined
	acc.users[entry.User] = struct{}{}
	acc.hosts[entry.Host] = struct{}{}

	example := queryText
	if _, seen := acc.exampleSeen[example]; !seen && len(acc.examples) < constants.MaxExampleQueries {
		acc.exampleSeen[example] = struct{}{}
		acc.examples = append(acc.examples, example)
	}

	// First/last seen come from the timestamp embedded in the entry, not
	// the log delivery time.
	seen := time.Unix(entry.Timestamp, 0).UTC()
	if acc.firstSeen.IsZero() || seen.Before(acc.firstSeen) {
		acc.firstSeen = seen
	}
	if acc.lastSeen.IsZero() || seen.After(acc.lastSeen) {
		acc.lastSeen = seen
	}
}

func isExcludedUser(user string) bool {
	lowered := strings.ToLower(user)
	for _, excluded := range constants.DefaultExcludedLogUsers {
		if strings.Contains(lowered, excluded) {
			return true
		}
	}
	return false
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
