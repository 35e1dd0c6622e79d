package statistics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
	constants "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/constants"
	querynormalizer "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/query-normalizer"
)

// DigestSource is the read side of the monthly rollup.
type DigestSource interface {
	FindDigestsByMonth(ctx context.Context, month string) ([]datamodels.DigestDocument, error)
}

// StatisticsSink persists rollups with replace-by-month semantics: re-running
// a month yields the same stored state.
type StatisticsSink interface {
	ReplaceMonthlyStatistics(ctx context.Context, month string, stats []datamodels.MonthlyStatistic) error
	ReplaceUserStatistics(ctx context.Context, month string, stats []datamodels.UserStatistic) error
}

// Rollup derives per-instance and per-user monthly statistics from the
// persisted digest documents.
type Rollup struct {
	source DigestSource
	sink   StatisticsSink
	log    *logrus.Entry

	now func() time.Time
}

func NewRollup(source DigestSource, sink StatisticsSink) *Rollup {
	return &Rollup{
		source: source,
		sink:   sink,
		log:    logrus.WithField("component", "statistics"),
		now:    time.Now,
	}
}

// RunMonth recomputes and replaces both rollups for month (formatted
// YYYY-MM).
func (r *Rollup) RunMonth(ctx context.Context, month string) error {
	if _, err := time.Parse(constants.MonthFormat, month); err != nil {
		return fmt.Errorf("invalid month %q: %w", month, err)
	}

	docs, err := r.source.FindDigestsByMonth(ctx, month)
	if err != nil {
		return err
	}

	createdAt := r.now().UTC()
	monthly := BuildMonthly(docs, month, createdAt)
	perUser := BuildPerUser(docs, month, createdAt)

	if err := r.sink.ReplaceMonthlyStatistics(ctx, month, monthly); err != nil {
		return err
	}
	if err := r.sink.ReplaceUserStatistics(ctx, month, perUser); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"month":      month,
		"digests":    len(docs),
		"instances":  len(monthly),
		"user_stats": len(perUser),
	}).Info("Monthly statistics rollup finished")
	return nil
}

// BuildMonthly folds digest documents into one statistic per instance.
func BuildMonthly(docs []datamodels.DigestDocument, month string, createdAt time.Time) []datamodels.MonthlyStatistic {
	type accumulator struct {
		stat    datamodels.MonthlyStatistic
		digests map[string]struct{}
	}
	byInstance := make(map[string]*accumulator)

	for _, doc := range docs {
		acc, ok := byInstance[doc.InstanceID]
		if !ok {
			acc = &accumulator{
				stat: datamodels.MonthlyStatistic{
					InstanceID: doc.InstanceID,
					Month:      month,
					CreatedAt:  createdAt,
				},
				digests: make(map[string]struct{}),
			}
			byInstance[doc.InstanceID] = acc
		}

		acc.digests[doc.DigestQuery] = struct{}{}
		acc.stat.TotalSlowQueryCount++
		acc.stat.TotalExecutionCount += doc.ExecutionCount
		acc.stat.TotalExecutionTime += doc.TotalTime
		acc.stat.TotalRowsExamined += int64(math.Round(doc.AvgRowsExamined * float64(doc.ExecutionCount)))

		addClassCounts(doc, &acc.stat.ReadQueryCount, &acc.stat.WriteQueryCount, &acc.stat.DDLQueryCount, &acc.stat.CommitQueryCount)
	}

	stats := make([]datamodels.MonthlyStatistic, 0, len(byInstance))
	for _, acc := range byInstance {
		acc.stat.UniqueDigestCount = int64(len(acc.digests))
		if acc.stat.TotalExecutionCount > 0 {
			acc.stat.AvgExecutionTime = acc.stat.TotalExecutionTime / float64(acc.stat.TotalExecutionCount)
		}
		stats = append(stats, acc.stat)
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].InstanceID < stats[j].InstanceID })
	return stats
}

// BuildPerUser folds digest documents into one statistic per (instance,
// user). A digest executed by several users counts fully toward each; the
// slow log does not attribute individual executions.
func BuildPerUser(docs []datamodels.DigestDocument, month string, createdAt time.Time) []datamodels.UserStatistic {
	type key struct {
		instance string
		user     string
	}
	byUser := make(map[key]*datamodels.UserStatistic)

	for _, doc := range docs {
		for _, user := range doc.Users {
			k := key{instance: doc.InstanceID, user: user}
			stat, ok := byUser[k]
			if !ok {
				stat = &datamodels.UserStatistic{
					InstanceID: doc.InstanceID,
					Month:      month,
					User:       user,
					CreatedAt:  createdAt,
				}
				byUser[k] = stat
			}

			stat.TotalQueries++
			stat.TotalExecutionCount += doc.ExecutionCount
			stat.TotalExecutionTime += doc.TotalTime
			addClassCounts(doc, &stat.ReadQueryCount, &stat.WriteQueryCount, &stat.DDLQueryCount, &stat.CommitQueryCount)
		}
	}

	stats := make([]datamodels.UserStatistic, 0, len(byUser))
	for _, stat := range byUser {
		if stat.TotalExecutionCount > 0 {
			stat.AvgExecutionTime = stat.TotalExecutionTime / float64(stat.TotalExecutionCount)
		}
		stats = append(stats, *stat)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].InstanceID != stats[j].InstanceID {
			return stats[i].InstanceID < stats[j].InstanceID
		}
		return stats[i].User < stats[j].User
	})
	return stats
}

func addClassCounts(doc datamodels.DigestDocument, read, write, ddl, commit *int64) {
	switch querynormalizer.Classify(doc.DigestQuery) {
	case querynormalizer.ClassRead:
		*read += doc.ExecutionCount
	case querynormalizer.ClassWrite:
		*write += doc.ExecutionCount
	case querynormalizer.ClassDDL:
		*ddl += doc.ExecutionCount
	case querynormalizer.ClassTransaction:
		*commit += doc.ExecutionCount
	}
}
