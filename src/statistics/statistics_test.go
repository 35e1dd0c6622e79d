package statistics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
)

func digestDoc(date, instance, query string, count int64, totalTime float64, users ...string) datamodels.DigestDocument {
	return datamodels.DigestDocument{
		Date:       date,
		InstanceID: instance,
		DigestRecord: datamodels.DigestRecord{
			DigestQuery:     query,
			ExecutionCount:  count,
			TotalTime:       totalTime,
			AvgTime:         totalTime / float64(count),
			AvgRowsExamined: 10,
			Users:           users,
		},
	}
}

func monthDocs() []datamodels.DigestDocument {
	return []datamodels.DigestDocument{
		digestDoc("2024-08-01", "orders-prod", "SELECT * FROM orders WHERE id = ?", 4, 12.0, "appuser"),
		digestDoc("2024-08-02", "orders-prod", "SELECT * FROM orders WHERE id = ?", 6, 18.0, "appuser", "batch"),
		digestDoc("2024-08-02", "orders-prod", "UPDATE orders SET status = ? WHERE id = ?", 2, 4.0, "batch"),
		digestDoc("2024-08-05", "billing-prod", "ALTER TABLE invoices ADD COLUMN note VARCHAR(?)", 1, 30.0, "dba"),
	}
}

func TestBuildMonthlyAggregatesPerInstance(t *testing.T) {
	createdAt := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	stats := BuildMonthly(monthDocs(), "2024-08", createdAt)

	require.Len(t, stats, 2)

	billing, orders := stats[0], stats[1]
	assert.Equal(t, "billing-prod", billing.InstanceID)
	assert.Equal(t, "orders-prod", orders.InstanceID)

	assert.Equal(t, int64(2), orders.UniqueDigestCount)
	assert.Equal(t, int64(3), orders.TotalSlowQueryCount)
	assert.Equal(t, int64(12), orders.TotalExecutionCount)
	assert.InDelta(t, 34.0, orders.TotalExecutionTime, 0.0001)
	assert.InDelta(t, 34.0/12.0, orders.AvgExecutionTime, 0.0001)
	assert.Equal(t, int64(120), orders.TotalRowsExamined)
	assert.Equal(t, int64(10), orders.ReadQueryCount)
	assert.Equal(t, int64(2), orders.WriteQueryCount)
	assert.Equal(t, int64(0), orders.DDLQueryCount)

	assert.Equal(t, int64(1), billing.DDLQueryCount)
	assert.Equal(t, "2024-08", billing.Month)
	assert.Equal(t, createdAt, billing.CreatedAt)
}

func TestBuildPerUserCountsEveryAttributedUser(t *testing.T) {
	createdAt := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	stats := BuildPerUser(monthDocs(), "2024-08", createdAt)

	require.Len(t, stats, 4)

	byUser := map[string]datamodels.UserStatistic{}
	for _, stat := range stats {
		byUser[stat.InstanceID+"/"+stat.User] = stat
	}

	appuser := byUser["orders-prod/appuser"]
	assert.Equal(t, int64(2), appuser.TotalQueries)
	assert.Equal(t, int64(10), appuser.TotalExecutionCount)
	assert.InDelta(t, 3.0, appuser.AvgExecutionTime, 0.0001)
	assert.Equal(t, int64(10), appuser.ReadQueryCount)

	batch := byUser["orders-prod/batch"]
	assert.Equal(t, int64(2), batch.TotalQueries)
	assert.Equal(t, int64(8), batch.TotalExecutionCount)
	assert.Equal(t, int64(6), batch.ReadQueryCount)
	assert.Equal(t, int64(2), batch.WriteQueryCount)

	dba := byUser["billing-prod/dba"]
	assert.Equal(t, int64(1), dba.DDLQueryCount)
}

func TestBuildMonthlyEmptyInput(t *testing.T) {
	assert.Empty(t, BuildMonthly(nil, "2024-08", time.Now()))
	assert.Empty(t, BuildPerUser(nil, "2024-08", time.Now()))
}

type fakeSource struct {
	docs []datamodels.DigestDocument
	err  error
}

func (f *fakeSource) FindDigestsByMonth(context.Context, string) ([]datamodels.DigestDocument, error) {
	return f.docs, f.err
}

type fakeSink struct {
	monthly     []datamodels.MonthlyStatistic
	perUser     []datamodels.UserStatistic
	monthlyErr  error
	replaceDone bool
}

func (f *fakeSink) ReplaceMonthlyStatistics(_ context.Context, _ string, stats []datamodels.MonthlyStatistic) error {
	if f.monthlyErr != nil {
		return f.monthlyErr
	}
	f.monthly = stats
	return nil
}

func (f *fakeSink) ReplaceUserStatistics(_ context.Context, _ string, stats []datamodels.UserStatistic) error {
	f.perUser = stats
	f.replaceDone = true
	return nil
}

func TestRunMonthReplacesBothRollups(t *testing.T) {
	sink := &fakeSink{}
	rollup := NewRollup(&fakeSource{docs: monthDocs()}, sink)

	require.NoError(t, rollup.RunMonth(context.Background(), "2024-08"))

	assert.Len(t, sink.monthly, 2)
	assert.Len(t, sink.perUser, 4)
	assert.True(t, sink.replaceDone)
}

func TestRunMonthRejectsMalformedMonth(t *testing.T) {
	rollup := NewRollup(&fakeSource{}, &fakeSink{})
	err := rollup.RunMonth(context.Background(), "August 2024")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid month")
}

func TestRunMonthStopsOnSinkError(t *testing.T) {
	sink := &fakeSink{monthlyErr: errors.New("write concern failed")}
	rollup := NewRollup(&fakeSource{docs: monthDocs()}, sink)

	err := rollup.RunMonth(context.Background(), "2024-08")
	require.Error(t, err)
	assert.False(t, sink.replaceDone)
}
