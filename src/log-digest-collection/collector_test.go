package logdigest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
	cloudwatch "github.com/dba-platform/rds-slowquery-monitor/src/log-digest-collection/cloudwatch"
	progress "github.com/dba-platform/rds-slowquery-monitor/src/progress"
	timeutils "github.com/dba-platform/rds-slowquery-monitor/src/time-utils"
)

type fakeFetcher struct {
	mu     sync.Mutex
	events map[string][]datamodels.RawLogEvent
	fails  map[string]error
	calls  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, instance string, _ cloudwatch.TimeWindow) ([]datamodels.RawLogEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, instance)
	if err, ok := f.fails[instance]; ok {
		return nil, err
	}
	return f.events[instance], nil
}

type fakeDigestStore struct {
	mu         sync.Mutex
	docs       []datamodels.DigestDocument
	err        error
	failDigest string
}

func (s *fakeDigestStore) UpsertDigest(_ context.Context, doc datamodels.DigestDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.failDigest != "" && doc.DigestQuery == s.failDigest {
		return errors.New("write concern failed")
	}
	s.docs = append(s.docs, doc)
	return nil
}

// keyedDigestStore keeps the last written document per digest key, matching
// the upsert semantics of the real store.
type keyedDigestStore struct {
	mu   sync.Mutex
	docs map[string]datamodels.DigestDocument
}

func newKeyedDigestStore() *keyedDigestStore {
	return &keyedDigestStore{docs: make(map[string]datamodels.DigestDocument)}
}

func (s *keyedDigestStore) UpsertDigest(_ context.Context, doc datamodels.DigestDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.Date+"|"+doc.InstanceID+"|"+doc.DigestQuery] = doc
	return nil
}

type fakeLister struct {
	instances []datamodels.Instance
	err       error
}

func (l *fakeLister) All(context.Context) ([]datamodels.Instance, error) {
	return l.instances, l.err
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []progress.Report
}

func (r *recordingReporter) Report(report progress.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *recordingReporter) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var statuses []string
	for _, report := range r.reports {
		statuses = append(statuses, report.Status)
	}
	return statuses
}

func instanceNamed(name string) datamodels.Instance {
	return datamodels.Instance{Name: name, Host: name + ".example.com", Port: 3306}
}

func eventFor(query string) datamodels.RawLogEvent {
	return datamodels.RawLogEvent{
		Message: slowLogMessage("appuser", "10.0.0.1", 3.0, 1722470400, query),
	}
}

func utcDay(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestCollectRangePersistsPerInstanceDigests(t *testing.T) {
	fetcher := &fakeFetcher{events: map[string][]datamodels.RawLogEvent{
		"orders-prod":  {eventFor("SELECT * FROM orders WHERE id = 1")},
		"billing-prod": {eventFor("SELECT * FROM invoices WHERE id = 9")},
	}}
	store := &fakeDigestStore{}
	lister := &fakeLister{instances: []datamodels.Instance{instanceNamed("orders-prod"), instanceNamed("billing-prod")}}
	reporter := &recordingReporter{}

	collector := NewCollector(fetcher, store, lister, displayKST(t), CollectorConfig{InstanceChunkSize: 2})
	err := collector.CollectRange(context.Background(), utcDay(2024, 8, 1), utcDay(2024, 8, 2), reporter)
	require.NoError(t, err)

	require.Len(t, store.docs, 2)
	instances := map[string]bool{}
	for _, doc := range store.docs {
		instances[doc.InstanceID] = true
		assert.Equal(t, "2024-08-01", doc.Date)
		assert.NotEmpty(t, doc.DigestQuery)
	}
	assert.True(t, instances["orders-prod"])
	assert.True(t, instances["billing-prod"])

	statuses := reporter.statuses()
	assert.Equal(t, progress.StatusStarted, statuses[0])
	assert.Equal(t, progress.StatusCompleted, statuses[len(statuses)-1])

	last := reporter.reports[len(reporter.reports)-1]
	require.NotNil(t, last.Percent)
	assert.Equal(t, float64(100), *last.Percent)
}

func TestCollectRangeCoversEveryDay(t *testing.T) {
	fetcher := &fakeFetcher{events: map[string][]datamodels.RawLogEvent{
		"orders-prod": {eventFor("SELECT 1")},
	}}
	store := &fakeDigestStore{}
	lister := &fakeLister{instances: []datamodels.Instance{instanceNamed("orders-prod")}}

	collector := NewCollector(fetcher, store, lister, displayKST(t), CollectorConfig{})
	err := collector.CollectRange(context.Background(), utcDay(2024, 8, 1), utcDay(2024, 8, 4), reporterDiscard())
	require.NoError(t, err)

	// One fetch per day, one saved document per day.
	assert.Len(t, fetcher.calls, 3)
	require.Len(t, store.docs, 3)
	dates := map[string]bool{}
	for _, doc := range store.docs {
		dates[doc.Date] = true
	}
	assert.Equal(t, map[string]bool{"2024-08-01": true, "2024-08-02": true, "2024-08-03": true}, dates)
}

func TestCollectRangeIsolatesFailingInstance(t *testing.T) {
	fetcher := &fakeFetcher{
		events: map[string][]datamodels.RawLogEvent{
			"orders-prod": {eventFor("SELECT 1")},
		},
		fails: map[string]error{"billing-prod": errors.New("throttled")},
	}
	store := &fakeDigestStore{}
	lister := &fakeLister{instances: []datamodels.Instance{instanceNamed("orders-prod"), instanceNamed("billing-prod")}}
	reporter := &recordingReporter{}

	collector := NewCollector(fetcher, store, lister, displayKST(t), CollectorConfig{InstanceChunkSize: 1})
	err := collector.CollectRange(context.Background(), utcDay(2024, 8, 1), utcDay(2024, 8, 2), reporter)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "billing-prod")
	// The healthy instance is still persisted.
	require.Len(t, store.docs, 1)
	assert.Equal(t, "orders-prod", store.docs[0].InstanceID)
	assert.Contains(t, reporter.statuses(), progress.StatusError)
}

func TestCollectRangeEmptyWindow(t *testing.T) {
	collector := NewCollector(&fakeFetcher{}, &fakeDigestStore{}, &fakeLister{}, displayKST(t), CollectorConfig{})
	day := utcDay(2024, 8, 1)

	err := collector.CollectRange(context.Background(), day, day, reporterDiscard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty collection range")
}

func TestCollectRangeRegistryError(t *testing.T) {
	lister := &fakeLister{err: errors.New("registry unavailable")}
	reporter := &recordingReporter{}

	collector := NewCollector(&fakeFetcher{}, &fakeDigestStore{}, lister, displayKST(t), CollectorConfig{})
	err := collector.CollectRange(context.Background(), utcDay(2024, 8, 1), utcDay(2024, 8, 2), reporter)

	require.Error(t, err)
	assert.Equal(t, []string{progress.StatusError}, reporter.statuses())
}

func reporterDiscard() progress.Reporter {
	return progress.NopReporter{}
}

func displayKST(t *testing.T) timeutils.Converter {
	t.Helper()
	converter, err := timeutils.NewConverter("Asia/Seoul")
	require.NoError(t, err)
	return converter
}

func TestCollectRangeStampsCreatedAtInDisplayZone(t *testing.T) {
	fetcher := &fakeFetcher{events: map[string][]datamodels.RawLogEvent{
		"orders-prod": {eventFor("SELECT 1")},
	}}
	store := &fakeDigestStore{}
	lister := &fakeLister{instances: []datamodels.Instance{instanceNamed("orders-prod")}}

	collector := NewCollector(fetcher, store, lister, displayKST(t), CollectorConfig{})
	collector.now = func() time.Time { return time.Date(2024, 8, 1, 15, 0, 0, 0, time.UTC) }

	require.NoError(t, collector.CollectRange(context.Background(), utcDay(2024, 8, 1), utcDay(2024, 8, 2), reporterDiscard()))

	require.Len(t, store.docs, 1)
	// 15:00 UTC is already the next day in KST.
	assert.Equal(t, "2024-08-02T00:00:00+09:00", store.docs[0].CreatedAt)
}

func TestCollectRangeSkipsFailingDigestWithinBatch(t *testing.T) {
	fetcher := &fakeFetcher{events: map[string][]datamodels.RawLogEvent{
		"orders-prod": {
			{Message: slowLogMessage("appuser", "h1", 9.0, 1722470400, "SELECT a FROM t1")},
			{Message: slowLogMessage("appuser", "h1", 1.0, 1722470400, "SELECT b FROM t2")},
		},
	}}
	store := &fakeDigestStore{failDigest: "SELECT a FROM t1"}
	lister := &fakeLister{instances: []datamodels.Instance{instanceNamed("orders-prod")}}

	collector := NewCollector(fetcher, store, lister, displayKST(t), CollectorConfig{})
	err := collector.CollectRange(context.Background(), utcDay(2024, 8, 1), utcDay(2024, 8, 2), reporterDiscard())

	require.Error(t, err)
	// The failing record is skipped; the rest of the day's batch still lands.
	require.Len(t, store.docs, 1)
	assert.Equal(t, "SELECT b FROM t2", store.docs[0].DigestQuery)
}

func TestCollectRangeRerunOverwritesDigests(t *testing.T) {
	fetcher := &fakeFetcher{events: map[string][]datamodels.RawLogEvent{
		"orders-prod": {eventFor("SELECT * FROM orders WHERE id = 1")},
	}}
	store := newKeyedDigestStore()
	lister := &fakeLister{instances: []datamodels.Instance{instanceNamed("orders-prod")}}

	collector := NewCollector(fetcher, store, lister, displayKST(t), CollectorConfig{})

	collector.now = func() time.Time { return time.Date(2024, 8, 2, 1, 0, 0, 0, time.UTC) }
	require.NoError(t, collector.CollectRange(context.Background(), utcDay(2024, 8, 1), utcDay(2024, 8, 2), reporterDiscard()))

	collector.now = func() time.Time { return time.Date(2024, 8, 3, 1, 0, 0, 0, time.UTC) }
	require.NoError(t, collector.CollectRange(context.Background(), utcDay(2024, 8, 1), utcDay(2024, 8, 2), reporterDiscard()))

	// Re-running the same window leaves one document per key, carrying the
	// second run's stamp.
	require.Len(t, store.docs, 1)
	for _, doc := range store.docs {
		assert.Equal(t, "2024-08-03T10:00:00+09:00", doc.CreatedAt)
	}
}
