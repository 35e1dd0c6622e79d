package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
)

const connectTimeout = 10 * time.Second

// Collections maps each document kind to its collection name.
type Collections struct {
	Instances       string
	RealtimeSlowSQL string
	RealtimePlans   string
	Digests         string
	Statistics      string
	UserStatistics  string
}

// Store is the MongoDB persistence layer shared by the realtime sampler, the
// log digest collector and the statistics rollups.
type Store struct {
	db          *mongo.Database
	collections Collections
	log         *logrus.Entry
}

// Connect opens a client against uri and verifies it with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("error pinging MongoDB: %w", err)
	}
	return client, nil
}

// NewStore wraps a connected client.
func NewStore(client *mongo.Client, database string, collections Collections) *Store {
	return &Store{
		db:          client.Database(database),
		collections: collections,
		log:         logrus.WithField("component", "storage"),
	}
}

// FindRealtimeRecord reports whether a finalized record with the given natural
// key was already persisted. Pids are reused by the server, so the start
// estimate is part of the key.
func (s *Store) FindRealtimeRecord(ctx context.Context, instance, db string, pid int64, start time.Time) (bool, error) {
	filter := realtimeFilter(instance, db, pid, start)

	err := s.db.Collection(s.collections.RealtimeSlowSQL).FindOne(ctx, filter).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error looking up realtime record: %w", err)
	}
	return true, nil
}

// InsertRealtimeRecord persists one finalized slow query.
func (s *Store) InsertRealtimeRecord(ctx context.Context, record datamodels.FinalizedQueryRecord) error {
	if err := validateRealtimeRecord(record); err != nil {
		return err
	}
	if _, err := s.db.Collection(s.collections.RealtimeSlowSQL).InsertOne(ctx, record); err != nil {
		return fmt.Errorf("error inserting realtime record: %w", err)
	}
	return nil
}

// FindLatestRealtimeRecord returns the most recent finalized record for a pid
// on one instance, used to resolve the query text for explain plan capture.
func (s *Store) FindLatestRealtimeRecord(ctx context.Context, instance string, pid int64) (datamodels.FinalizedQueryRecord, error) {
	var record datamodels.FinalizedQueryRecord
	opts := options.FindOne().SetSort(bson.D{{Key: "end", Value: -1}})
	filter := bson.M{"instance": instance, "pid": pid}

	err := s.db.Collection(s.collections.RealtimeSlowSQL).FindOne(ctx, filter, opts).Decode(&record)
	if err != nil {
		return datamodels.FinalizedQueryRecord{}, fmt.Errorf("error finding realtime record for pid %d: %w", pid, err)
	}
	return record, nil
}

// UpsertDigest writes one per-day digest document. Re-running a collection
// for the same window overwrites rather than duplicates.
func (s *Store) UpsertDigest(ctx context.Context, doc datamodels.DigestDocument) error {
	if err := validateDigestDocument(doc); err != nil {
		return err
	}

	filter := digestFilter(doc.Date, doc.InstanceID, doc.DigestQuery)
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)

	if _, err := s.db.Collection(s.collections.Digests).UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("error upserting digest for %s/%s: %w", doc.InstanceID, doc.Date, err)
	}
	return nil
}

// FindDigestsByMonth loads every digest document whose date falls within
// month (formatted YYYY-MM).
func (s *Store) FindDigestsByMonth(ctx context.Context, month string) ([]datamodels.DigestDocument, error) {
	cursor, err := s.db.Collection(s.collections.Digests).Find(ctx, monthFilter(month))
	if err != nil {
		return nil, fmt.Errorf("error querying digests for month %s: %w", month, err)
	}
	defer cursor.Close(ctx)

	var docs []datamodels.DigestDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("error decoding digests for month %s: %w", month, err)
	}
	return docs, nil
}

// ReplaceMonthlyStatistics atomically-enough replaces one month of instance
// rollups: existing documents for the month are deleted, then the new set is
// inserted.
func (s *Store) ReplaceMonthlyStatistics(ctx context.Context, month string, stats []datamodels.MonthlyStatistic) error {
	coll := s.db.Collection(s.collections.Statistics)
	if _, err := coll.DeleteMany(ctx, bson.M{"month": month}); err != nil {
		return fmt.Errorf("error clearing statistics for month %s: %w", month, err)
	}
	if len(stats) == 0 {
		return nil
	}

	docs := make([]interface{}, len(stats))
	for i, stat := range stats {
		docs[i] = stat
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("error inserting statistics for month %s: %w", month, err)
	}
	s.log.WithFields(logrus.Fields{"month": month, "count": len(stats)}).Info("Replaced monthly statistics")
	return nil
}

// ReplaceUserStatistics is the per-user variant of ReplaceMonthlyStatistics.
func (s *Store) ReplaceUserStatistics(ctx context.Context, month string, stats []datamodels.UserStatistic) error {
	coll := s.db.Collection(s.collections.UserStatistics)
	if _, err := coll.DeleteMany(ctx, bson.M{"month": month}); err != nil {
		return fmt.Errorf("error clearing user statistics for month %s: %w", month, err)
	}
	if len(stats) == 0 {
		return nil
	}

	docs := make([]interface{}, len(stats))
	for i, stat := range stats {
		docs[i] = stat
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("error inserting user statistics for month %s: %w", month, err)
	}
	s.log.WithFields(logrus.Fields{"month": month, "count": len(stats)}).Info("Replaced user statistics")
	return nil
}

// InsertExplainResult persists one captured execution plan.
func (s *Store) InsertExplainResult(ctx context.Context, result datamodels.ExplainResult) error {
	if _, err := s.db.Collection(s.collections.RealtimePlans).InsertOne(ctx, result); err != nil {
		return fmt.Errorf("error inserting explain result: %w", err)
	}
	return nil
}

// FindInstances loads the full RDS instance registry.
func (s *Store) FindInstances(ctx context.Context) ([]datamodels.Instance, error) {
	cursor, err := s.db.Collection(s.collections.Instances).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("error querying instance registry: %w", err)
	}
	defer cursor.Close(ctx)

	var instances []datamodels.Instance
	if err := cursor.All(ctx, &instances); err != nil {
		return nil, fmt.Errorf("error decoding instance registry: %w", err)
	}
	return instances, nil
}

func realtimeFilter(instance, db string, pid int64, start time.Time) bson.M {
	return bson.M{
		"instance": instance,
		"db":       db,
		"pid":      pid,
		"start":    start,
	}
}

func digestFilter(date, instanceID, digestQuery string) bson.M {
	return bson.M{
		"date":         date,
		"instance_id":  instanceID,
		"digest_query": digestQuery,
	}
}

func monthFilter(month string) bson.M {
	return bson.M{"date": bson.M{"$regex": "^" + month}}
}
