package datamodels

import "time"

// QuerySnapshotRow is one live process observed in a single processlist
// sample. Rows are ephemeral; only the lifecycle tracker's view of them is
// ever persisted.
type QuerySnapshotRow struct {
	PID       int64   `db:"ID"`
	DB        string  `db:"DB"`
	User      string  `db:"USER"`
	Host      string  `db:"HOST"`
	Elapsed   int64   `db:"TIME"`
	QueryText *string `db:"INFO"`
}

// TrackedQuery is a per-pid cache entry held between samples. MaxElapsed is a
// running maximum: a reported elapsed time lower than one already seen must
// never reduce the recorded peak. Start is estimated once, at the first
// sample above the threshold, and intentionally never corrected afterwards.
type TrackedQuery struct {
	MaxElapsed  int64
	Start       time.Time
	LastDetails FinalizedQueryRecord
}

// FinalizedQueryRecord is the persisted realtime slow-query document. The
// natural key is (pid, instance, db, start); pids are reused by the server,
// so start is part of the key.
type FinalizedQueryRecord struct {
	Instance string    `bson:"instance" json:"instance"`
	DB       string    `bson:"db" json:"db"`
	PID      int64     `bson:"pid" json:"pid"`
	User     string    `bson:"user" json:"user"`
	Host     string    `bson:"host" json:"host"`
	Time     int64     `bson:"time" json:"time"`
	SQLText  string    `bson:"sql_text" json:"sql_text"`
	Start    time.Time `bson:"start" json:"start"`
	End      time.Time `bson:"end" json:"end"`
}

// RawLogEvent is one CloudWatch log line with its stream-assigned timestamp
// in epoch milliseconds.
type RawLogEvent struct {
	Timestamp int64
	Message   string
}

// ParsedSlowLogEntry is the structured extraction of one slow-log event.
type ParsedSlowLogEntry struct {
	User         string
	Host         string
	QueryTime    float64
	LockTime     float64
	RowsSent     int64
	RowsExamined int64
	Timestamp    int64
	QueryText    string
}

// DigestRecord aggregates every occurrence of one normalized query within a
// collection window.
type DigestRecord struct {
	DigestQuery     string   `bson:"digest_query" json:"digest_query"`
	ExampleQueries  []string `bson:"example_queries" json:"example_queries"`
	ExecutionCount  int64    `bson:"execution_count" json:"execution_count"`
	AvgTime         float64  `bson:"avg_time" json:"avg_time"`
	TotalTime       float64  `bson:"total_time" json:"total_time"`
	AvgLockTime     float64  `bson:"avg_lock_time" json:"avg_lock_time"`
	AvgRowsSent     float64  `bson:"avg_rows_sent" json:"avg_rows_sent"`
	AvgRowsExamined float64  `bson:"avg_rows_examined" json:"avg_rows_examined"`
	Users           []string `bson:"users" json:"users"`
	Hosts           []string `bson:"hosts" json:"hosts"`
	FirstSeen       string   `bson:"first_seen" json:"first_seen"`
	LastSeen        string   `bson:"last_seen" json:"last_seen"`
}

// DigestDocument is a DigestRecord as persisted, keyed by
// (date, instance_id, digest_query) with upsert semantics.
type DigestDocument struct {
	Date       string `bson:"date" json:"date"`
	InstanceID string `bson:"instance_id" json:"instance_id"`
	CreatedAt  string `bson:"created_at" json:"created_at"`

	DigestRecord `bson:",inline"`
}

// MonthlyStatistic is a derived per-instance rollup over one month of
// persisted digests. Classification counts are recomputed from the digest
// text at aggregation time.
type MonthlyStatistic struct {
	InstanceID          string    `bson:"instance_id" json:"instance_id"`
	Month               string    `bson:"month" json:"month"`
	UniqueDigestCount   int64     `bson:"unique_digest_count" json:"unique_digest_count"`
	TotalSlowQueryCount int64     `bson:"total_slow_query_count" json:"total_slow_query_count"`
	TotalExecutionCount int64     `bson:"total_execution_count" json:"total_execution_count"`
	TotalExecutionTime  float64   `bson:"total_execution_time" json:"total_execution_time"`
	AvgExecutionTime    float64   `bson:"avg_execution_time" json:"avg_execution_time"`
	TotalRowsExamined   int64     `bson:"total_rows_examined" json:"total_rows_examined"`
	ReadQueryCount      int64     `bson:"read_query_count" json:"read_query_count"`
	WriteQueryCount     int64     `bson:"write_query_count" json:"write_query_count"`
	DDLQueryCount       int64     `bson:"ddl_query_count" json:"ddl_query_count"`
	CommitQueryCount    int64     `bson:"commit_query_count" json:"commit_query_count"`
	CreatedAt           time.Time `bson:"created_at" json:"created_at"`
}

// UserStatistic is the per-user variant of MonthlyStatistic.
type UserStatistic struct {
	InstanceID          string    `bson:"instance_id" json:"instance_id"`
	Month               string    `bson:"month" json:"month"`
	User                string    `bson:"user" json:"user"`
	TotalQueries        int64     `bson:"total_queries" json:"total_queries"`
	TotalExecutionCount int64     `bson:"total_exec_count" json:"total_exec_count"`
	TotalExecutionTime  float64   `bson:"total_exec_time" json:"total_exec_time"`
	AvgExecutionTime    float64   `bson:"avg_execution_time" json:"avg_execution_time"`
	ReadQueryCount      int64     `bson:"read_query_count" json:"read_query_count"`
	WriteQueryCount     int64     `bson:"write_query_count" json:"write_query_count"`
	DDLQueryCount       int64     `bson:"ddl_query_count" json:"ddl_query_count"`
	CommitQueryCount    int64     `bson:"commit_query_count" json:"commit_query_count"`
	CreatedAt           time.Time `bson:"created_at" json:"created_at"`
}

// ExplainResult is the persisted execution plan for one finalized slow query.
type ExplainResult struct {
	PID         int64       `bson:"pid" json:"pid"`
	Instance    string      `bson:"instance" json:"instance"`
	DB          string      `bson:"db" json:"db"`
	SQLText     string      `bson:"sql_text" json:"sql_text"`
	ExplainJSON interface{} `bson:"explain_json,omitempty" json:"explain_json,omitempty"`
	ExplainTree string      `bson:"explain_tree,omitempty" json:"explain_tree,omitempty"`
	Error       string      `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time   `bson:"created_at" json:"created_at"`
}

// Instance is one entry of the read-only instance registry.
type Instance struct {
	Name   string            `bson:"instance_name"`
	Host   string            `bson:"host"`
	Port   int               `bson:"port"`
	Region string            `bson:"region"`
	Tags   map[string]string `bson:"tags"`
}

// RealtimeTarget reports whether this instance is tagged for realtime slow
// query monitoring.
func (i Instance) RealtimeTarget() bool {
	return i.Tags["real_time_slow_sql"] == "true"
}
