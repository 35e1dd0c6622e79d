package constants

import "time"

const (
	// QueryTimeoutDuration bounds a single processlist sample.
	QueryTimeoutDuration = 5 * time.Second
	// ExplainTimeoutDuration bounds one execution plan fetch.
	ExplainTimeoutDuration = 10 * time.Second
	// PersistTimeoutDuration bounds a single document-store write.
	PersistTimeoutDuration = 5 * time.Second

	// MaxExampleQueries caps how many raw example statements are kept per
	// digest.
	MaxExampleQueries = 10

	// DateFormat is the persisted digest partition key layout.
	DateFormat = "2006-01-02"
	// MonthFormat is the statistics rollup partition key layout.
	MonthFormat = "2006-01"
)

// DefaultExcludedLogUsers are administrative accounts whose slow-log entries
// carry no tuning signal and are skipped during digest aggregation.
var DefaultExcludedLogUsers = []string{"rdsadmin", "event_scheduler"}
