package progress

import (
	"github.com/sirupsen/logrus"
)

// Status values carried alongside collection progress reports.
const (
	StatusStarted    = "started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Report is one progress update for a long-running collection run. Percent is
// nil when the update is status-only.
type Report struct {
	RunID   string
	Status  string
	Percent *float64
	Message string
}

// Reporter receives progress updates. Implementations must tolerate being
// called from multiple goroutines.
type Reporter interface {
	Report(report Report)
}

// LogReporter writes progress updates to the structured log.
type LogReporter struct{}

func (LogReporter) Report(report Report) {
	fields := logrus.Fields{
		"run_id": report.RunID,
		"status": report.Status,
	}
	if report.Percent != nil {
		fields["percent"] = *report.Percent
	}

	entry := logrus.WithFields(fields)
	if report.Status == StatusError {
		entry.Error(report.Message)
		return
	}
	entry.Info(report.Message)
}

// NopReporter discards every update.
type NopReporter struct{}

func (NopReporter) Report(Report) {}

// Percent is a convenience for building Report values with a literal percent.
func Percent(value float64) *float64 {
	return &value
}
