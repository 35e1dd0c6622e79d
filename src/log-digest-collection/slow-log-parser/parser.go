package slowlogparser

import (
	"regexp"
	"strconv"
	"strings"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
)

const headerMarker = "# User@Host:"

// entryPattern is the fixed grammar for one MySQL slow log entry: the
// user/host header, the Query_time metrics line, the SET timestamp marker and
// the query body. Lines that do not fit the grammar are dropped by Parse, not
// reported as errors.
var entryPattern = regexp.MustCompile(
	`(?s)# User@Host: (.*?)\[.*?\] @ (.*?)\n` +
		`.*?# Query_time: (\d+\.\d+)\s+` +
		`Lock_time: (\d+\.\d+)\s+` +
		`Rows_sent: (\d+)\s+` +
		`Rows_examined: (\d+)` +
		`.*?SET timestamp=(\d+);` +
		`(.*)`)

// Parse extracts every slow log entry from one raw log message. A message
// usually carries a single entry, but bundled entries are split on the
// user/host header before matching.
func Parse(message string) []datamodels.ParsedSlowLogEntry {
	var entries []datamodels.ParsedSlowLogEntry
	for _, chunk := range splitEntries(message) {
		if entry, ok := parseEntry(chunk); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func splitEntries(message string) []string {
	parts := strings.Split(message, headerMarker)
	chunks := make([]string, 0, len(parts))
	for _, part := range parts[1:] {
		chunks = append(chunks, headerMarker+part)
	}
	return chunks
}

func parseEntry(chunk string) (datamodels.ParsedSlowLogEntry, bool) {
	m := entryPattern.FindStringSubmatch(chunk)
	if m == nil {
		return datamodels.ParsedSlowLogEntry{}, false
	}

	queryTime, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return datamodels.ParsedSlowLogEntry{}, false
	}
	lockTime, err := strconv.ParseFloat(m[4], 64)
	if err != nil {
		return datamodels.ParsedSlowLogEntry{}, false
	}
	rowsSent, err := strconv.ParseInt(m[5], 10, 64)
	if err != nil {
		return datamodels.ParsedSlowLogEntry{}, false
	}
	rowsExamined, err := strconv.ParseInt(m[6], 10, 64)
	if err != nil {
		return datamodels.ParsedSlowLogEntry{}, false
	}
	timestamp, err := strconv.ParseInt(m[7], 10, 64)
	if err != nil {
		return datamodels.ParsedSlowLogEntry{}, false
	}

	return datamodels.ParsedSlowLogEntry{
		User:         strings.TrimSpace(m[1]),
		Host:         strings.TrimSpace(m[2]),
		QueryTime:    queryTime,
		LockTime:     lockTime,
		RowsSent:     rowsSent,
		RowsExamined: rowsExamined,
		Timestamp:    timestamp,
		QueryText:    strings.TrimSpace(m[8]),
	}, true
}
