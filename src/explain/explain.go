package explain

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/sirupsen/logrus"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
	constants "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/constants"
	queries "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/queries"
	querynormalizer "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/query-normalizer"
	utils "github.com/dba-platform/rds-slowquery-monitor/src/slow-query-monitoring/utils"
)

// RecordSource resolves the SQL text for a pid from the persisted realtime
// records.
type RecordSource interface {
	FindLatestRealtimeRecord(ctx context.Context, instance string, pid int64) (datamodels.FinalizedQueryRecord, error)
}

// PlanSink persists captured execution plans.
type PlanSink interface {
	InsertExplainResult(ctx context.Context, result datamodels.ExplainResult) error
}

// Settings carries the management account used for the short-lived explain
// connection.
type Settings struct {
	MgmtUser     string
	MgmtPassword string
}

// Collector captures EXPLAIN output for a finalized slow query. Each request
// opens its own connection against the query's database and closes it when
// done; explain traffic must not hold pool slots on monitored instances.
type Collector struct {
	records  RecordSource
	sink     PlanSink
	settings Settings
	openDB   func(dsn string) (utils.DataSource, error)
	log      *logrus.Entry

	now func() time.Time
}

func NewCollector(records RecordSource, sink PlanSink, settings Settings) *Collector {
	return &Collector{
		records:  records,
		sink:     sink,
		settings: settings,
		openDB:   utils.OpenSQLXDB,
		log:      logrus.WithField("component", "explain"),
		now:      time.Now,
	}
}

var intoClause = regexp.MustCompile(`\bINTO\b`)

// ValidateExplainable rejects SQL that must not be sent to EXPLAIN: anything
// but a plain SELECT. EXPLAIN on a write statement would be planned against
// live data with the management account, and SELECT INTO writes too.
func ValidateExplainable(sql string) error {
	stripped := strings.TrimSpace(querynormalizer.StripComments(sql))
	if stripped == "" {
		return errors.New("empty statement")
	}

	upper := strings.ToUpper(stripped)
	if !strings.HasPrefix(upper, "SELECT") {
		return fmt.Errorf("only SELECT statements are explained, got %q", firstWord(stripped))
	}
	if intoClause.MatchString(upper) {
		return errors.New("SELECT INTO statements are not explained")
	}
	return nil
}

// CollectPlan looks up the most recent finalized record for pid, validates
// its SQL and persists the JSON and TREE execution plans. A plan-capture
// failure is itself persisted so operators can see why a plan is missing.
func (c *Collector) CollectPlan(ctx context.Context, instance datamodels.Instance, pid int64) (datamodels.ExplainResult, error) {
	record, err := c.records.FindLatestRealtimeRecord(ctx, instance.Name, pid)
	if err != nil {
		return datamodels.ExplainResult{}, err
	}

	result := datamodels.ExplainResult{
		PID:       pid,
		Instance:  instance.Name,
		DB:        record.DB,
		SQLText:   record.SQLText,
		CreatedAt: c.now().UTC(),
	}

	if err := ValidateExplainable(record.SQLText); err != nil {
		result.Error = err.Error()
		return result, c.sink.InsertExplainResult(ctx, result)
	}

	if err := c.capturePlans(ctx, instance, record, &result); err != nil {
		result.Error = err.Error()
	}

	if err := c.sink.InsertExplainResult(ctx, result); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Collector) capturePlans(ctx context.Context, instance datamodels.Instance, record datamodels.FinalizedQueryRecord, result *datamodels.ExplainResult) error {
	dsn := utils.GenerateDSN(c.settings.MgmtUser, c.settings.MgmtPassword, instance.Host, instance.Port, record.DB)
	db, err := c.openDB(dsn)
	if err != nil {
		return fmt.Errorf("error opening explain connection: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, constants.ExplainTimeoutDuration)
	defer cancel()

	jsonPlan, jsonErr := c.runExplain(ctx, db, fmt.Sprintf(queries.ExplainJSONFormat, record.SQLText))
	if jsonErr == nil {
		parsed, parseErr := simplejson.NewJson([]byte(jsonPlan))
		if parseErr != nil {
			jsonErr = fmt.Errorf("error parsing JSON plan: %w", parseErr)
		} else {
			result.ExplainJSON = parsed.Interface()
		}
	}

	treePlan, treeErr := c.runExplain(ctx, db, fmt.Sprintf(queries.ExplainTreeFormat, record.SQLText))
	if treeErr == nil {
		result.ExplainTree = treePlan
	}

	if jsonErr != nil && treeErr != nil {
		return fmt.Errorf("explain failed: %v; %v", jsonErr, treeErr)
	}
	if jsonErr != nil {
		c.log.WithError(jsonErr).WithField("pid", record.PID).Warn("JSON plan capture failed, tree plan kept")
	}
	if treeErr != nil {
		c.log.WithError(treeErr).WithField("pid", record.PID).Warn("Tree plan capture failed, JSON plan kept")
	}
	return nil
}

// runExplain executes one EXPLAIN statement and joins its output rows. The
// JSON format yields a single row; the tree format yields one row per plan
// line on older server versions.
func (c *Collector) runExplain(ctx context.Context, db utils.DataSource, statement string) (string, error) {
	rows, err := db.QueryxContext(ctx, statement)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", errors.New("explain returned no rows")
	}
	return strings.Join(lines, "\n"), nil
}

func firstWord(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
