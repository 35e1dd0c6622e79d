package queries

const (
	// ProcessList samples every currently executing statement. The elapsed
	// ordering is informational; the tracker does not depend on it.
	ProcessList = `
        SELECT
            ID,
            COALESCE(DB, '') AS DB,
            USER,
            HOST,
            TIME,
            INFO
        FROM performance_schema.processlist
        WHERE INFO IS NOT NULL
            AND DB NOT IN (?)
            AND USER NOT IN (?)
        ORDER BY TIME DESC`

	// ExplainJSONFormat and ExplainTreeFormat fetch execution plans for a
	// validated SELECT statement.
	ExplainJSONFormat = "EXPLAIN FORMAT=JSON %s"
	ExplainTreeFormat = "EXPLAIN FORMAT=TREE %s"
)
