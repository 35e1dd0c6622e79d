package utils

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// DataSource abstracts the per-instance MySQL connection so collectors can be
// tested against go-sqlmock.
type DataSource interface {
	Close()
	Rebind(query string) string
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

type Database struct {
	source *sqlx.DB
}

// OpenSQLXDB opens and pings a MySQL connection pool for one monitored
// instance. A failure here is fatal for that instance's monitor.
func OpenSQLXDB(dsn string) (DataSource, error) {
	source, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening DSN: %w", err)
	}

	db := Database{
		source: source,
	}

	return &db, nil
}

func (db *Database) Close() {
	db.source.Close()
}

func (db *Database) Rebind(query string) string {
	return db.source.Rebind(query)
}

func (db *Database) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	return db.source.QueryxContext(ctx, query, args...)
}

// GenerateDSN builds the management-account DSN for a monitored instance.
func GenerateDSN(user, password, host string, port int, database string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=10s", user, password, host, port, database)
}

// CollectRows runs a query and scans every row into T.
func CollectRows[T any](ctx context.Context, db DataSource, query string, args ...interface{}) ([]T, error) {
	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		var row T
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
