package storage

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	datamodels "github.com/dba-platform/rds-slowquery-monitor/src/data-models"
)

// Documents are validated against a JSON schema before every write so that a
// malformed record is rejected at the persistence boundary instead of
// corrupting downstream rollups.

const realtimeRecordSchema = `{
	"type": "object",
	"required": ["instance", "db", "pid", "user", "time", "sql_text", "start", "end"],
	"properties": {
		"instance": {"type": "string", "minLength": 1},
		"db":       {"type": "string"},
		"pid":      {"type": "integer", "minimum": 1},
		"user":     {"type": "string"},
		"host":     {"type": "string"},
		"time":     {"type": "integer", "minimum": 0},
		"sql_text": {"type": "string", "minLength": 1},
		"start":    {"type": "string"},
		"end":      {"type": "string"}
	}
}`

const digestDocumentSchema = `{
	"type": "object",
	"required": ["date", "instance_id", "digest_query", "execution_count", "avg_time"],
	"properties": {
		"date":            {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
		"instance_id":     {"type": "string", "minLength": 1},
		"digest_query":    {"type": "string", "minLength": 1},
		"example_queries": {"type": "array", "maxItems": 10, "items": {"type": "string"}},
		"execution_count": {"type": "integer", "minimum": 1},
		"avg_time":        {"type": "number", "minimum": 0},
		"total_time":      {"type": "number", "minimum": 0},
		"users":           {"type": "array", "items": {"type": "string"}},
		"hosts":           {"type": "array", "items": {"type": "string"}}
	}
}`

var (
	realtimeSchema = gojsonschema.NewStringLoader(realtimeRecordSchema)
	digestSchema   = gojsonschema.NewStringLoader(digestDocumentSchema)
)

func validateRealtimeRecord(record datamodels.FinalizedQueryRecord) error {
	return validate(realtimeSchema, record, "realtime record")
}

func validateDigestDocument(doc datamodels.DigestDocument) error {
	return validate(digestSchema, doc, "digest document")
}

func validate(schema gojsonschema.JSONLoader, document interface{}, kind string) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("error validating %s: %w", kind, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("invalid %s: %s", kind, strings.Join(problems, "; "))
}
