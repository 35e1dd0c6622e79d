package querynormalizer

import (
	"regexp"
	"strings"
)

// QueryClass buckets a statement by its leading keyword.
type QueryClass string

const (
	ClassRead        QueryClass = "read"
	ClassWrite       QueryClass = "write"
	ClassDDL         QueryClass = "ddl"
	ClassTransaction QueryClass = "transaction"
	ClassOther       QueryClass = "other"
)

var (
	blockCommentRe = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineCommentRe  = regexp.MustCompile(`--.*`)

	readPrefixes        = []string{"SELECT", "SHOW", "DESCRIBE", "EXPLAIN"}
	writePrefixes       = []string{"INSERT", "UPDATE", "DELETE", "REPLACE", "UPSERT"}
	ddlPrefixes         = []string{"CREATE", "ALTER", "DROP", "TRUNCATE", "RENAME"}
	transactionPrefixes = []string{"COMMIT", "ROLLBACK", "BEGIN", "START TRANSACTION"}
)

// StripComments removes /* */ hints and -- line comments from a statement.
func StripComments(query string) string {
	query = blockCommentRe.ReplaceAllString(query, "")
	lines := strings.Split(query, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(lineCommentRe.ReplaceAllString(line, ""))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Classify reports whether a statement is a read, write, DDL or transaction
// control statement. Statements that are empty after comment stripping, or
// whose leading keyword matches no known set, classify as ClassOther.
func Classify(query string) QueryClass {
	cleaned := strings.ToUpper(StripComments(query))
	if cleaned == "" {
		return ClassOther
	}

	switch {
	case hasAnyPrefix(cleaned, readPrefixes):
		return ClassRead
	case hasAnyPrefix(cleaned, writePrefixes):
		return ClassWrite
	case hasAnyPrefix(cleaned, ddlPrefixes):
		return ClassDDL
	case hasAnyPrefix(cleaned, transactionPrefixes):
		return ClassTransaction
	default:
		return ClassOther
	}
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
