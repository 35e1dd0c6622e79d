package querynormalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "numeric literal",
			input:    "SELECT * FROM t WHERE id = 5",
			expected: "SELECT * FROM t WHERE id = ?",
		},
		{
			name:     "single quoted literal",
			input:    "SELECT * FROM users WHERE name = 'alice'",
			expected: "SELECT * FROM users WHERE name = ?",
		},
		{
			name:     "double quoted literal",
			input:    `SELECT * FROM users WHERE name = "bob"`,
			expected: "SELECT * FROM users WHERE name = ?",
		},
		{
			name:     "whitespace collapse",
			input:    "SELECT  *\n\tFROM   t\nWHERE id=10",
			expected: "SELECT * FROM t WHERE id=?",
		},
		{
			name:     "mixed literals",
			input:    "INSERT INTO logs (msg, level, ts) VALUES ('boom', 3, 1700000000)",
			expected: "INSERT INTO logs (msg, level, ts) VALUES (?, ?, ?)",
		},
		{
			name:     "identifier digits survive when not word bounded",
			input:    "SELECT col1 FROM table2",
			expected: "SELECT col1 FROM table2",
		},
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Normalize(tc.input))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"SELECT * FROM t WHERE id = 42 AND name = 'x'",
		"UPDATE a SET b = \"c\" WHERE d IN (1, 2, 3)",
		"  select    1  ",
		"",
	}
	for _, input := range inputs {
		once := Normalize(input)
		assert.Equal(t, once, Normalize(once), "normalize must be idempotent for %q", input)
	}
}

func TestNormalizeGroupsEquivalentQueries(t *testing.T) {
	a := Normalize("SELECT * FROM t WHERE id=5")
	b := Normalize("SELECT * FROM t WHERE id=42")
	assert.Equal(t, a, b)
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		query    string
		expected QueryClass
	}{
		{"SELECT 1", ClassRead},
		{"show processlist", ClassRead},
		{"DESCRIBE users", ClassRead},
		{"EXPLAIN SELECT 1", ClassRead},
		{"INSERT INTO t VALUES (1)", ClassWrite},
		{"update t set a=1", ClassWrite},
		{"DELETE FROM t", ClassWrite},
		{"REPLACE INTO t VALUES (1)", ClassWrite},
		{"CREATE TABLE t (id INT)", ClassDDL},
		{"alter table t add column x int", ClassDDL},
		{"DROP TABLE t", ClassDDL},
		{"TRUNCATE t", ClassDDL},
		{"COMMIT", ClassTransaction},
		{"ROLLBACK", ClassTransaction},
		{"BEGIN", ClassTransaction},
		{"START TRANSACTION", ClassTransaction},
		{"/* hint */ COMMIT", ClassTransaction},
		{"-- note\nSELECT 1", ClassRead},
		{"", ClassOther},
		{"/* only a comment */", ClassOther},
		{"GRANT ALL ON *.* TO 'x'", ClassOther},
	}

	for _, tc := range testCases {
		t.Run(tc.query, func(t *testing.T) {
			assert.Equal(t, tc.expected, Classify(tc.query))
		})
	}
}

func TestStripComments(t *testing.T) {
	assert.Equal(t, "SELECT 1", StripComments("/* index hint */ SELECT 1"))
	assert.Equal(t, "SELECT 1", StripComments("SELECT 1 -- trailing"))
	assert.Equal(t, "SELECT 1\nFROM t", StripComments("SELECT 1 -- a\nFROM t -- b"))
	assert.Equal(t, "", StripComments("/* multi\nline */"))
}
