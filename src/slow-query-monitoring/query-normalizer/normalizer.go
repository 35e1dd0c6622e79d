package querynormalizer

import (
	"regexp"
	"strings"
)

// Placeholder replaces every literal stripped out of a query during
// normalization.
const Placeholder = "?"

var (
	singleQuotedRe = regexp.MustCompile(`'[^']*'`)
	doubleQuotedRe = regexp.MustCompile(`"[^"]*"`)
	numericRe      = regexp.MustCompile(`\b\d+\b`)
)

// Normalize canonicalizes a raw SQL string into its digest form: quoted and
// numeric literals become placeholders and whitespace runs collapse to a
// single space. The result is a stable grouping key, so Normalize is
// idempotent.
//
// Literals containing escaped quotes and digits that happen to be
// word-bounded inside identifiers are not treated specially; the digest only
// needs to be stable, not a faithful SQL parse.
func Normalize(query string) string {
	query = singleQuotedRe.ReplaceAllString(query, Placeholder)
	query = doubleQuotedRe.ReplaceAllString(query, Placeholder)
	query = numericRe.ReplaceAllString(query, Placeholder)
	return strings.Join(strings.Fields(query), " ")
}
