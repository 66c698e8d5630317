package parser

import (
	"regexp"
	"strings"
)

var (
	blockCommentRegexp = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	lineCommentRegexp  = regexp.MustCompile(`(?m)^[ \t]*--.*$`)
	unionRegexp        = regexp.MustCompile(`(?i)\s*\bUNION(?:\s+ALL)?\b\s*`)
)

// Split breaks query into its logical statements. Comments are dropped,
// semicolons touching a quote are removed so that literals ending in ';' do
// not split, and UNION [ALL] becomes a statement separator so that both sides
// of a union are classified. Empty statements are kept: an empty query yields
// a single empty statement and a trailing ';' yields a trailing "".
func Split(query string) []string {
	q := blockCommentRegexp.ReplaceAllString(query, "")
	q = lineCommentRegexp.ReplaceAllString(q, "")
	q = dropQuotedSemicolons(q)
	q = unionRegexp.ReplaceAllString(q, ";")

	return strings.Split(q, ";")
}

func dropQuotedSemicolons(q string) string {
	if !strings.Contains(q, ";") {
		return q
	}

	var b strings.Builder
	b.Grow(len(q))
	for i := 0; i < len(q); i++ {
		if q[i] == ';' && (i > 0 && isQuote(q[i-1]) || i+1 < len(q) && isQuote(q[i+1])) {
			continue
		}
		b.WriteByte(q[i])
	}

	return b.String()
}

func isQuote(c byte) bool {
	return c == '"' || c == '\''
}
