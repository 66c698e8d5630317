package parser

import (
	"regexp"
	"strings"
)

// Method is the SQL verb of a statement.
type Method int

// Methods are listed in matching order.
const (
	Unknown Method = iota
	Select
	Insert
	Update
	Delete
	Rename
	Show
	Set
	Drop
	CreateIndex
	CreateTable
	Explain
	Describe
	Truncate
	Alter
)

var methodNames = [...]string{
	Unknown:     "",
	Select:      "SELECT",
	Insert:      "INSERT",
	Update:      "UPDATE",
	Delete:      "DELETE",
	Rename:      "RENAME",
	Show:        "SHOW",
	Set:         "SET",
	Drop:        "DROP",
	CreateIndex: "CREATE INDEX",
	CreateTable: "CREATE TABLE",
	Explain:     "EXPLAIN",
	Describe:    "DESCRIBE",
	Truncate:    "TRUNCATE",
	Alter:       "ALTER",
}

// String returns the verb as written in SQL, or "UNKNOWN".
func (m Method) String() string {
	if m <= Unknown || int(m) >= len(methodNames) {
		return "UNKNOWN"
	}
	return methodNames[m]
}

// IsRead reports whether results of m may be served from cache.
func (m Method) IsRead() bool {
	switch m {
	case Select, Show, Describe:
		return true
	}
	return false
}

// IsWrite reports whether m invalidates cached results of the tables it
// touches.
func (m Method) IsWrite() bool {
	switch m {
	case Insert, Update, Delete, Drop, Truncate, Alter:
		return true
	}
	return false
}

type methodPattern struct {
	method Method
	re     *regexp.Regexp
}

var methodPatterns = func() []methodPattern {
	patterns := make([]methodPattern, 0, len(methodNames)-1)
	for m := Select; int(m) < len(methodNames); m++ {
		verb := strings.ReplaceAll(methodNames[m], " ", `\s+`)
		patterns = append(patterns, methodPattern{
			method: m,
			re:     regexp.MustCompile(`(?i)^\s*` + verb + `\s+`),
		})
	}
	return patterns
}()

// classify returns the verb of the first statement in query that starts with
// a known verb.
func classify(query string) Method {
	for _, stmt := range Split(query) {
		for _, p := range methodPatterns {
			if p.re.MatchString(stmt) {
				return p.method
			}
		}
	}
	return Unknown
}
