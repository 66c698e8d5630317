package parser

import (
	"regexp"
	"sort"
	"strings"
)

// connectors are the words that end a FROM list. They are never taken for a
// table name or alias.
var connectors = map[string]struct{}{
	"OR": {}, "AND": {}, "ON": {}, "LIMIT": {}, "WHERE": {}, "JOIN": {},
	"GROUP": {}, "ORDER": {}, "OPTION": {}, "LEFT": {}, "INNER": {},
	"RIGHT": {}, "OUTER": {}, "SET": {}, "HAVING": {}, "VALUES": {},
	"SELECT": {},
}

const ident = "[\\w.`\"\\[\\]]+"

var (
	fromRegexp  = regexp.MustCompile(`(?i)\sFROM\s+`)
	identRegexp = regexp.MustCompile(`^\s*(` + ident + `)`)
	aliasRegexp = regexp.MustCompile(`(?i)^\s+(AS\s+)?(` + ident + `)`)
	commaRegexp = regexp.MustCompile(`^\s*,`)

	// single table patterns, applied after the FROM list
	tableRegexps = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bINSERT\s+INTO\s+(` + ident + `)`),
		regexp.MustCompile(`(?i)\bUPDATE\s+(` + ident + `)`),
		regexp.MustCompile(`(?i)\bJOIN\s+(` + ident + `)`),
		regexp.MustCompile(`(?i)\bTABLE\s+(?:IF\s+(?:NOT\s+)?EXISTS\s+)?(` + ident + `)`),
		regexp.MustCompile(`(?i)^\s*(?:DESCRIBE|DESC)\s+(` + ident + `)`),
		regexp.MustCompile(`(?i)^\s*TRUNCATE\s+(?:TABLE\s+)?(` + ident + `)`),
	}
)

func isConnector(word string) bool {
	_, ok := connectors[strings.ToUpper(word)]
	return ok
}

// extractTables returns the de-duplicated, sorted names of the tables
// referenced by query. Extraction is lexical and best effort.
func extractTables(query string) []string {
	seen := make(map[string]struct{})
	add := func(name string) {
		name = normalize(name)
		if name == "" || isConnector(name) {
			return
		}
		seen[name] = struct{}{}
	}

	for _, stmt := range Split(query) {
		for _, name := range fromList(stmt) {
			add(name)
		}
		for _, re := range tableRegexps {
			for _, m := range re.FindAllStringSubmatch(stmt, -1) {
				add(m[1])
			}
		}
	}

	tables := make([]string, 0, len(seen))
	for name := range seen {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	return tables
}

// fromList returns the table names of every FROM list in stmt. Each entry of
// a list is an identifier optionally followed by an alias, with or without
// AS. The list ends at the first connector keyword, parenthesis or anything
// that is not an identifier.
func fromList(stmt string) []string {
	var names []string
	for _, loc := range fromRegexp.FindAllStringIndex(stmt, -1) {
		rest := stmt[loc[1]:]
		for {
			m := identRegexp.FindStringSubmatchIndex(rest)
			if m == nil || isConnector(rest[m[2]:m[3]]) {
				break
			}
			names = append(names, rest[m[2]:m[3]])
			rest = rest[m[1]:]

			if a := aliasRegexp.FindStringSubmatchIndex(rest); a != nil && !isConnector(rest[a[4]:a[5]]) {
				rest = rest[a[1]:]
			}

			c := commaRegexp.FindStringIndex(rest)
			if c == nil {
				break
			}
			rest = rest[c[1]:]
		}
	}
	return names
}

var quoteReplacer = strings.NewReplacer("`", "", `"`, "", "[", "", "]", "")

func normalize(name string) string {
	return quoteReplacer.Replace(strings.TrimSpace(name))
}
