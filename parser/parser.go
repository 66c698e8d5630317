/*
Package parser classifies SQL statements and extracts the tables they touch.

It is not a SQL parser: the verb is matched at the start of each statement
and tables are picked out of FROM, INSERT INTO, UPDATE, JOIN and TABLE
clauses with regular expressions. Results are memoized per statement text.
*/
package parser

import (
	"fmt"
	"strings"
)

// Config is the configuration passed to New.
type Config struct {
	// MaxEntries bounds the number of statements whose method and tables
	// are remembered. Zero keeps every statement for the lifetime of the
	// Parser.
	MaxEntries int64
}

// Parser classifies statements and extracts their tables, remembering both
// per statement text. A Parser is safe for concurrent use.
type Parser struct {
	methods memo
	tables  memo
}

// New returns a Parser. config may be nil.
func New(config *Config) (*Parser, error) {
	if config == nil || config.MaxEntries == 0 {
		return &Parser{
			methods: newMapMemo(),
			tables:  newMapMemo(),
		}, nil
	}

	if config.MaxEntries < 0 {
		return nil, fmt.Errorf("MaxEntries can't be negative: %d", config.MaxEntries)
	}

	methods, err := newRistrettoMemo(config.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("method memo: %w", err)
	}
	tables, err := newRistrettoMemo(config.MaxEntries)
	if err != nil {
		methods.close()
		return nil, fmt.Errorf("table memo: %w", err)
	}

	return &Parser{
		methods: methods,
		tables:  tables,
	}, nil
}

// Method returns the verb of query, Unknown if none is recognised.
func (p *Parser) Method(query string) Method {
	if v, ok := p.methods.get(query); ok {
		return v.(Method)
	}

	m := classify(query)
	p.methods.set(query, m)

	return m
}

// Tables returns the sorted set of tables referenced by query. The returned
// slice is a copy and may be modified by the caller.
func (p *Parser) Tables(query string) []string {
	tables := p.tables0(query)
	cpy := make([]string, len(tables))
	copy(cpy, tables)
	return cpy
}

// Signature returns the table signature of query: its tables, sorted and
// joined with '/'.
func (p *Parser) Signature(query string) string {
	return strings.Join(p.tables0(query), "/")
}

func (p *Parser) tables0(query string) []string {
	if v, ok := p.tables.get(query); ok {
		return v.([]string)
	}

	tables := extractTables(query)
	p.tables.set(query, tables)

	return tables
}

// Close releases the resources of a bounded Parser.
func (p *Parser) Close() {
	p.methods.close()
	p.tables.close()
}
