package cache

import (
	"database/sql/driver"
	"errors"
	"strings"
)

// ErrNoSnapshot is returned by snapshot stores when no image has been saved.
var ErrNoSnapshot = errors.New("no cache snapshot")

// Item represents a single item in cache and will contain either the results
// of a single read query or the result of executing one.
type Item struct {
	Cols   []string
	Rows   [][]driver.Value
	Result *Result `msgpack:",omitempty"`
}

// Result is the cached outcome of a statement run through Exec.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// Key locates an Item. Signature is the sorted, '/'-joined set of tables the
// statement touches, Query the statement text verbatim, CallSite the accessor
// that produced the value ("query", "exec") and Args the argument signature.
type Key struct {
	Signature string
	Query     string
	CallSite  string
	Args      string
}

// Tables returns the tables encoded in the key's signature.
func (k Key) Tables() []string {
	if k.Signature == "" {
		return nil
	}
	return strings.Split(k.Signature, "/")
}

// Image is the full content of a Store: signature -> query -> call site ->
// argument signature -> item.
type Image map[string]map[string]map[string]map[string]*Item
