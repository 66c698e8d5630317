package tablecache

import (
	"sort"
	"sync"
	"time"
)

// LogEntry records one execution of a statement.
type LogEntry struct {
	Time     time.Time
	Duration time.Duration
	Cached   bool
}

// QueryLog records statement executions and their timings. It is disabled
// on creation; while disabled, Add does nothing.
type QueryLog struct {
	mu      sync.Mutex
	enabled bool
	count   int
	logs    map[string][]LogEntry
}

// NewQueryLog returns an empty, disabled QueryLog.
func NewQueryLog() *QueryLog {
	return &QueryLog{
		logs: make(map[string][]LogEntry),
	}
}

// Enable starts recording.
func (l *QueryLog) Enable() {
	l.mu.Lock()
	l.enabled = true
	l.mu.Unlock()
}

// Disable stops recording. Recorded entries are kept.
func (l *QueryLog) Disable() {
	l.mu.Lock()
	l.enabled = false
	l.mu.Unlock()
}

// IsEnabled reports whether executions are being recorded.
func (l *QueryLog) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Add records an execution of query that took elapsed. cached tells whether
// the result was served from cache.
func (l *QueryLog) Add(query string, elapsed time.Duration, cached bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	l.count++
	l.logs[query] = append(l.logs[query], LogEntry{
		Time:     time.Now(),
		Duration: elapsed,
		Cached:   cached,
	})
}

// Count returns the number of recorded executions.
func (l *QueryLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Queries returns the distinct recorded statements, sorted.
func (l *QueryLog) Queries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	queries := make([]string, 0, len(l.logs))
	for q := range l.logs {
		queries = append(queries, q)
	}
	sort.Strings(queries)
	return queries
}

// Entries returns the recorded executions of query, oldest first.
func (l *QueryLog) Entries(query string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]LogEntry, len(l.logs[query]))
	copy(entries, l.logs[query])
	return entries
}

// Logs returns every recorded execution keyed by statement.
func (l *QueryLog) Logs() map[string][]LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	logs := make(map[string][]LogEntry, len(l.logs))
	for q, entries := range l.logs {
		cpy := make([]LogEntry, len(entries))
		copy(cpy, entries)
		logs[q] = cpy
	}
	return logs
}

// Clean drops every recorded execution.
func (l *QueryLog) Clean() {
	l.mu.Lock()
	l.count = 0
	l.logs = make(map[string][]LogEntry)
	l.mu.Unlock()
}
