package parser

import (
	"sync"

	"github.com/dgraph-io/ristretto"
)

// memo remembers the result of a pure function of a statement's text.
type memo interface {
	get(query string) (interface{}, bool)
	set(query string, v interface{})
	close()
}

// mapMemo grows for the lifetime of the process. The number of entries is
// bounded by the distinct statements an application issues.
type mapMemo struct {
	mu sync.RWMutex
	m  map[string]interface{}
}

func newMapMemo() *mapMemo {
	return &mapMemo{m: make(map[string]interface{})}
}

func (c *mapMemo) get(query string) (interface{}, bool) {
	c.mu.RLock()
	v, ok := c.m[query]
	c.mu.RUnlock()
	return v, ok
}

func (c *mapMemo) set(query string, v interface{}) {
	c.mu.Lock()
	c.m[query] = v
	c.mu.Unlock()
}

func (c *mapMemo) close() {}

// ristrettoMemo holds at most maxEntries results. Every result costs 1.
// Ristretto may drop or delay sets; a dropped result is recomputed on the
// next lookup.
type ristrettoMemo struct {
	c *ristretto.Cache
}

func newRistrettoMemo(maxEntries int64) (*ristrettoMemo, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * maxEntries,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &ristrettoMemo{c: c}, nil
}

func (r *ristrettoMemo) get(query string) (interface{}, bool) {
	return r.c.Get(query)
}

func (r *ristrettoMemo) set(query string, v interface{}) {
	_ = r.c.Set(query, v, 1)
}

func (r *ristrettoMemo) close() {
	r.c.Close()
}
