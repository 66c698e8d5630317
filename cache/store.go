package cache

import (
	"strings"
	"sync"
)

// Store holds cached items bucketed by table signature so that all the items
// of a table can be dropped with one scan over the signatures. A Store is safe
// for concurrent use.
//
// Tables are matched by substring: invalidating "orders" also clears the
// bucket "orders_archive", and excluding "log" keeps "audit_log" out of the
// cache.
type Store struct {
	mu       sync.RWMutex
	buckets  Image
	exclude  []string
	disabled bool
	epoch    uint64
}

// NewStore returns an empty, enabled Store.
func NewStore() *Store {
	return &Store{
		buckets: make(Image),
	}
}

// IsEnabled reports whether the store serves and accepts items.
func (s *Store) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.disabled
}

// Enable enables the store. A Store is enabled on creation.
func (s *Store) Enable() {
	s.mu.Lock()
	s.disabled = false
	s.mu.Unlock()
}

// Disable disables the store and drops its items. Writes are not tracked
// while disabled so nothing cached before can be trusted afterwards.
func (s *Store) Disable() {
	s.mu.Lock()
	s.disabled = true
	s.buckets = make(Image)
	s.epoch++
	s.mu.Unlock()
}

// Get returns the item stored under key. It always misses when the store is
// disabled.
func (s *Store) Get(key Key) (*Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.disabled {
		return nil, false
	}

	item, ok := s.buckets[key.Signature][key.Query][key.CallSite][key.Args]
	return item, ok
}

// Epoch returns a token identifying the current invalidation state, to be
// passed to SetSince.
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Set stores item under key. It is a no-op when the store is disabled or
// when one of the key's tables is excluded.
func (s *Store) Set(key Key, item *Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(key, item)
}

// SetSince stores item under key only if nothing was invalidated after epoch
// was obtained from Epoch. An item computed before a write finished is never
// stored after that write's invalidation.
func (s *Store) SetSince(key Key, item *Item, epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		return false
	}
	return s.set(key, item)
}

func (s *Store) set(key Key, item *Item) bool {
	if s.disabled || s.excluded(key.Tables()) {
		return false
	}

	queries, ok := s.buckets[key.Signature]
	if !ok {
		queries = make(map[string]map[string]map[string]*Item)
		s.buckets[key.Signature] = queries
	}
	sites, ok := queries[key.Query]
	if !ok {
		sites = make(map[string]map[string]*Item)
		queries[key.Query] = sites
	}
	args, ok := sites[key.CallSite]
	if !ok {
		args = make(map[string]*Item)
		sites[key.CallSite] = args
	}
	args[key.Args] = item

	return true
}

// Invalidate drops every bucket whose signature contains one of tables and
// returns the number of buckets dropped. Buckets of excluded tables are left
// alone. It is a no-op when the store is disabled.
func (s *Store) Invalidate(tables []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return 0
	}
	s.epoch++

	var n int
	for sig := range s.buckets {
		if s.excluded(Key{Signature: sig}.Tables()) {
			continue
		}
		for _, table := range tables {
			if table != "" && strings.Contains(sig, table) {
				delete(s.buckets, sig)
				n++
				break
			}
		}
	}

	return n
}

// Excluded reports whether any of tables contains an excluded name.
func (s *Store) Excluded(tables []string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.excluded(tables)
}

func (s *Store) excluded(tables []string) bool {
	for _, ex := range s.exclude {
		for _, table := range tables {
			if strings.Contains(table, ex) {
				return true
			}
		}
	}
	return false
}

// AddExclusion keeps tables whose name contains table out of the cache.
func (s *Store) AddExclusion(table string) {
	s.AddExclusions([]string{table})
}

// AddExclusions is AddExclusion for several tables. Items already cached for
// newly excluded tables are dropped.
func (s *Store) AddExclusions(tables []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range tables {
		if table == "" || contains(s.exclude, table) {
			continue
		}
		s.exclude = append(s.exclude, table)
	}
	s.dropExcluded()
}

func (s *Store) dropExcluded() {
	for sig := range s.buckets {
		if s.excluded(Key{Signature: sig}.Tables()) {
			delete(s.buckets, sig)
		}
	}
}

// Exclusions returns the excluded table names in insertion order.
func (s *Store) Exclusions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cpy := make([]string, len(s.exclude))
	copy(cpy, s.exclude)
	return cpy
}

// Len returns the number of cached items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, queries := range s.buckets {
		for _, sites := range queries {
			for _, args := range sites {
				n += len(args)
			}
		}
	}
	return n
}

// Snapshot returns a copy of the store's content. Items are shared with the
// store and must not be modified.
func (s *Store) Snapshot() Image {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buckets.clone()
}

// Restore replaces the store's content with a copy of img. Buckets of
// excluded tables are not restored.
func (s *Store) Restore(img Image) {
	cpy := img.clone()

	s.mu.Lock()
	s.buckets = cpy
	s.dropExcluded()
	s.epoch++
	s.mu.Unlock()
}

func (img Image) clone() Image {
	cpy := make(Image, len(img))
	for sig, queries := range img {
		qs := make(map[string]map[string]map[string]*Item, len(queries))
		for query, sites := range queries {
			ss := make(map[string]map[string]*Item, len(sites))
			for site, args := range sites {
				as := make(map[string]*Item, len(args))
				for arg, item := range args {
					as[arg] = item
				}
				ss[site] = as
			}
			qs[query] = ss
		}
		cpy[sig] = qs
	}
	return cpy
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
