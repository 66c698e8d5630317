package tablecache

import (
	"context"
	"database/sql/driver"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ngrok/sqlmw"
	"github.com/prashanthpai/tablecache/cache"
	"github.com/prashanthpai/tablecache/parser"
	"go.uber.org/zap"
)

// Call sites distinguish items produced by different accessors for the same
// statement and arguments.
const (
	CallSiteQuery = "query"
	CallSiteExec  = "exec"
)

// Config is the configuration passed to NewInterceptor for creating new
// Interceptor instances.
type Config struct {
	// Store holds the cached items. Interceptors sharing a Store share
	// their cache and invalidations. A new Store is created when nil.
	Store *cache.Store
	// Parser classifies statements and extracts their tables. A new
	// unbounded Parser is created when nil.
	Parser *parser.Parser
	// OnError is called whenever HashFunc returns error. Since the
	// interceptor never fails a statement because of the cache, you can
	// use this hook to log errors or even choose to disable the cache.
	OnError func(error)
	// HashFunc can be optionally set to provide a custom hashing function
	// for statement arguments. By default mitchellh/hashstructure is used
	// which internally uses FNV.
	HashFunc func(callSite string, args []driver.NamedValue) (string, error)
	// MaxRows is the maximum number of rows a result set may have to be
	// cached. Zero means no limit. Statements can override it with a
	// "@cache-max-rows N" comment.
	MaxRows int
	// Exclude lists tables that are never cached. See cache.Store for the
	// matching rules.
	Exclude []string
	// Logger receives debug logs of cache activity. Nothing is logged
	// when nil.
	Logger *zap.Logger
}

// Interceptor is a ngrok/sqlmw interceptor that caches the results of read
// statements and drops them when a write statement touches the same tables.
type Interceptor struct {
	store    *cache.Store
	parser   *parser.Parser
	hashFunc func(callSite string, args []driver.NamedValue) (string, error)
	onErr    func(error)
	maxRows  int
	log      *zap.Logger
	queryLog *QueryLog
	stats    Stats
	sqlmw.NullInterceptor
}

// NewInterceptor returns a new instance of interceptor initialised with the
// provided config.
func NewInterceptor(config *Config) (*Interceptor, error) {
	if config == nil {
		return nil, fmt.Errorf("config can't be nil")
	}

	if config.MaxRows < 0 {
		return nil, fmt.Errorf("MaxRows can't be negative: %d", config.MaxRows)
	}

	i := &Interceptor{
		store:    config.Store,
		parser:   config.Parser,
		hashFunc: config.HashFunc,
		onErr:    config.OnError,
		maxRows:  config.MaxRows,
		log:      config.Logger,
		queryLog: NewQueryLog(),
	}

	if i.store == nil {
		i.store = cache.NewStore()
	}

	if i.parser == nil {
		p, err := parser.New(nil)
		if err != nil {
			return nil, err
		}
		i.parser = p
	}

	if i.hashFunc == nil {
		i.hashFunc = defaultHashFunc
	}

	if i.log == nil {
		i.log = zap.NewNop()
	}

	i.store.AddExclusions(config.Exclude)

	return i, nil
}

// Driver wraps d so that every statement run through it goes through the
// interceptor. Register the returned driver with sql.Register.
func (i *Interceptor) Driver(d driver.Driver) driver.Driver {
	return sqlmw.Driver(d, i)
}

// Enable enables the cache. Interceptor instance is enabled by default on
// creation.
func (i *Interceptor) Enable() {
	i.store.Enable()
}

// Disable disables the cache and drops its content. All statements go
// directly to the SQL backend until Enable is called.
func (i *Interceptor) Disable() {
	i.store.Disable()
}

// IsEnabled reports whether the cache is enabled.
func (i *Interceptor) IsEnabled() bool {
	return i.store.IsEnabled()
}

// AddExclusion keeps tables whose name contains table out of the cache.
func (i *Interceptor) AddExclusion(table string) {
	i.store.AddExclusion(table)
}

// AddExclusions keeps tables whose name contains one of tables out of the
// cache.
func (i *Interceptor) AddExclusions(tables []string) {
	i.store.AddExclusions(tables)
}

// Snapshot returns the cache content. See RedisSnapshotter for persisting it.
func (i *Interceptor) Snapshot() cache.Image {
	return i.store.Snapshot()
}

// Restore replaces the cache content with img.
func (i *Interceptor) Restore(img cache.Image) {
	i.store.Restore(img)
}

// QueryLog returns the log of statement executions. It is disabled by
// default.
func (i *Interceptor) QueryLog() *QueryLog {
	return i.queryLog
}

// StmtQueryContext intercepts database/sql's stmt.QueryContext calls from a prepared statement.
func (i *Interceptor) StmtQueryContext(ctx context.Context, conn driver.StmtQueryContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	rows, err := i.query(query, args, func() (driver.Rows, error) {
		return conn.QueryContext(ctx, args)
	})
	return ctx, rows, err
}

// ConnQueryContext intercepts database/sql's DB.QueryContext Conn.QueryContext calls.
func (i *Interceptor) ConnQueryContext(ctx context.Context, conn driver.QueryerContext, query string, args []driver.NamedValue) (context.Context, driver.Rows, error) {
	rows, err := i.query(query, args, func() (driver.Rows, error) {
		return conn.QueryContext(ctx, query, args)
	})
	return ctx, rows, err
}

// StmtExecContext intercepts database/sql's stmt.ExecContext calls from a prepared statement.
func (i *Interceptor) StmtExecContext(ctx context.Context, conn driver.StmtExecContext, query string, args []driver.NamedValue) (driver.Result, error) {
	return i.exec(query, args, func() (driver.Result, error) {
		return conn.ExecContext(ctx, args)
	})
}

// ConnExecContext intercepts database/sql's DB.ExecContext Conn.ExecContext calls.
func (i *Interceptor) ConnExecContext(ctx context.Context, conn driver.ExecerContext, query string, args []driver.NamedValue) (driver.Result, error) {
	return i.exec(query, args, func() (driver.Result, error) {
		return conn.ExecContext(ctx, query, args)
	})
}

func (i *Interceptor) query(query string, args []driver.NamedValue, next func() (driver.Rows, error)) (driver.Rows, error) {
	start := time.Now()

	key, epoch, attrs, ok := i.before(query, CallSiteQuery, args)
	if !ok {
		rows, err := next()
		i.settle(query)
		i.queryLog.Add(query, time.Since(start), false)
		return rows, err
	}

	if item, hit := i.checkCache(key); hit {
		i.queryLog.Add(query, time.Since(start), true)
		return &rowsCached{item, 0}, nil
	}

	rows, err := next()
	i.queryLog.Add(query, time.Since(start), false)
	if err != nil {
		return rows, err
	}

	cacheSetter := func(item *cache.Item) {
		i.setCache(key, item, epoch)
	}

	return newRowsRecorder(cacheSetter, rows, attrs.maxRows), nil
}

func (i *Interceptor) exec(query string, args []driver.NamedValue, next func() (driver.Result, error)) (driver.Result, error) {
	start := time.Now()

	key, epoch, _, ok := i.before(query, CallSiteExec, args)
	if !ok {
		res, err := next()
		i.settle(query)
		i.queryLog.Add(query, time.Since(start), false)
		return res, err
	}

	if item, hit := i.checkCache(key); hit && item.Result != nil {
		i.queryLog.Add(query, time.Since(start), true)
		return resultCached{item.Result}, nil
	}

	res, err := next()
	i.queryLog.Add(query, time.Since(start), false)
	if err != nil {
		return res, err
	}

	lastInsertID, err1 := res.LastInsertId()
	rowsAffected, err2 := res.RowsAffected()
	if err1 == nil && err2 == nil {
		i.setCache(key, &cache.Item{
			Result: &cache.Result{
				LastInsertID: lastInsertID,
				RowsAffected: rowsAffected,
			},
		}, epoch)
	}

	return res, nil
}

// before classifies query. Writes invalidate the tables they touch. For reads
// that can be cached it returns the cache key and the store epoch observed
// before the lookup.
func (i *Interceptor) before(query, callSite string, args []driver.NamedValue) (cache.Key, uint64, attributes, bool) {
	method := i.parser.Method(query)

	if method.IsWrite() {
		i.invalidate(query, method)
		return cache.Key{}, 0, attributes{}, false
	}

	if !method.IsRead() || !i.store.IsEnabled() {
		return cache.Key{}, 0, attributes{}, false
	}

	attrs := getAttrs(query, i.maxRows)
	if attrs.skip {
		return cache.Key{}, 0, attrs, false
	}

	sig := i.parser.Signature(query)
	if sig == "" {
		return cache.Key{}, 0, attrs, false
	}

	hash, err := i.hashFunc(callSite, args)
	if err != nil {
		i.reportErr(fmt.Errorf("HashFunc failed: %w", err))
		return cache.Key{}, 0, attrs, false
	}

	key := cache.Key{
		Signature: sig,
		Query:     query,
		CallSite:  callSite,
		Args:      hash,
	}

	return key, i.store.Epoch(), attrs, true
}

func (i *Interceptor) invalidate(query string, method parser.Method) {
	tables := i.parser.Tables(query)
	n := i.store.Invalidate(tables)
	atomic.AddUint64(&i.stats.Invalidations, 1)

	i.log.Debug("cache invalidated",
		zap.Stringer("method", method),
		zap.Strings("tables", tables),
		zap.Int("buckets", n),
	)
}

// settle invalidates the tables of a write once more after the backend has
// run it. Reads that started while the write was in flight may have seen the
// old rows; the second invalidation drops what they stored and turns away
// what they have yet to store.
func (i *Interceptor) settle(query string) {
	if !i.parser.Method(query).IsWrite() {
		return
	}
	i.store.Invalidate(i.parser.Tables(query))
}

func (i *Interceptor) checkCache(key cache.Key) (*cache.Item, bool) {
	item, ok := i.store.Get(key)
	if !ok {
		atomic.AddUint64(&i.stats.Misses, 1)
		i.log.Debug("cache miss", zap.String("tables", key.Signature), zap.String("call_site", key.CallSite))
		return nil, false
	}
	atomic.AddUint64(&i.stats.Hits, 1)
	i.log.Debug("cache hit", zap.String("tables", key.Signature), zap.String("call_site", key.CallSite))

	return item, true
}

func (i *Interceptor) setCache(key cache.Key, item *cache.Item, epoch uint64) {
	if !i.store.SetSince(key, item, epoch) {
		i.log.Debug("cache set skipped", zap.String("tables", key.Signature))
	}
}

func (i *Interceptor) reportErr(err error) {
	atomic.AddUint64(&i.stats.Errors, 1)
	i.log.Debug("cache error", zap.Error(err))
	if i.onErr != nil {
		i.onErr(err)
	}
}

// Stats contains cache statistics.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Invalidations uint64
	Errors        uint64
}

// Stats returns cache stats.
func (i *Interceptor) Stats() *Stats {
	return &Stats{
		Hits:          atomic.LoadUint64(&i.stats.Hits),
		Misses:        atomic.LoadUint64(&i.stats.Misses),
		Invalidations: atomic.LoadUint64(&i.stats.Invalidations),
		Errors:        atomic.LoadUint64(&i.stats.Errors),
	}
}
