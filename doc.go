/*
Package tablecache provides a caching middleware for database/sql users that
memoizes the results of read statements and drops them as soon as a write
statement touches one of the same tables. Your program will perceive the
database client/driver as a read-through cache that never serves a result
older than the last write it issued.

Usage:

	import (
		"database/sql"

		"github.com/prashanthpai/tablecache"
		"github.com/jackc/pgx/v4/stdlib"
	)

	func main() {
		...
		// create a tablecache.Interceptor instance
		interceptor, err := tablecache.NewInterceptor(&tablecache.Config{
			Exclude: []string{"audit_log"},
		})
		...

		// wrap pgx driver with the interceptor and register it
		sql.Register("pgx-with-cache", interceptor.Driver(stdlib.GetDefaultDriver()))

		// open the database using the wrapped driver
		db, err := sql.Open("pgx-with-cache", dsn)
		...
	}

Every statement is classified by its verb. SELECT, SHOW and DESCRIBE results
are cached, keyed by the tables they read, the statement text, the accessor
(query or exec) and a hash of the arguments. INSERT, UPDATE, DELETE, DROP,
TRUNCATE and ALTER drop every cached result of the tables they touch before
they run. Anything else goes straight to the driver.

Tables are found with regular expressions, not a SQL parser, and are matched
by substring: a write to "orders" also drops the results of "orders_archive".

Statements can opt out or limit the size of what is cached with comments:

	rows, err := db.QueryContext(context.TODO(), `
		-- @cache-max-rows 10
		SELECT name, pages FROM books WHERE pages > $1`, 100)

	rows, err := db.QueryContext(context.TODO(), `
		-- @cache-skip
		SELECT NOW() FROM books`)
*/
package tablecache
