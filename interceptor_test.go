package tablecache

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prashanthpai/tablecache/cache"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

const usersQuery = `SELECT name FROM users WHERE age > ?`

func newTestDB(t *testing.T, assert *require.Assertions, config *Config) (*Interceptor, sqlmock.Sqlmock, *sql.DB) {
	dsn := fmt.Sprintf("fakeDSN:%s", t.Name())
	mockDB, qMock, err := sqlmock.NewWithDSN(dsn, sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	assert.Nil(err)
	t.Cleanup(func() { mockDB.Close() })

	if config == nil {
		config = &Config{}
	}
	ic, err := NewInterceptor(config)
	assert.Nil(err)

	driverName := fmt.Sprintf("mockdriver:%s", t.Name())
	sql.Register(driverName, ic.Driver(mockDB.Driver()))

	db, err := sql.Open(driverName, dsn)
	assert.Nil(err)
	t.Cleanup(func() { db.Close() })

	return ic, qMock, db
}

func runQuery(t *testing.T, assert *require.Assertions, qMock sqlmock.Sqlmock, db *sql.DB, query string, cacheMissExpected bool) {
	if cacheMissExpected {
		qMock.ExpectQuery(query).WithArgs(18).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("John").AddRow("Lisa"))
	}

	rows, err := db.QueryContext(context.Background(), query, 18)
	assert.Nil(err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		assert.Nil(rows.Scan(&name))
		names = append(names, name)
	}

	assert.Nil(rows.Err())
	assert.Equal([]string{"John", "Lisa"}, names)
	assert.Nil(qMock.ExpectationsWereMet())
}

func runQueryPrepared(t *testing.T, assert *require.Assertions, qMock sqlmock.Sqlmock, db *sql.DB, query string, cacheMissExpected bool) {
	qMock.ExpectPrepare(query)
	if cacheMissExpected {
		qMock.ExpectQuery(query).WithArgs(18).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("John").AddRow("Lisa"))
	}

	stmt, err := db.PrepareContext(context.Background(), query)
	assert.Nil(err)

	rows, err := stmt.QueryContext(context.Background(), 18)
	assert.Nil(err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		assert.Nil(rows.Scan(&name))
		names = append(names, name)
	}

	assert.Equal([]string{"John", "Lisa"}, names)
	assert.Nil(qMock.ExpectationsWereMet())
}

func runExec(t *testing.T, assert *require.Assertions, qMock sqlmock.Sqlmock, db *sql.DB, query string, execExpected bool) {
	if execExpected {
		qMock.ExpectExec(query).WithArgs(18).WillReturnResult(sqlmock.NewResult(0, 2))
	}

	res, err := db.ExecContext(context.Background(), query, 18)
	assert.Nil(err)

	n, err := res.RowsAffected()
	assert.Nil(err)
	assert.Equal(int64(2), n)
	assert.Nil(qMock.ExpectationsWereMet())
}

func TestNew(t *testing.T) {
	assert := require.New(t)

	// failure cases
	inputs := []*Config{
		nil,
		{MaxRows: -1},
	}
	for _, input := range inputs {
		i, err := NewInterceptor(input)
		assert.Nil(i)
		assert.NotNil(err)
	}

	// success
	i, err := NewInterceptor(&Config{
		Exclude: []string{"audit_log"},
	})
	assert.NotNil(i)
	assert.Nil(err)
	assert.True(i.IsEnabled())
	assert.False(i.QueryLog().IsEnabled())
	assert.Equal([]string{"audit_log"}, i.store.Exclusions())

	// stats
	s := i.Stats()
	assert.NotNil(s)
	assert.Equal(s.Hits, uint64(0))
	assert.Equal(s.Misses, uint64(0))
	assert.Equal(s.Invalidations, uint64(0))
}

func TestCacheHit(t *testing.T) {
	assert := require.New(t)
	ic, qMock, db := newTestDB(t, assert, nil)

	runQuery(t, assert, qMock, db, usersQuery, true)
	runQuery(t, assert, qMock, db, usersQuery, false)
	// same statement and args whether prepared or not
	runQueryPrepared(t, assert, qMock, db, usersQuery, false)

	assert.Equal(uint64(2), ic.Stats().Hits)
	assert.Equal(uint64(1), ic.Stats().Misses)
}

func TestCacheHitPrepared(t *testing.T) {
	assert := require.New(t)
	ic, qMock, db := newTestDB(t, assert, nil)

	runQueryPrepared(t, assert, qMock, db, usersQuery, true)
	runQueryPrepared(t, assert, qMock, db, usersQuery, false)

	assert.Equal(uint64(1), ic.Stats().Hits)
}

func TestArgsAreKeyed(t *testing.T) {
	assert := require.New(t)
	_, qMock, db := newTestDB(t, assert, nil)

	runQuery(t, assert, qMock, db, usersQuery, true)

	qMock.ExpectQuery(usersQuery).WithArgs(30).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Lisa"))
	var name string
	assert.Nil(db.QueryRowContext(context.Background(), usersQuery, 30).Scan(&name))
	assert.Equal("Lisa", name)
	assert.Nil(qMock.ExpectationsWereMet())
}

func TestWriteInvalidates(t *testing.T) {
	tests := map[string]string{
		"update":        `UPDATE users SET age = ? WHERE name = 'John'`,
		"insert":        `INSERT INTO users (age) VALUES (?)`,
		"delete":        `DELETE FROM users WHERE age < ?`,
		"join":          `UPDATE orders o JOIN users u ON u.id = o.uid SET o.age = ?`,
		"truncate":      `TRUNCATE TABLE users /* ? */`,
		"truncate bare": `TRUNCATE users /* ? */`,
	}

	for name, write := range tests {
		t.Run(name, func(t *testing.T) {
			assert := require.New(t)
			ic, qMock, db := newTestDB(t, assert, nil)

			booksQuery := `SELECT name FROM books WHERE pages > ?`
			runQuery(t, assert, qMock, db, usersQuery, true)
			runQuery(t, assert, qMock, db, booksQuery, true)

			runExec(t, assert, qMock, db, write, true)

			runQuery(t, assert, qMock, db, usersQuery, true)
			runQuery(t, assert, qMock, db, booksQuery, false)

			assert.Equal(uint64(1), ic.Stats().Invalidations)
		})
	}
}

func TestExecRead(t *testing.T) {
	assert := require.New(t)
	ic, qMock, db := newTestDB(t, assert, nil)

	query := `SELECT name FROM users WHERE age > ?`
	runExec(t, assert, qMock, db, query, true)
	runExec(t, assert, qMock, db, query, false)

	// exec and query results do not share entries
	runQuery(t, assert, qMock, db, query, true)

	assert.Equal(uint64(1), ic.Stats().Hits)
}

func TestPassThrough(t *testing.T) {
	tests := map[string]string{
		"set":          `SET NAMES ?`,
		"create table": `CREATE TABLE users (age INT DEFAULT ?)`,
		"unknown":      `WITH x AS (SELECT ?) SELECT * FROM x`,
		"no tables":    `SELECT ?`,
		"skip":         `-- @cache-skip
			SELECT name FROM users WHERE age > ?`,
	}

	for name, query := range tests {
		t.Run(name, func(t *testing.T) {
			assert := require.New(t)
			ic, qMock, db := newTestDB(t, assert, nil)

			runExec(t, assert, qMock, db, query, true)
			runExec(t, assert, qMock, db, query, true)

			assert.Equal(uint64(0), ic.Stats().Hits)
			assert.Equal(uint64(0), ic.Stats().Invalidations)
		})
	}
}

func TestDisabled(t *testing.T) {
	assert := require.New(t)
	ic, qMock, db := newTestDB(t, assert, nil)

	runQuery(t, assert, qMock, db, usersQuery, true)

	ic.Disable()
	assert.False(ic.IsEnabled())
	runQuery(t, assert, qMock, db, usersQuery, true)
	runQueryPrepared(t, assert, qMock, db, usersQuery, true)

	// nothing cached before or while disabled survives
	ic.Enable()
	runQuery(t, assert, qMock, db, usersQuery, true)
	runQuery(t, assert, qMock, db, usersQuery, false)
}

func TestExclusion(t *testing.T) {
	assert := require.New(t)
	ic, qMock, db := newTestDB(t, assert, &Config{
		Exclude: []string{"audit_log"},
	})

	query := `SELECT name FROM audit_log WHERE age > ?`
	runQuery(t, assert, qMock, db, query, true)
	runQuery(t, assert, qMock, db, query, true)

	ic.AddExclusion("users")
	runQuery(t, assert, qMock, db, usersQuery, true)
	runQuery(t, assert, qMock, db, usersQuery, true)

	ic.AddExclusions([]string{"books"})
	query = `SELECT name FROM books WHERE pages > ?`
	runQuery(t, assert, qMock, db, query, true)
	runQuery(t, assert, qMock, db, query, true)
}

func TestMaxRows(t *testing.T) {
	tests := map[string]struct {
		config *Config
		query  string
	}{
		"config": {
			config: &Config{MaxRows: 1},
			query:  usersQuery,
		},
		"attribute": {
			config: &Config{MaxRows: 10},
			query: `-- @cache-max-rows 1
				SELECT name FROM users WHERE age > ?`,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := require.New(t)
			_, qMock, db := newTestDB(t, assert, test.config)

			// runQuery() returns 2 rows, over the limit
			runQuery(t, assert, qMock, db, test.query, true)
			runQuery(t, assert, qMock, db, test.query, true)
		})
	}
}

func TestPartialReadNotCached(t *testing.T) {
	assert := require.New(t)
	_, qMock, db := newTestDB(t, assert, nil)

	qMock.ExpectQuery(usersQuery).WithArgs(18).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("John").AddRow("Lisa"))
	var name string
	assert.Nil(db.QueryRowContext(context.Background(), usersQuery, 18).Scan(&name))
	assert.Equal("John", name)

	runQuery(t, assert, qMock, db, usersQuery, true)
}

func TestStaleReadNotCached(t *testing.T) {
	assert := require.New(t)
	ic, qMock, db := newTestDB(t, assert, nil)

	qMock.ExpectQuery(usersQuery).WithArgs(18).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("John").AddRow("Lisa"))
	rows, err := db.QueryContext(context.Background(), usersQuery, 18)
	assert.Nil(err)

	// a write lands while the read is in flight
	runExec(t, assert, qMock, db, `UPDATE users SET age = ?`, true)

	for rows.Next() {
	}
	assert.Nil(rows.Close())

	runQuery(t, assert, qMock, db, usersQuery, true)
	runQuery(t, assert, qMock, db, usersQuery, false)
	assert.Equal(uint64(1), ic.Stats().Hits)
}

func TestInFlightWriteNotCached(t *testing.T) {
	assert := require.New(t)
	_, qMock, db := newTestDB(t, assert, nil)
	qMock.MatchExpectationsInOrder(false)

	write := `UPDATE users SET age = ?`
	qMock.ExpectExec(write).WithArgs(18).
		WillDelayFor(200 * time.Millisecond).
		WillReturnResult(sqlmock.NewResult(0, 1))
	qMock.ExpectQuery(usersQuery).WithArgs(18).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("OLD"))

	var wg sync.WaitGroup
	execErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := db.ExecContext(context.Background(), write, 18)
		execErr <- err
	}()

	// read while the write is still running on the backend
	time.Sleep(50 * time.Millisecond)
	assert.Equal([]string{"OLD"}, readNames(assert, db))

	wg.Wait()
	assert.Nil(<-execErr)

	qMock.ExpectQuery(usersQuery).WithArgs(18).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("NEW"))
	assert.Equal([]string{"NEW"}, readNames(assert, db))
	assert.Nil(qMock.ExpectationsWereMet())
}

func readNames(assert *require.Assertions, db *sql.DB) []string {
	rows, err := db.QueryContext(context.Background(), usersQuery, 18)
	assert.Nil(err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		assert.Nil(rows.Scan(&name))
		names = append(names, name)
	}
	assert.Nil(rows.Err())
	return names
}

func TestHashFuncErr(t *testing.T) {
	assert := require.New(t)

	hashFuncCalled := false
	onErrCalled := false
	ic, qMock, db := newTestDB(t, assert, &Config{
		HashFunc: func(callSite string, args []driver.NamedValue) (string, error) {
			hashFuncCalled = true
			return "", errors.New("some error")
		},
		OnError: func(err error) {
			onErrCalled = true
		},
	})

	runQuery(t, assert, qMock, db, usersQuery, true)
	assert.True(hashFuncCalled)
	assert.True(onErrCalled)
	assert.Equal(ic.Stats().Errors, uint64(1))
	hashFuncCalled = false // reset
	onErrCalled = false    // reset

	runQueryPrepared(t, assert, qMock, db, usersQuery, true)
	assert.True(hashFuncCalled)
	assert.True(onErrCalled)
	assert.Equal(ic.Stats().Errors, uint64(2))
}

func TestQueryLog(t *testing.T) {
	assert := require.New(t)
	ic, qMock, db := newTestDB(t, assert, nil)

	// disabled by default
	runQuery(t, assert, qMock, db, usersQuery, true)
	assert.Equal(0, ic.QueryLog().Count())

	ic.QueryLog().Enable()
	runQuery(t, assert, qMock, db, usersQuery, false)
	runExec(t, assert, qMock, db, `UPDATE users SET age = ?`, true)
	runQuery(t, assert, qMock, db, usersQuery, true)

	log := ic.QueryLog()
	assert.Equal(3, log.Count())
	assert.Equal([]string{usersQuery, `UPDATE users SET age = ?`}, log.Queries())

	entries := log.Entries(usersQuery)
	assert.Len(entries, 2)
	assert.True(entries[0].Cached)
	assert.False(entries[1].Cached)
}

func TestSnapshotRestore(t *testing.T) {
	assert := require.New(t)
	ic, qMock, db := newTestDB(t, assert, nil)

	runQuery(t, assert, qMock, db, usersQuery, true)
	img := ic.Snapshot()
	assert.Len(img["users"], 1)

	// round trip through the wire encoding
	b, err := encodeImage(img)
	assert.Nil(err)
	img, err = decodeImage(b)
	assert.Nil(err)

	ic.Disable()
	ic.Enable()
	ic.Restore(img)
	runQuery(t, assert, qMock, db, usersQuery, false)
}

func TestSharedStore(t *testing.T) {
	assert := require.New(t)

	store := cache.NewStore()
	ic, qMock, db := newTestDB(t, assert, &Config{Store: store})

	runQuery(t, assert, qMock, db, usersQuery, true)
	assert.Equal(1, store.Len())

	// writes seen by another interceptor on the same store invalidate too
	other, err := NewInterceptor(&Config{Store: store})
	assert.Nil(err)
	other.invalidate(`DELETE FROM users`, other.parser.Method(`DELETE FROM users`))
	assert.Equal(0, store.Len())

	runQuery(t, assert, qMock, db, usersQuery, true)
	assert.Equal(uint64(0), ic.Stats().Hits)
}
