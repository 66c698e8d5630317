package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/prashanthpai/tablecache"
	"github.com/prashanthpai/tablecache/cache"
	"github.com/prashanthpai/tablecache/parser"

	redis "github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/stdlib"
	"go.uber.org/zap"
)

const (
	defaultMaxRowsToCache   = 100
	defaultMaxParsedQueries = 10000
	snapshotTTL             = time.Hour
	snapshotKeyPrefix       = "tbc:"
	redisAddr               = "127.0.0.1:6379"
)

func newSnapshotter(ctx context.Context) (*tablecache.RedisSnapshotter, error) {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{redisAddr},
	})

	if err := r.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return tablecache.NewRedisSnapshotter(r, snapshotKeyPrefix), nil
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment() failed: %v", err)
	}
	defer logger.Sync()

	p, err := parser.New(&parser.Config{
		MaxEntries: defaultMaxParsedQueries,
	})
	if err != nil {
		logger.Fatal("parser.New() failed", zap.Error(err))
	}
	defer p.Close()

	interceptor, err := tablecache.NewInterceptor(&tablecache.Config{
		Parser:  p,
		MaxRows: defaultMaxRowsToCache,
		Exclude: []string{"audit_log"},
		Logger:  logger,
		OnError: func(err error) {
			logger.Warn("cache error", zap.Error(err))
		},
	})
	if err != nil {
		logger.Fatal("tablecache.NewInterceptor() failed", zap.Error(err))
	}
	interceptor.QueryLog().Enable()

	ctx := context.Background()

	// warm up from the last run, if redis is around
	snapshotter, err := newSnapshotter(ctx)
	if err != nil {
		logger.Warn("snapshots disabled", zap.Error(err))
	} else {
		img, err := snapshotter.Load(ctx)
		switch {
		case err == nil:
			interceptor.Restore(img)
		case !errors.Is(err, cache.ErrNoSnapshot):
			logger.Warn("snapshotter.Load() failed", zap.Error(err))
		}
	}

	defer func() {
		fmt.Printf("\nInterceptor metrics: %+v\n", interceptor.Stats())
		fmt.Printf("Statements executed: %d\n", interceptor.QueryLog().Count())
		if snapshotter != nil {
			if err := snapshotter.Save(ctx, interceptor.Snapshot(), snapshotTTL); err != nil {
				logger.Warn("snapshotter.Save() failed", zap.Error(err))
			}
		}
	}()

	// install the wrapper which wraps pgx driver
	sql.Register("pgx-tablecache", interceptor.Driver(stdlib.GetDefaultDriver()))

	if err := run(ctx); err != nil {
		logger.Error("run() failed", zap.Error(err))
	}
}

func run(ctx context.Context) error {

	db, err := sql.Open("pgx-tablecache",
		"host=127.0.0.1 port=5432 user=postgres dbname=postgres sslmode=disable")
	if err != nil {
		return err
	}
	defer db.Close()

	if err = db.PingContext(ctx); err != nil {
		return fmt.Errorf("db.PingContext() failed: %w", err)
	}

	for i := 0; i < 15; i++ {
		start := time.Now()
		if err := doQuery(ctx, db); err != nil {
			return fmt.Errorf("doQuery() failed: %w", err)
		}
		fmt.Printf("i=%d; t=%s\n", i, time.Since(start))

		// every fifth round a write drops the cached books
		if i%5 == 4 {
			if _, err := db.ExecContext(ctx, `UPDATE books SET pages = pages WHERE pages > $1`, 10); err != nil {
				return fmt.Errorf("db.ExecContext() failed: %w", err)
			}
		}
		time.Sleep(1 * time.Second)
	}

	return nil
}

func doQuery(ctx context.Context, db *sql.DB) error {

	rows, err := db.QueryContext(ctx, `SELECT name, pages FROM books WHERE pages > $1`, 10)
	if err != nil {
		return fmt.Errorf("db.QueryContext() failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var pages int
		if err := rows.Scan(&name, &pages); err != nil {
			return fmt.Errorf("rows.Scan() failed: %w", err)
		}
	}

	return rows.Err()
}
