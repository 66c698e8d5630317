package tablecache

import (
	"database/sql/driver"
	"io"

	"github.com/prashanthpai/tablecache/cache"
)

// rowsCached implements driver.Rows interface
type rowsCached struct {
	*cache.Item
	ptr int
}

func (r *rowsCached) Columns() []string {
	return r.Item.Cols
}

func (r *rowsCached) Next(dest []driver.Value) error {
	if r.ptr >= len(r.Item.Rows) {
		return io.EOF
	}

	copy(dest, r.Item.Rows[r.ptr])
	r.ptr++

	return nil
}

func (r *rowsCached) Close() error {
	return nil
}

// resultCached implements driver.Result interface
type resultCached struct {
	*cache.Result
}

func (r resultCached) LastInsertId() (int64, error) {
	return r.Result.LastInsertID, nil
}

func (r resultCached) RowsAffected() (int64, error) {
	return r.Result.RowsAffected, nil
}
