// Package records persists intake records. Two stores are provided: an
// embedded WAL-mode SQLite store for single-host deployments and a
// PostgreSQL store backed by a pgxpool connection pool.
package records

import (
	"context"
	"fmt"
	"time"

	"github.com/intake/fileswatcher/internal/intake"
)

const (
	// DefaultLimit is applied by List when Query.Limit is not positive.
	DefaultLimit = 100
	// MaxLimit caps Query.Limit.
	MaxLimit = 1000
)

// Query carries the filter and pagination parameters for List.
//
// A zero FileTypeID or empty Status means no filter on that column. From and
// To bracket created_at as [From, To); a zero time leaves that side open.
// Results are ordered by created_at DESC, id ASC.
type Query struct {
	FileTypeID int64
	Status     intake.Status
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// normalize clamps the pagination fields.
func (q Query) normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Store is implemented by SQLiteStore and PostgresStore.
type Store interface {
	intake.RecordStore
	List(ctx context.Context, q Query) ([]intake.Record, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Open returns the store selected by driver ("sqlite" or "postgres").
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "sqlite":
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("records: unknown driver %q", driver)
	}
}
