package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intake/fileswatcher/internal/intake"
)

// Postgres reads file types and directories from PostgreSQL. The schema is
// db/migrations/001_file_types.sql.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pgxpool connection to connStr and pings the database.
func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("catalog: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// ListActiveFileTypes returns the active file types ordered by id.
func (p *Postgres) ListActiveFileTypes(ctx context.Context) ([]intake.FileType, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, code, active
		FROM   file_types
		WHERE  active
		ORDER  BY id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list file types: %w", err)
	}
	defer rows.Close()

	var types []intake.FileType
	for rows.Next() {
		var ft intake.FileType
		if err := rows.Scan(&ft.ID, &ft.Code, &ft.Active); err != nil {
			return nil, fmt.Errorf("catalog: scan file type: %w", err)
		}
		types = append(types, ft)
	}
	return types, rows.Err()
}

// ResolveDirectory returns the directory row of fileTypeID, or nil when the
// file type has none.
func (p *Postgres) ResolveDirectory(ctx context.Context, fileTypeID int64) (*intake.WatchTarget, error) {
	t := intake.WatchTarget{FileTypeID: fileTypeID}
	err := p.pool.QueryRow(ctx, `
		SELECT incoming, staging, dump, processed, errors, outgoing
		FROM   directories
		WHERE  file_type_id = $1`, fileTypeID).
		Scan(&t.Incoming, &t.Staging, &t.Dump, &t.Processed, &t.Errors, &t.Outgoing)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: resolve directory %d: %w", fileTypeID, err)
	}
	return &t, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
