package records

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intake/fileswatcher/internal/intake"
)

// PostgresStore is the PostgreSQL-backed record store. The schema is
// db/migrations/002_intake_records.sql.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pgxpool connection to connStr and pings the database.
func NewPostgres(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("records: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("records: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Close closes the pool.
func NewPostgresFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts rec. Rows that conflict on the primary key are silently
// ignored.
func (s *PostgresStore) Create(ctx context.Context, rec intake.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO intake_records
			(id, file_type_id, name, path, status, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`,
		rec.ID, rec.FileTypeID, rec.Name, rec.Path,
		string(rec.Status), rec.Version, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("records: create %s: %w", rec.ID, err)
	}
	return nil
}

// List returns the records matching q.
func (s *PostgresStore) List(ctx context.Context, q Query) ([]intake.Record, error) {
	q = q.normalize()

	// Base args: $1=limit, $2=offset
	args := []any{q.Limit, q.Offset}
	where := "WHERE TRUE"
	argIdx := 3

	if q.FileTypeID != 0 {
		where += fmt.Sprintf(" AND file_type_id = $%d", argIdx)
		args = append(args, q.FileTypeID)
		argIdx++
	}
	if q.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(q.Status))
		argIdx++
	}
	if !q.From.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, q.From)
		argIdx++
	}
	if !q.To.IsZero() {
		where += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, q.To)
	}

	sql := fmt.Sprintf(`
		SELECT id::text, file_type_id, name, path, status, version, created_at
		FROM   intake_records
		%s
		ORDER  BY created_at DESC, id
		LIMIT  $1 OFFSET $2`, where)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("records: list: %w", err)
	}
	defer rows.Close()

	var out []intake.Record
	for rows.Next() {
		var (
			rec    intake.Record
			status string
		)
		if err := rows.Scan(&rec.ID, &rec.FileTypeID, &rec.Name, &rec.Path, &status, &rec.Version, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("records: list scan: %w", err)
		}
		rec.Status = intake.Status(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the total number of stored records.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM intake_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("records: count: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
