package records

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/intake/fileswatcher/internal/intake"
)

// SQLiteStore is a WAL-mode SQLite-backed record store. It is safe for
// concurrent use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the SQLite database at path, enables WAL
// journal mode, and applies the schema. If path is ":memory:", an in-memory
// database is used; this is suitable for tests but loses all data when
// closed.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("records: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time; a single connection
	// serialises writers instead of failing with "database is locked".
	db.SetMaxOpenConns(1)

	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("records: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("records: apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// sqliteDDL mirrors db/migrations/002_intake_records.sql.
const sqliteDDL = `
CREATE TABLE IF NOT EXISTS intake_records (
    id           TEXT    PRIMARY KEY,
    file_type_id INTEGER NOT NULL,
    name         TEXT    NOT NULL,
    path         TEXT    NOT NULL,
    status       TEXT    NOT NULL DEFAULT 'NOT_PROCESSED',
    version      INTEGER NOT NULL DEFAULT 0,
    created_at   TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_intake_records_type_created
    ON intake_records (file_type_id, created_at);
CREATE INDEX IF NOT EXISTS idx_intake_records_status
    ON intake_records (status);
`

// sqliteTime is the stored timestamp format. Fixed-width fractional seconds
// keep lexical and chronological order identical.
const sqliteTime = "2006-01-02T15:04:05.000000000Z"

// parseSQLiteTime parses a stored created_at. Values written by other tools
// in RFC 3339 form are accepted too.
func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Create persists rec. A record whose id already exists is ignored.
func (s *SQLiteStore) Create(ctx context.Context, rec intake.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO intake_records (id, file_type_id, name, path, status, version, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID,
		rec.FileTypeID,
		rec.Name,
		rec.Path,
		string(rec.Status),
		rec.Version,
		rec.CreatedAt.UTC().Format(sqliteTime),
	)
	if err != nil {
		return fmt.Errorf("records: create %s: %w", rec.ID, err)
	}
	return nil
}

// List returns the records matching q.
func (s *SQLiteStore) List(ctx context.Context, q Query) ([]intake.Record, error) {
	q = q.normalize()

	var (
		conds []string
		args  []any
	)
	if q.FileTypeID != 0 {
		conds = append(conds, "file_type_id = ?")
		args = append(args, q.FileTypeID)
	}
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(q.Status))
	}
	if !q.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, q.From.UTC().Format(sqliteTime))
	}
	if !q.To.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, q.To.UTC().Format(sqliteTime))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, file_type_id, name, path, status, version, created_at
		FROM   intake_records
		%s
		ORDER  BY created_at DESC, id
		LIMIT  ? OFFSET ?`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("records: list: %w", err)
	}
	defer rows.Close()

	var out []intake.Record
	for rows.Next() {
		var (
			rec     intake.Record
			status  string
			created string
		)
		if err := rows.Scan(&rec.ID, &rec.FileTypeID, &rec.Name, &rec.Path, &status, &rec.Version, &created); err != nil {
			return nil, fmt.Errorf("records: list scan: %w", err)
		}
		rec.Status = intake.Status(status)
		if rec.CreatedAt, err = parseSQLiteTime(created); err != nil {
			return nil, fmt.Errorf("records: parse created_at of %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("records: list rows: %w", err)
	}
	return out, nil
}

// Count returns the total number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intake_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("records: count: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
