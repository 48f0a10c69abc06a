//go:build integration

// Run with:
//
//	go test -tags integration -v ./internal/records/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package records_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/intake/fileswatcher/internal/intake"
	"github.com/intake/fileswatcher/internal/records"
)

// migrationsDir returns the absolute path to db/migrations relative to this
// test file, so the tests work regardless of the working directory.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "db", "migrations")
}

// setupPostgres starts a PostgreSQL container, applies the migrations and
// returns a connected store.
func setupPostgres(t *testing.T) *records.PostgresStore {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("intake_test"),
		tcpostgres.WithUsername("intake"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connect for migrations: %v", err)
	}
	for _, f := range []string{"001_file_types.sql", "002_intake_records.sql"} {
		sql, err := os.ReadFile(filepath.Join(migrationsDir(t), f))
		if err != nil {
			t.Fatalf("read migration %s: %v", f, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			t.Fatalf("apply migration %s: %v", f, err)
		}
	}
	pool.Close()

	store, err := records.NewPostgres(ctx, connStr)
	if err != nil {
		t.Fatalf("records.NewPostgres: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// ── Create / List ─────────────────────────────────────────────────────────────

func TestPostgresStore_CreateListCount(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		ft := int64(1)
		if i >= 4 {
			ft = 2
		}
		if err := store.Create(ctx, makeRecord(i, ft)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	// Replaying an id is a no-op.
	if err := store.Create(ctx, makeRecord(0, 1)); err != nil {
		t.Fatalf("Create duplicate: %v", err)
	}

	n, err := store.Count(ctx)
	if err != nil || n != 6 {
		t.Fatalf("Count = %d, %v; want 6", n, err)
	}

	got, err := store.List(ctx, records.Query{FileTypeID: 1, Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != makeRecord(3, 0).ID {
		t.Errorf("List = %+v", got)
	}
	if got[0].Status != intake.StatusNotProcessed || got[0].Version != 0 {
		t.Errorf("Status/Version = %s/%d", got[0].Status, got[0].Version)
	}

	window, err := store.List(ctx, records.Query{From: base.Add(time.Minute), To: base.Add(3 * time.Minute)})
	if err != nil {
		t.Fatalf("List window: %v", err)
	}
	if len(window) != 2 {
		t.Errorf("window returned %d records, want 2", len(window))
	}
}
