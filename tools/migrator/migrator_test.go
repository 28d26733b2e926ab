package migrator

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, tableName string) bool {
	t.Helper()
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", tableName).Scan(&name)
	if err == sql.ErrNoRows {
		return false
	}
	if err != nil {
		t.Fatalf("failed to check if table exists: %v", err)
	}
	return true
}

func getVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	version, err := GetCurrentVersion(db)
	if err != nil {
		t.Fatalf("failed to get version: %v", err)
	}
	return version
}

func file(content string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(content)}
}

var validMigrations = fstest.MapFS{
	"001_create_runs.sql": file(`-- +migrate Up
CREATE TABLE runs (run_id TEXT PRIMARY KEY);
`),
	"002_create_results.sql": file(`-- +migrate Up
-- +migrate Depends: 1
-- results reference runs
CREATE TABLE results (id INTEGER PRIMARY KEY, run_id TEXT REFERENCES runs(run_id));
CREATE INDEX idx_results_run ON results(run_id);
`),
	"README.md": file("not a migration"),
}

// =============================================================================
// Parser Tests
// =============================================================================

func TestParseMigration_Valid(t *testing.T) {
	m, err := ParseMigration("001_create_runs.sql", validMigrations["001_create_runs.sql"].Data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.Version != 1 {
		t.Errorf("expected version 1, got %d", m.Version)
	}
	if m.Name != "create_runs" {
		t.Errorf("expected name 'create_runs', got '%s'", m.Name)
	}
	if !strings.HasPrefix(m.UpSQL, "CREATE TABLE runs") {
		t.Errorf("unexpected UpSQL: %s", m.UpSQL)
	}
	if m.NoTransaction {
		t.Error("expected NoTransaction to be false")
	}
	if len(m.Dependencies) != 0 {
		t.Errorf("expected no dependencies, got %v", m.Dependencies)
	}
}

func TestParseMigration_Dependencies(t *testing.T) {
	m, err := ParseMigration("003_x.sql", []byte("-- +migrate Up\n-- +migrate Depends: 1 2\nSELECT 1;"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Dependencies) != 2 || m.Dependencies[0] != 1 || m.Dependencies[1] != 2 {
		t.Errorf("expected dependencies [1 2], got %v", m.Dependencies)
	}
	if m.UpSQL != "SELECT 1;" {
		t.Errorf("unexpected UpSQL: %q", m.UpSQL)
	}
}

func TestParseMigration_NoTransaction(t *testing.T) {
	m, err := ParseMigration("001_x.sql", []byte("-- +migrate Up notransaction\nPRAGMA journal_mode = WAL;"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.NoTransaction {
		t.Error("expected NoTransaction to be true")
	}
}

func TestParseMigration_Errors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
	}{
		{"bad filename", "1_runs.sql", "-- +migrate Up\nSELECT 1;"},
		{"missing marker", "001_runs.sql", "SELECT 1;"},
		{"empty sql", "001_runs.sql", "-- +migrate Up\n-- nothing here\n"},
		{"empty depends", "001_runs.sql", "-- +migrate Up\n-- +migrate Depends:\nSELECT 1;"},
		{"bad depends", "001_runs.sql", "-- +migrate Up\n-- +migrate Depends: one\nSELECT 1;"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMigration(tt.filename, []byte(tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// =============================================================================
// Loader Tests
// =============================================================================

func TestLoadMigrations_Valid(t *testing.T) {
	migrations, err := LoadMigrations(validMigrations)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Errorf("expected versions sorted, got %d, %d", migrations[0].Version, migrations[1].Version)
	}
}

func TestLoadMigrations_Gap(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": file("-- +migrate Up\nSELECT 1;"),
		"003_c.sql": file("-- +migrate Up\nSELECT 1;"),
	}
	if _, err := LoadMigrations(fsys); err == nil || !strings.Contains(err.Error(), "gap") {
		t.Errorf("expected gap error, got %v", err)
	}
}

func TestLoadMigrations_Duplicate(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": file("-- +migrate Up\nSELECT 1;"),
		"001_b.sql": file("-- +migrate Up\nSELECT 1;"),
	}
	if _, err := LoadMigrations(fsys); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate error, got %v", err)
	}
}

func TestLoadMigrations_ForwardDependency(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": file("-- +migrate Up\n-- +migrate Depends: 2\nSELECT 1;"),
		"002_b.sql": file("-- +migrate Up\n-- +migrate Depends: 1\nSELECT 1;"),
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("expected error for dependency on a later version")
	}
}

func TestLoadMigrations_MissingDependency(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": file("-- +migrate Up\n-- +migrate Depends: 7\nSELECT 1;"),
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("expected error for missing dependency")
	}
}

// =============================================================================
// Runner Tests
// =============================================================================

func TestRunMigrations_FreshDatabase(t *testing.T) {
	db := setupTestDB(t)

	if err := RunMigrations(db, validMigrations); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	for _, table := range []string{"runs", "results", "schema_migrations"} {
		if !tableExists(t, db, table) {
			t.Errorf("expected table %s to exist", table)
		}
	}
	if v := getVersion(t, db); v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := RunMigrations(db, validMigrations); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := RunMigrations(db, validMigrations); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	applied, err := GetAppliedMigrations(db)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %v", applied)
	}
}

func TestRunMigrations_FailedMigrationRollsBack(t *testing.T) {
	db := setupTestDB(t)
	fsys := fstest.MapFS{
		"001_a.sql": file("-- +migrate Up\nCREATE TABLE a (id INTEGER);"),
		"002_b.sql": file("-- +migrate Up\nCREATE TABLE b (id INTEGER);\nNOT VALID SQL;"),
	}

	if err := RunMigrations(db, fsys); err == nil {
		t.Fatal("expected migration error")
	}

	if !tableExists(t, db, "a") {
		t.Error("expected table a to exist")
	}
	if tableExists(t, db, "b") {
		t.Error("expected table b to be rolled back")
	}
	if v := getVersion(t, db); v != 1 {
		t.Errorf("expected version 1, got %d", v)
	}
}

func TestGetCurrentVersion_FreshDatabase(t *testing.T) {
	db := setupTestDB(t)
	if v := getVersion(t, db); v != 0 {
		t.Errorf("expected version 0, got %d", v)
	}
}
