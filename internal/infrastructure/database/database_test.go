package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "nested", "test.db"),
		WALMode:     true,
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesDirectory(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if filepath.Base(db.Path()) != "test.db" {
		t.Errorf("Path() = %q", db.Path())
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("Open() expected error for empty path")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file        string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20261018_120000_devices.up.sql", "20261018_120000", "devices", true, true},
		{"20261018_120000_devices.down.sql", "20261018_120000", "devices", false, true},
		{"20261018_120000_seen_devices.up.sql", "20261018_120000", "seen_devices", true, true},
		{"README.md", "", "", false, false},
		{"20261018_devices.sql", "", "", false, false},
		{"bad.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.file)
			if ok != tt.wantOK || version != tt.wantVersion || name != tt.wantName || isUp != tt.wantUp {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v, %v)", tt.file, version, name, isUp, ok)
			}
		})
	}
}

func TestMigrate(t *testing.T) {
	fsys := fstest.MapFS{
		"m/20260101_000000_first.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"m/20260101_000000_first.down.sql": {Data: []byte("DROP TABLE a;")},
		"m/20260102_000000_second.up.sql":  {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"m/notes.txt":                      {Data: []byte("ignored")},
	}

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, fsys, "m"); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	// Second run is a no-op.
	if err := db.Migrate(ctx, fsys, "m"); err != nil {
		t.Fatalf("Migrate() second run error = %v", err)
	}

	n, err := db.AppliedCount(ctx)
	if err != nil {
		t.Fatalf("AppliedCount() error = %v", err)
	}
	if n != 2 {
		t.Errorf("AppliedCount() = %d, want 2", n)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO b (id) VALUES (1)"); err != nil {
		t.Errorf("table b missing after migrate: %v", err)
	}
}

func TestMigrate_FailureStopsRun(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":     {Data: []byte("CREATE TABLE ok_table (id INTEGER);")},
		"20260102_000000_broken.up.sql": {Data: []byte("CREATE TABLE (;")},
		"20260103_000000_later.up.sql":  {Data: []byte("CREATE TABLE later (id INTEGER);")},
	}

	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, fsys, "."); err == nil {
		t.Fatal("Migrate() expected error")
	}

	n, err := db.AppliedCount(ctx)
	if err != nil {
		t.Fatalf("AppliedCount() error = %v", err)
	}
	if n != 1 {
		t.Errorf("AppliedCount() = %d, want 1", n)
	}
}

func TestLoadMigrations_MissingUp(t *testing.T) {
	fsys := fstest.MapFS{
		"20260101_000000_orphan.down.sql": {Data: []byte("DROP TABLE x;")},
	}
	if _, err := LoadMigrations(fsys, "."); err == nil {
		t.Fatal("LoadMigrations() expected error for down-only migration")
	}
}
