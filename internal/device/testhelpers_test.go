package device

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the bridge schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			address TEXT NOT NULL UNIQUE,
			gateway_id TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT '{}',
			state_updated_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE state_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			state TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
		CREATE TABLE insteon_seen_devices (
			address TEXT PRIMARY KEY,
			first_seen INTEGER NOT NULL,
			last_seen INTEGER NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 1,
			last_raw_level REAL,
			interface TEXT
		);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// testDevice creates a lamp device for testing.
func testDevice(id, name, address string) *Device {
	return &Device{
		ID:        id,
		Name:      name,
		Slug:      GenerateSlug(name),
		Type:      TypeLamp,
		Address:   address,
		GatewayID: "gw-1",
		State:     State{},
	}
}
