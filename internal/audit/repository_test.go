package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE command_log (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			address TEXT NOT NULL,
			command TEXT NOT NULL,
			level REAL,
			requester TEXT,
			state TEXT NOT NULL,
			message TEXT,
			interface TEXT,
			timed_out INTEGER NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			finalized_at TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRepo(t *testing.T, now time.Time) *SQLiteRepository {
	t.Helper()
	repo := NewSQLiteRepository(setupTestDB(t))
	repo.now = func() time.Time { return now }
	return repo
}

func TestRecordAndList(t *testing.T) {
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo(t, base)
	ctx := context.Background()

	level := 40.0
	entries := []*Entry{
		{RequestID: "req-1", DeviceID: "lamp-1", Address: "1A.2B.3C", Command: "on", Requester: "alice",
			State: "done", Interface: "plm", LatencyMS: 120, FinalizedAt: base.Add(-3 * time.Minute)},
		{RequestID: "req-2", DeviceID: "lamp-1", Address: "1A.2B.3C", Command: "dim", Level: &level,
			State: "failed", Message: "timed out", TimedOut: true, FinalizedAt: base.Add(-2 * time.Minute)},
		{RequestID: "req-3", DeviceID: "fan-1", Address: "AA.BB.CC", Command: "off", Requester: "bob",
			State: "done", FinalizedAt: base.Add(-1 * time.Minute)},
	}
	for _, e := range entries {
		if err := repo.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s) error = %v", e.RequestID, err)
		}
		if e.ID == "" {
			t.Errorf("Record(%s) did not assign an ID", e.RequestID)
		}
	}

	all, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Entries) != 3 {
		t.Fatalf("List() total=%d len=%d, want 3/3", all.Total, len(all.Entries))
	}
	if all.Entries[0].RequestID != "req-3" {
		t.Errorf("first entry = %s, want newest req-3", all.Entries[0].RequestID)
	}
	if all.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", all.Limit, defaultLimit)
	}

	dim := all.Entries[1]
	if dim.Level == nil || *dim.Level != 40 {
		t.Errorf("level = %v, want 40", dim.Level)
	}
	if !dim.TimedOut || dim.Message != "timed out" || dim.Requester != "" {
		t.Errorf("dim entry = %+v", dim)
	}
	if !dim.FinalizedAt.Equal(base.Add(-2 * time.Minute)) {
		t.Errorf("FinalizedAt = %v", dim.FinalizedAt)
	}
	if !dim.CreatedAt.Equal(dim.FinalizedAt) {
		t.Errorf("CreatedAt = %v, want FinalizedAt when unset", dim.CreatedAt)
	}
}

func TestListFilters(t *testing.T) {
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo(t, base)
	ctx := context.Background()

	for i, e := range []Entry{
		{RequestID: "a", DeviceID: "lamp-1", Address: "1A.2B.3C", Command: "on", Requester: "alice", State: "done"},
		{RequestID: "b", DeviceID: "lamp-1", Address: "1A.2B.3C", Command: "off", Requester: "bob", State: "failed"},
		{RequestID: "c", DeviceID: "fan-1", Address: "AA.BB.CC", Command: "on", Requester: "alice", State: "done"},
	} {
		e.FinalizedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.Record(ctx, &e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by device", Filter{DeviceID: "lamp-1"}, 2},
		{"by requester", Filter{Requester: "alice"}, 2},
		{"by state upper case", Filter{State: "FAILED"}, 1},
		{"by request id", Filter{RequestID: "c"}, 1},
		{"combined", Filter{DeviceID: "lamp-1", Requester: "alice"}, 1},
		{"no match", Filter{DeviceID: "nope"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.want || len(res.Entries) != tt.want {
				t.Errorf("List() total=%d len=%d, want %d", res.Total, len(res.Entries), tt.want)
			}
		})
	}
}

func TestListPagination(t *testing.T) {
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo(t, base)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := Entry{RequestID: string(rune('a' + i)), DeviceID: "lamp-1", Address: "1A.2B.3C",
			Command: "on", State: "done", FinalizedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.Record(ctx, &e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	res, err := repo.List(ctx, Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 5 || len(res.Entries) != 2 {
		t.Fatalf("total=%d len=%d, want 5/2", res.Total, len(res.Entries))
	}
	if res.Entries[0].RequestID != "d" || res.Entries[1].RequestID != "c" {
		t.Errorf("page = %s,%s, want d,c", res.Entries[0].RequestID, res.Entries[1].RequestID)
	}

	res, err = repo.List(ctx, Filter{Limit: 1000, Offset: -4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxLimit || res.Offset != 0 {
		t.Errorf("clamped limit/offset = %d/%d, want %d/0", res.Limit, res.Offset, maxLimit)
	}
}

func TestRecordRequiresRequestID(t *testing.T) {
	repo := newTestRepo(t, time.Now())
	if err := repo.Record(context.Background(), &Entry{DeviceID: "lamp-1", State: "done"}); err == nil {
		t.Error("Record() without request id should fail")
	}
}

func TestRecordSameRequestIDTwice(t *testing.T) {
	repo := newTestRepo(t, time.Now())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		e := Entry{RequestID: "reused", DeviceID: "lamp-1", Address: "1A.2B.3C", Command: "on", State: "done"}
		if err := repo.Record(ctx, &e); err != nil {
			t.Fatalf("Record() #%d error = %v", i, err)
		}
	}
	res, err := repo.List(ctx, Filter{RequestID: "reused"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 2 {
		t.Errorf("total = %d, want 2", res.Total)
	}
}

func TestPrune(t *testing.T) {
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	repo := newTestRepo(t, base)
	ctx := context.Background()

	for i, age := range []time.Duration{48 * time.Hour, 25 * time.Hour, time.Hour} {
		e := Entry{RequestID: string(rune('a' + i)), DeviceID: "lamp-1", Address: "1A.2B.3C",
			Command: "on", State: "done", FinalizedAt: base.Add(-age)}
		if err := repo.Record(ctx, &e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should fail")
	}
}
