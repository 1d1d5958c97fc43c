package device

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, *SQLiteStateHistoryRepository) {
	t.Helper()
	db := setupTestDB(t)
	registry := NewRegistry(NewSQLiteRepository(db))
	history := NewSQLiteStateHistoryRepository(db)
	registry.SetHistory(history)
	return registry, history
}

func TestRegistry_CreateDevice(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	dev := &Device{Name: "Porch Light", Type: TypeLamp, Address: "aa bb cc", GatewayID: "gw-1"}
	if err := registry.CreateDevice(ctx, dev); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if dev.ID == "" || dev.Slug != "porch-light" || dev.Address != "AA.BB.CC" {
		t.Errorf("CreateDevice() = %+v, want generated id, slug and normalised address", dev)
	}
	if registry.GetDeviceCount() != 1 {
		t.Errorf("GetDeviceCount() = %d, want 1", registry.GetDeviceCount())
	}
}

func TestRegistry_CreateDeviceValidation(t *testing.T) {
	tests := []struct {
		name    string
		dev     *Device
		wantErr error
	}{
		{"no name", &Device{Type: TypeLamp, Address: "1A.2B.3C", GatewayID: "gw-1"}, ErrInvalidName},
		{"bad address", &Device{Name: "x", Type: TypeLamp, Address: "1A.2B", GatewayID: "gw-1"}, ErrInvalidAddress},
		{"no type", &Device{Name: "x", Address: "1A.2B.3C", GatewayID: "gw-1"}, ErrInvalidDevice},
		{"no gateway", &Device{Name: "x", Type: TypeLamp, Address: "1A.2B.3C"}, ErrInvalidDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, _ := newTestRegistry(t)
			if err := registry.CreateDevice(context.Background(), tt.dev); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_AddressIndex(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.CreateDevice(ctx, testDevice("light-hall", "Hall Light", "1A.2B.3C")); err != nil {
		t.Fatal(err)
	}

	for _, addr := range []string{"1A.2B.3C", "1a2b3c", "1a:2b:3c"} {
		got, err := registry.GetDeviceByAddress(ctx, addr)
		if err != nil || got.ID != "light-hall" {
			t.Errorf("GetDeviceByAddress(%q) = %v, %v", addr, got, err)
		}
	}

	dev, _ := registry.GetDevice(ctx, "light-hall")
	dev.Address = "11.22.33"
	if err := registry.UpdateDevice(ctx, dev); err != nil {
		t.Fatalf("UpdateDevice() error = %v", err)
	}
	if _, err := registry.GetDeviceByAddress(ctx, "1A.2B.3C"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("old address should be unindexed, error = %v", err)
	}
	if got, err := registry.GetDeviceByAddress(ctx, "11.22.33"); err != nil || got.ID != "light-hall" {
		t.Errorf("new address lookup = %v, %v", got, err)
	}

	if err := registry.DeleteDevice(ctx, "light-hall"); err != nil {
		t.Fatal(err)
	}
	if _, err := registry.GetDeviceByAddress(ctx, "11.22.33"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("deleted device still indexed, error = %v", err)
	}
}

func TestRegistry_CreateDeviceIfNotExists(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := registry.CreateDeviceIfNotExists(ctx, testDevice("light-hall", "Hall Light", "1A.2B.3C"))
	if err != nil || !created {
		t.Fatalf("first create = %v, %v", created, err)
	}

	tests := []struct {
		name string
		dev  *Device
	}{
		{"same id", testDevice("light-hall", "Renamed", "11.22.33")},
		{"same address", testDevice("light-other", "Other", "1a.2b.3c")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created, err := registry.CreateDeviceIfNotExists(ctx, tt.dev)
			if err != nil || created {
				t.Errorf("CreateDeviceIfNotExists() = %v, %v, want false, nil", created, err)
			}
		})
	}

	got, _ := registry.GetDevice(ctx, "light-hall")
	if got.Name != "Hall Light" {
		t.Errorf("existing device modified: %+v", got)
	}
}

func TestRegistry_SetDeviceState(t *testing.T) {
	registry, history := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.CreateDevice(ctx, testDevice("light-hall", "Hall Light", "1A.2B.3C")); err != nil {
		t.Fatal(err)
	}

	if err := registry.SetDeviceState(ctx, "light-hall", State{"on": true, "level": 60.0}, "scene:evening"); err != nil {
		t.Fatalf("SetDeviceState() error = %v", err)
	}
	if err := registry.SetDeviceState(ctx, "light-hall", State{"status": "on (60%)"}, ""); err != nil {
		t.Fatalf("SetDeviceState() error = %v", err)
	}

	got, _ := registry.GetDevice(ctx, "light-hall")
	if level, ok := got.State.Level(); !ok || level != 60 {
		t.Errorf("Level() = %v, %v, want 60", level, ok)
	}
	if got.State["status"] != "on (60%)" || got.StateUpdatedAt == nil {
		t.Errorf("cached state = %+v", got.State)
	}

	entries, err := history.GetHistory(ctx, "light-hall", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Source != StateHistorySourceExternal || entries[1].Source != "scene:evening" {
		t.Errorf("history = %+v", entries)
	}

	if err := registry.SetDeviceState(ctx, "missing", State{"on": true}, ""); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetDeviceState(missing) error = %v", err)
	}
}

func TestRegistry_RefreshCacheAndStats(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	fan := testDevice("fan-attic", "Attic Fan", "AA.BB.CC")
	fan.Type = TypeAppliance
	fan.GatewayID = "gw-2"
	for _, d := range []*Device{testDevice("light-hall", "Hall Light", "1A.2B.3C"), fan} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	registry := NewRegistry(repo)
	if err := registry.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	stats := registry.GetStats()
	if stats.TotalDevices != 2 || stats.ByType[TypeAppliance] != 1 || stats.ByGateway["gw-1"] != 1 {
		t.Errorf("GetStats() = %+v", stats)
	}

	list, _ := registry.ListDevices(ctx)
	if len(list) != 2 || list[0].ID != "fan-attic" {
		t.Errorf("ListDevices() = %+v", list)
	}

	mine, _ := registry.GetDevicesByGateway(ctx, "gw-1")
	if len(mine) != 1 || mine[0].ID != "light-hall" {
		t.Errorf("GetDevicesByGateway() = %+v", mine)
	}
}

func TestRegistry_CacheIsolation(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.CreateDevice(ctx, testDevice("light-hall", "Hall Light", "1A.2B.3C")); err != nil {
		t.Fatal(err)
	}

	got, _ := registry.GetDevice(ctx, "light-hall")
	got.Name = "mutated"
	got.State["on"] = true

	again, _ := registry.GetDevice(ctx, "light-hall")
	if again.Name != "Hall Light" || again.State["on"] != nil {
		t.Errorf("cache mutated through returned copy: %+v", again)
	}
}

func TestRegistry_ConcurrentStateUpdates(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := registry.CreateDevice(ctx, testDevice("light-hall", "Hall Light", "1A.2B.3C")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(level float64) {
			defer wg.Done()
			_ = registry.SetDeviceState(ctx, "light-hall", State{"level": level}, "")
			_, _ = registry.GetDeviceByAddress(ctx, "1A.2B.3C")
		}(float64(i))
	}
	wg.Wait()

	got, _ := registry.GetDevice(ctx, "light-hall")
	if _, ok := got.State.Level(); !ok {
		t.Error("level missing after concurrent updates")
	}
}
