package device

import (
	"context"
	"errors"
	"testing"
)

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	dev := testDevice("light-hall", "Hall Light", "1A.2B.3C")
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if dev.CreatedAt.IsZero() || dev.UpdatedAt.IsZero() {
		t.Error("Create() should set timestamps")
	}

	got, err := repo.GetByID(ctx, "light-hall")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "Hall Light" || got.Address != "1A.2B.3C" || got.GatewayID != "gw-1" || got.Type != TypeLamp {
		t.Errorf("GetByID() = %+v", got)
	}

	byAddr, err := repo.GetByAddress(ctx, "1a:2b:3c")
	if err != nil {
		t.Fatalf("GetByAddress() error = %v", err)
	}
	if byAddr.ID != "light-hall" {
		t.Errorf("GetByAddress() id = %s, want light-hall", byAddr.ID)
	}
}

func TestSQLiteRepository_NotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := repo.GetByAddress(ctx, "11.22.33"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByAddress() error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := repo.GetByAddress(ctx, "nope"); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("GetByAddress() error = %v, want ErrInvalidAddress", err)
	}
	if err := repo.Update(ctx, testDevice("missing", "Missing", "11.22.33")); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Update() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Delete() error = %v, want ErrDeviceNotFound", err)
	}
	if err := repo.UpdateState(ctx, "missing", State{"on": true}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("UpdateState() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSQLiteRepository_CreateDuplicate(t *testing.T) {
	tests := []struct {
		name string
		dev  *Device
	}{
		{"same id", testDevice("light-hall", "Other", "11.22.33")},
		{"same address", testDevice("light-other", "Other", "1A.2B.3C")},
		{"same slug", testDevice("light-other", "Hall Light", "11.22.33")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewSQLiteRepository(setupTestDB(t))
			ctx := context.Background()

			if err := repo.Create(ctx, testDevice("light-hall", "Hall Light", "1A.2B.3C")); err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if err := repo.Create(ctx, tt.dev); !errors.Is(err, ErrDeviceExists) {
				t.Errorf("Create() error = %v, want ErrDeviceExists", err)
			}
		})
	}
}

func TestSQLiteRepository_ListAndGateway(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	other := testDevice("fan-attic", "Attic Fan", "AA.BB.CC")
	other.GatewayID = "gw-2"
	for _, d := range []*Device{testDevice("light-hall", "Hall Light", "1A.2B.3C"), other} {
		if err := repo.Create(ctx, d); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 2 || all[0].Name != "Attic Fan" {
		t.Errorf("List() = %+v, want 2 ordered by name", all)
	}

	mine, err := repo.ListByGateway(ctx, "gw-1")
	if err != nil {
		t.Fatalf("ListByGateway() error = %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "light-hall" {
		t.Errorf("ListByGateway() = %+v", mine)
	}
}

func TestSQLiteRepository_UpdateAndDelete(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	dev := testDevice("light-hall", "Hall Light", "1A.2B.3C")
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	dev.Name = "Hallway"
	dev.Type = TypeAppliance
	if err := repo.Update(ctx, dev); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, "light-hall")
	if got.Name != "Hallway" || got.Type != TypeAppliance {
		t.Errorf("after Update() = %+v", got)
	}

	if err := repo.Delete(ctx, "light-hall"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, "light-hall"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetByID() after delete error = %v", err)
	}
}

func TestSQLiteRepository_UpdateStateMerges(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	dev := testDevice("light-hall", "Hall Light", "1A.2B.3C")
	dev.State = State{"on": false, "level": 0.0, "status": "off"}
	if err := repo.Create(ctx, dev); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.UpdateState(ctx, "light-hall", State{"on": true, "level": 60.0}); err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}

	got, _ := repo.GetByID(ctx, "light-hall")
	if got.State["on"] != true || got.State["level"] != 60.0 || got.State["status"] != "off" {
		t.Errorf("State = %+v, want merged", got.State)
	}
	if got.StateUpdatedAt == nil {
		t.Error("StateUpdatedAt should be set")
	}
}
