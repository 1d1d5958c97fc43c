package insteon

import (
	"errors"
	"testing"
)

func TestInterfaceRegistry_SelectActive(t *testing.T) {
	tests := []struct {
		name       string
		interfaces []*mockInterface
		want       string
		wantOK     bool
	}{
		{
			name:   "empty",
			wantOK: false,
		},
		{
			name: "highest priority wins",
			interfaces: []*mockInterface{
				newMockInterface("low", 1, true),
				newMockInterface("high", 10, true),
			},
			want:   "high",
			wantOK: true,
		},
		{
			name: "unhealthy skipped",
			interfaces: []*mockInterface{
				newMockInterface("high", 10, false),
				newMockInterface("low", 1, true),
			},
			want:   "low",
			wantOK: true,
		},
		{
			name: "ties broken by registration order",
			interfaces: []*mockInterface{
				newMockInterface("first", 5, true),
				newMockInterface("second", 5, true),
			},
			want:   "first",
			wantOK: true,
		},
		{
			name: "none healthy",
			interfaces: []*mockInterface{
				newMockInterface("a", 5, false),
				newMockInterface("b", 1, false),
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewInterfaceRegistry()
			for _, iface := range tt.interfaces {
				if err := r.Register(iface); err != nil {
					t.Fatalf("Register(%s) error = %v", iface.Name(), err)
				}
			}

			for i := 0; i < 3; i++ {
				got, ok := r.SelectActive()
				if ok != tt.wantOK {
					t.Fatalf("SelectActive() ok = %v, want %v", ok, tt.wantOK)
				}
				if ok && got.Name() != tt.want {
					t.Fatalf("SelectActive() = %s, want %s", got.Name(), tt.want)
				}
			}

			if tt.wantOK && !r.IsActive(tt.want) {
				t.Errorf("IsActive(%s) = false", tt.want)
			}
		})
	}
}

func TestInterfaceRegistry_RegisterDuplicate(t *testing.T) {
	r := NewInterfaceRegistry()
	_ = r.Register(newMockInterface("plm", 1, true))

	err := r.Register(newMockInterface("plm", 2, true))
	if !errors.Is(err, ErrDuplicateInterface) {
		t.Errorf("Register() error = %v, want ErrDuplicateInterface", err)
	}
}

func TestInterfaceRegistry_RegisterDoesNotSelect(t *testing.T) {
	r := NewInterfaceRegistry()
	_ = r.Register(newMockInterface("plm", 1, true))

	if _, ok := r.Active(); ok {
		t.Error("Active() should be empty until SelectActive")
	}
}

func TestInterfaceRegistry_Unregister(t *testing.T) {
	r := NewInterfaceRegistry()
	_ = r.Register(newMockInterface("plm", 10, true))
	_ = r.Register(newMockInterface("remote", 1, true))
	r.SelectActive()

	if err := r.Unregister("plm"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if _, ok := r.Active(); ok {
		t.Error("active interface should be cleared when unregistered")
	}

	got, ok := r.SelectActive()
	if !ok || got.Name() != "remote" {
		t.Errorf("SelectActive() after unregister = %v, %v", got, ok)
	}

	if err := r.Unregister("missing"); !errors.Is(err, ErrInterfaceNotFound) {
		t.Errorf("Unregister(missing) error = %v, want ErrInterfaceNotFound", err)
	}
}

func TestInterfaceRegistry_Failover(t *testing.T) {
	r := NewInterfaceRegistry()
	primary := newMockInterface("plm", 10, true)
	backup := newMockInterface("remote", 1, true)
	_ = r.Register(primary)
	_ = r.Register(backup)

	r.SelectActive()
	primary.SetHealthy(false)

	if !r.IsActive("plm") {
		t.Error("selection must not change until SelectActive runs again")
	}

	got, _ := r.SelectActive()
	if got.Name() != "remote" {
		t.Errorf("after failover active = %s, want remote", got.Name())
	}

	primary.SetHealthy(true)
	got, _ = r.SelectActive()
	if got.Name() != "plm" {
		t.Errorf("after recovery active = %s, want plm", got.Name())
	}
}

func TestInterfaceRegistry_Status(t *testing.T) {
	r := NewInterfaceRegistry()
	_ = r.Register(newMockInterface("plm", 10, false))
	_ = r.Register(newMockInterface("remote", 1, true))
	r.SelectActive()

	status := r.Status()
	if len(status) != 2 {
		t.Fatalf("Status() returned %d entries, want 2", len(status))
	}
	if status[0].Name != "plm" || status[0].Healthy || status[0].Active {
		t.Errorf("Status()[0] = %+v", status[0])
	}
	if status[1].Name != "remote" || !status[1].Healthy || !status[1].Active {
		t.Errorf("Status()[1] = %+v", status[1])
	}
}
