// Package device provides the device registry for the Insteon bridge.
//
// The registry is the catalogue of Insteon modules this gateway knows:
// their addresses, device types, owning gateway and last confirmed state.
// The bridge resolves status observations through its address index and
// writes confirmed state back after every reconciliation.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                         device                                │
//	│                                                               │
//	│  ┌────────────────┐   ┌────────────────┐   ┌──────────────┐   │
//	│  │    Registry    │──▶│   Repository   │   │ SeenRecorder │   │
//	│  │ • ID + address │   │ • devices      │   │ • unknown    │   │
//	│  │   cache        │   │ • JSON state   │   │   addresses  │   │
//	│  │ • state merge  │──▶│ StateHistory   │   │              │   │
//	│  └────────────────┘   └────────────────┘   └──────────────┘   │
//	└──────────────────────────────┬────────────────────────────────┘
//	                               ▼
//	                    SQLite (devices, state_history,
//	                            insteon_seen_devices)
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetHistory(device.NewSQLiteStateHistoryRepository(db.DB))
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev, err := registry.GetDeviceByAddress(ctx, "1a.2b.3c")
//
//	// From the bridge after a confirmed status
//	registry.SetDeviceState(ctx, dev.ID, device.State{"on": true, "level": 60}, "scene:evening")
//
// # Thread Safety
//
// The Registry is safe for concurrent use. The Repository implementation
// must also be thread-safe.
package device
