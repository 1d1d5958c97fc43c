package device

import (
	"context"
	"time"
)

// StateHistorySourceExternal marks changes no command accounted for.
const StateHistorySourceExternal = "external"

// StateHistoryEntry is one confirmed state snapshot.
//
// Entries give a local audit trail even when the time-series database is
// unavailable.
type StateHistoryEntry struct {
	ID       int64  `json:"id"`
	DeviceID string `json:"device_id"`
	State    State  `json:"state"`

	// Source is the requester credited with the change, or "external".
	Source string `json:"source"`

	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange records a device state change. An empty source is
	// stored as StateHistorySourceExternal.
	RecordStateChange(ctx context.Context, deviceID string, state State, source string) error

	// GetHistory returns recent entries for the device, newest first.
	// Implementations may clamp limit.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)

	// PruneHistory deletes entries older than olderThan and returns the
	// number removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
