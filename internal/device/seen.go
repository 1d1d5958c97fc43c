package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SeenDevice is an address heard on the Insteon network with no registered
// device, kept for commissioning.
type SeenDevice struct {
	Address      string    `json:"address"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	MessageCount int64     `json:"message_count"`
	LastRawLevel *float64  `json:"last_raw_level,omitempty"`
	Interface    string    `json:"interface,omitempty"`
}

// SeenRecorder passively records unknown addresses reported by the bridge.
// Repeated reports of the same address bump its counters.
//
// Thread Safety: All methods are safe for concurrent use.
type SeenRecorder struct {
	db     *sql.DB
	logger Logger
	now    func() time.Time

	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// NewSeenRecorder creates a recorder. The database must have the
// insteon_seen_devices table.
func NewSeenRecorder(db *sql.DB) *SeenRecorder {
	return &SeenRecorder{
		db:     db,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the recorder.
func (r *SeenRecorder) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Start prepares the recorder for use.
// Must be called before Record.
func (r *SeenRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil
	}

	stmt, err := r.db.Prepare(`
		INSERT INTO insteon_seen_devices (address, first_seen, last_seen, message_count, last_raw_level, interface)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			last_raw_level = excluded.last_raw_level,
			interface = excluded.interface
	`)
	if err != nil {
		return fmt.Errorf("preparing seen device upsert: %w", err)
	}

	r.upsertStmt = stmt
	r.logger.Info("seen device recorder started")
	return nil
}

// Stop closes the recorder and releases resources.
func (r *SeenRecorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
	}
}

// Record stores one sighting of an unknown address.
func (r *SeenRecorder) Record(ctx context.Context, address string, rawLevel float64, iface string) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil
	}

	normalized, err := NormalizeAddress(address)
	if err != nil {
		return err
	}

	r.stmtMu.Lock()
	stmt := r.upsertStmt
	r.stmtMu.Unlock()
	if stmt == nil {
		return errors.New("seen device recorder not started")
	}

	now := r.now().Unix()
	if _, err := stmt.ExecContext(ctx, normalized, now, now, rawLevel, iface); err != nil {
		return fmt.Errorf("recording seen device: %w", err)
	}
	return nil
}

// List returns every recorded address, most recently seen first.
func (r *SeenRecorder) List(ctx context.Context) ([]SeenDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, first_seen, last_seen, message_count, last_raw_level, interface
		FROM insteon_seen_devices
		ORDER BY last_seen DESC, address
	`)
	if err != nil {
		return nil, fmt.Errorf("querying seen devices: %w", err)
	}
	defer rows.Close()

	var out []SeenDevice
	for rows.Next() {
		var s SeenDevice
		var first, last int64
		var raw sql.NullFloat64
		var iface sql.NullString
		if err := rows.Scan(&s.Address, &first, &last, &s.MessageCount, &raw, &iface); err != nil {
			return nil, fmt.Errorf("scanning seen device: %w", err)
		}
		s.FirstSeen = time.Unix(first, 0).UTC()
		s.LastSeen = time.Unix(last, 0).UTC()
		if raw.Valid {
			v := raw.Float64
			s.LastRawLevel = &v
		}
		s.Interface = iface.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// Forget removes an address, typically once it has been commissioned.
func (r *SeenRecorder) Forget(ctx context.Context, address string) error {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `DELETE FROM insteon_seen_devices WHERE address = ?`, normalized)
	return err
}

// Count returns the number of recorded addresses.
func (r *SeenRecorder) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM insteon_seen_devices`).Scan(&count)
	return count, err
}
