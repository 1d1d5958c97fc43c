// Package audit keeps a durable log of finalized Insteon commands in the
// command_log table, so outcomes survive the in-memory tracker's retention
// window and bridge restarts.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// Fixed width keeps string ordering chronological.
	timeFormat = "2006-01-02T15:04:05.000000000Z"
)

// Entry is one finalized command.
type Entry struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id"`
	DeviceID    string    `json:"device_id"`
	Address     string    `json:"address"`
	Command     string    `json:"command"`
	Level       *float64  `json:"level,omitempty"`
	Requester   string    `json:"requester,omitempty"`
	State       string    `json:"state"`
	Message     string    `json:"message,omitempty"`
	Interface   string    `json:"interface,omitempty"`
	TimedOut    bool      `json:"timed_out"`
	LatencyMS   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Filter controls which entries to return.
type Filter struct {
	DeviceID  string // optional
	RequestID string // optional
	Requester string // optional
	State     string // optional: done or failed
	Limit     int    // default 50, max 200
	Offset    int
}

// ListResult contains one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the command log operations.
type Repository interface {
	Record(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository stores the command log in SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new command log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts an entry. The ID is generated if empty and FinalizedAt
// defaults to now.
func (r *SQLiteRepository) Record(ctx context.Context, entry *Entry) error {
	if entry.RequestID == "" {
		return fmt.Errorf("command log entry has no request id")
	}
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()[:8]
	}
	if entry.FinalizedAt.IsZero() {
		entry.FinalizedAt = r.now().UTC()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = entry.FinalizedAt
	}

	var level any
	if entry.Level != nil {
		level = *entry.Level
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_log (id, request_id, device_id, address, command, level, requester,
			state, message, interface, timed_out, latency_ms, created_at, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RequestID, entry.DeviceID, entry.Address, entry.Command, level,
		nullableString(entry.Requester), entry.State,
		nullableString(entry.Message), nullableString(entry.Interface),
		entry.TimedOut, entry.LatencyMS,
		entry.CreatedAt.UTC().Format(timeFormat),
		entry.FinalizedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting command log entry: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings so nullable TEXT columns
// store NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recently finalized first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit,gocyclo // dynamic query builder
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.RequestID != "" {
		conditions = append(conditions, "request_id = ?")
		args = append(args, filter.RequestID)
	}
	if filter.Requester != "" {
		conditions = append(conditions, "requester = ?")
		args = append(args, filter.Requester)
	}
	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, strings.ToLower(filter.State))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_log %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting command log: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, request_id, device_id, address, command, level, requester, state, message,
			interface, timed_out, latency_ms, created_at, finalized_at
		 FROM command_log %s ORDER BY finalized_at DESC, id LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var level sql.NullFloat64
		var requester, message, iface sql.NullString
		var createdAt, finalizedAt string

		if err := rows.Scan(&e.ID, &e.RequestID, &e.DeviceID, &e.Address, &e.Command, &level,
			&requester, &e.State, &message, &iface, &e.TimedOut, &e.LatencyMS,
			&createdAt, &finalizedAt); err != nil {
			return nil, fmt.Errorf("scanning command log entry: %w", err)
		}

		if level.Valid {
			v := level.Float64
			e.Level = &v
		}
		e.Requester = requester.String
		e.Message = message.String
		e.Interface = iface.String

		if e.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
			return nil, fmt.Errorf("parsing command log timestamp %q: %w", createdAt, err)
		}
		if e.FinalizedAt, err = time.Parse(timeFormat, finalizedAt); err != nil {
			return nil, fmt.Errorf("parsing command log timestamp %q: %w", finalizedAt, err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating command log: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// Prune deletes entries finalized more than olderThan ago.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timeFormat)
	result, err := r.db.ExecContext(ctx, "DELETE FROM command_log WHERE finalized_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting command log entries: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
