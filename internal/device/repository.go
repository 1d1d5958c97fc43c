package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByAddress retrieves a device by its canonical Insteon address.
	// Returns ErrDeviceNotFound if no device has the address.
	GetByAddress(ctx context.Context, address string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByGateway retrieves the devices owned by a gateway.
	ListByGateway(ctx context.Context, gatewayID string) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if the ID, slug or address is taken.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState merges state fields into the stored state.
	// This is optimised for frequent state changes from the bridge.
	UpdateState(ctx context.Context, id string, state State) error
}

const deviceColumns = `id, name, slug, type, address, gateway_id, state, state_updated_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// GetByAddress retrieves a device by address. The address is normalised
// before the lookup.
func (r *SQLiteRepository) GetByAddress(ctx context.Context, address string) (*Device, error) {
	normalized, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+deviceColumns+` FROM devices WHERE address = ?`, normalized)
	device, err := scanDeviceRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by address: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices ORDER BY name`)
}

// ListByGateway retrieves the devices owned by a gateway.
func (r *SQLiteRepository) ListByGateway(ctx context.Context, gatewayID string) ([]Device, error) {
	return r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE gateway_id = ? ORDER BY name`, gatewayID)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	stateJSON, err := marshalState(device.State)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID,
		device.Name,
		device.Slug,
		device.Type,
		device.Address,
		device.GatewayID,
		stateJSON,
		nullableTime(device.StateUpdatedAt),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	stateJSON, err := marshalState(device.State)
	if err != nil {
		return err
	}

	device.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, slug = ?, type = ?, address = ?, gateway_id = ?,
			state = ?, state_updated_at = ?, updated_at = ?
		WHERE id = ?`,
		device.Name,
		device.Slug,
		device.Type,
		device.Address,
		device.GatewayID,
		stateJSON,
		nullableTime(device.StateUpdatedAt),
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("updating device: %w", err)
	}

	return requireAffected(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireAffected(result)
}

// UpdateState merges the given state fields into the device's existing state.
// This allows partial updates (e.g., updating "on" without losing "level").
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State) error {
	stateJSON, err := marshalState(state)
	if err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	// json_patch keeps existing keys that are not present in the patch.
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET state = json_patch(COALESCE(state, '{}'), ?),
		    state_updated_at = ?,
		    updated_at = ?
		WHERE id = ?`,
		stateJSON, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}

	return requireAffected(result)
}

func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeviceRow(scanner rowScanner) (*Device, error) {
	var d Device
	var stateJSON, createdAt, updatedAt string
	var stateUpdatedAt sql.NullString

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Slug,
		&d.Type,
		&d.Address,
		&d.GatewayID,
		&stateJSON,
		&stateUpdatedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if stateUpdatedAt.Valid {
		if t, err := time.Parse(time.RFC3339, stateUpdatedAt.String); err == nil {
			d.StateUpdatedAt = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(stateJSON), &d.State); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}

	return &d, nil
}

func marshalState(state State) (string, error) {
	if state == nil {
		return "{}", nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshalling state: %w", err)
	}
	return string(data), nil
}

func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// isUniqueConstraintError reports a SQLite unique or primary key violation.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
