package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// ListByTenant retrieves all devices belonging to a tenant community.
	ListByTenant(ctx context.Context, tenantID string) ([]Device, error)

	// ListActive retrieves all devices that are not decommissioned.
	// Used on reconnect to request a status refresh from the fleet.
	ListActive(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// UpdateStatus updates the status and last-seen timestamp of a device.
	// This is optimised for frequent liveness changes from the gateway.
	UpdateStatus(ctx context.Context, id string, status Status, lastSeen time.Time) error

	// UpdateFirmware records the firmware version reported by a device.
	UpdateFirmware(ctx context.Context, id string, version string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, tenant_id, name, type, status, last_seen,
	firmware_version, network_address, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	return r.queryDevices(ctx, query)
}

// ListByTenant retrieves all devices belonging to a tenant community.
func (r *SQLiteRepository) ListByTenant(ctx context.Context, tenantID string) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE tenant_id = ? ORDER BY name`
	return r.queryDevices(ctx, query, tenantID)
}

// ListActive retrieves all devices that are not decommissioned.
func (r *SQLiteRepository) ListActive(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE status != ? ORDER BY name`
	return r.queryDevices(ctx, query, string(StatusDecommissioned))
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if !device.Type.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidType, device.Type)
	}
	if device.Status == "" {
		device.Status = StatusOffline
	}
	if !device.Status.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, device.Status)
	}

	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, tenant_id, name, type, status, last_seen,
			firmware_version, network_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID, device.TenantID, device.Name, string(device.Type),
		string(device.Status), nullableTime(device.LastSeen),
		nullableString(device.FirmwareVersion), nullableString(device.NetworkAddress),
		device.CreatedAt.Format(time.RFC3339), device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// UpdateStatus updates the status and last-seen timestamp of a device.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status, lastSeen time.Time) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET status = ?, last_seen = ?, updated_at = ?
		WHERE id = ?`,
		string(status),
		lastSeen.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device status: %w", err)
	}
	return requireRowAffected(result)
}

// UpdateFirmware records the firmware version reported by a device.
func (r *SQLiteRepository) UpdateFirmware(ctx context.Context, id string, version string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET firmware_version = ?, updated_at = ?
		WHERE id = ?`,
		version,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device firmware: %w", err)
	}
	return requireRowAffected(result)
}

// queryDevices runs a multi-row device query and scans the results.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
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

// scanner abstracts sql.Row and sql.Rows for scanDevice.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a single device row.
func scanDevice(row scanner) (*Device, error) {
	var (
		d               Device
		typ, status     string
		lastSeen        sql.NullString
		firmware, addr  sql.NullString
		created, update string
	)

	err := row.Scan(&d.ID, &d.TenantID, &d.Name, &typ, &status, &lastSeen,
		&firmware, &addr, &created, &update)
	if err != nil {
		return nil, err
	}

	d.Type = DeviceType(typ)
	d.Status = Status(status)
	d.FirmwareVersion = firmware.String
	d.NetworkAddress = addr.String

	if lastSeen.Valid {
		if t, err := time.Parse(time.RFC3339, lastSeen.String); err == nil {
			d.LastSeen = &t
		}
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, created) //nolint:errcheck // Format is controlled
	d.UpdatedAt, _ = time.Parse(time.RFC3339, update)  //nolint:errcheck // Format is controlled

	return &d, nil
}

// requireRowAffected converts a zero-row update into ErrDeviceNotFound.
func requireRowAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullableString returns nil for empty strings, for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableTime returns nil for nil times, for nullable TEXT columns.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
