package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines persistence for telemetry snapshots.
type Repository interface {
	// Upsert overwrites the snapshot for a device, inserting if absent.
	Upsert(ctx context.Context, snapshot *Snapshot) error

	// GetByDevice retrieves the latest snapshot for a device.
	// Returns ErrSnapshotNotFound if the device has never reported.
	GetByDevice(ctx context.Context, deviceID string) (*Snapshot, error)

	// ListByTenant retrieves all snapshots for a tenant community.
	ListByTenant(ctx context.Context, tenantID string) ([]Snapshot, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const snapshotColumns = `device_id, tenant_id, cpu_usage, memory_usage, disk_usage,
	temperature, uptime_hours, signal_strength, battery_level, last_heartbeat, updated_at`

// Upsert overwrites the snapshot for a device.
func (r *SQLiteRepository) Upsert(ctx context.Context, snapshot *Snapshot) error {
	if snapshot.LastHeartbeat.IsZero() {
		snapshot.LastHeartbeat = time.Now().UTC()
	}
	snapshot.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telemetry_snapshots (device_id, tenant_id, cpu_usage,
			memory_usage, disk_usage, temperature, uptime_hours,
			signal_strength, battery_level, last_heartbeat, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			cpu_usage = excluded.cpu_usage,
			memory_usage = excluded.memory_usage,
			disk_usage = excluded.disk_usage,
			temperature = excluded.temperature,
			uptime_hours = excluded.uptime_hours,
			signal_strength = excluded.signal_strength,
			battery_level = excluded.battery_level,
			last_heartbeat = excluded.last_heartbeat,
			updated_at = excluded.updated_at`,
		snapshot.DeviceID, snapshot.TenantID,
		snapshot.CPUUsage, snapshot.MemoryUsage, snapshot.DiskUsage,
		snapshot.Temperature, snapshot.UptimeHours, snapshot.SignalStrength,
		snapshot.BatteryLevel,
		snapshot.LastHeartbeat.UTC().Format(time.RFC3339),
		snapshot.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting telemetry snapshot: %w", err)
	}
	return nil
}

// GetByDevice retrieves the latest snapshot for a device.
func (r *SQLiteRepository) GetByDevice(ctx context.Context, deviceID string) (*Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM telemetry_snapshots WHERE device_id = ?`

	row := r.db.QueryRowContext(ctx, query, deviceID)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("querying telemetry snapshot: %w", err)
	}
	return snapshot, nil
}

// ListByTenant retrieves all snapshots for a tenant community.
func (r *SQLiteRepository) ListByTenant(ctx context.Context, tenantID string) ([]Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM telemetry_snapshots
		WHERE tenant_id = ? ORDER BY device_id`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning telemetry snapshot: %w", err)
		}
		snapshots = append(snapshots, *snapshot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry snapshots: %w", err)
	}
	return snapshots, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (*Snapshot, error) {
	var (
		s                   Snapshot
		cpu, mem, disk      sql.NullFloat64
		temp, uptime        sql.NullFloat64
		signal, battery     sql.NullFloat64
		heartbeat, updated  string
	)

	err := row.Scan(&s.DeviceID, &s.TenantID, &cpu, &mem, &disk,
		&temp, &uptime, &signal, &battery, &heartbeat, &updated)
	if err != nil {
		return nil, err
	}

	assign := func(dst **float64, src sql.NullFloat64) {
		if src.Valid {
			v := src.Float64
			*dst = &v
		}
	}
	assign(&s.CPUUsage, cpu)
	assign(&s.MemoryUsage, mem)
	assign(&s.DiskUsage, disk)
	assign(&s.Temperature, temp)
	assign(&s.UptimeHours, uptime)
	assign(&s.SignalStrength, signal)
	assign(&s.BatteryLevel, battery)

	s.LastHeartbeat, _ = time.Parse(time.RFC3339, heartbeat) //nolint:errcheck // Format is controlled
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updated)       //nolint:errcheck // Format is controlled

	return &s, nil
}
